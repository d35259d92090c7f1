package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"panelboard/internal/assets"
	"panelboard/internal/auth"
	"panelboard/internal/store"
	"panelboard/internal/util"
)

type HTTPServer struct {
	service    *Service
	assets     *assets.Service
	corsOrigin string
	syncToken  string
}

func NewHTTPServer(service *Service, assetSvc *assets.Service, corsOrigin, syncToken string) *HTTPServer {
	return &HTTPServer{service: service, assets: assetSvc, corsOrigin: corsOrigin, syncToken: syncToken}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// actorID pulls the account id out of the bearer token without touching the
// store; the service guard decides whether that identity may act.
func (s *HTTPServer) actorID(r *http.Request) string {
	token := bearerToken(r)
	if token == "" {
		return ""
	}
	claims, err := auth.ParseToken([]byte(s.service.cfg.TokenSecret), token)
	if err != nil {
		return ""
	}
	return claims.Sub
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		s.handleRefresh(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeFailure(w, errValidation(err.Error()))
			return
		}
		if err := s.service.Logout(r.Context(), body.RefreshToken); err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, nil)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		s.handleSession(w, r)
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/profile" {
		var patch ProfilePatch
		if err := decodeBody(r, &patch); err != nil {
			writeFailure(w, errValidation(err.Error()))
			return
		}
		account, err := s.service.UpdateProfile(r.Context(), s.actorID(r), patch)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, accountView(account))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notifications" {
		notifications, err := s.service.Notifications(r.Context(), s.actorID(r))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, notifications)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/notifications/read-all" {
		updated, err := s.service.MarkAllNotificationsRead(r.Context(), s.actorID(r))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, map[string]any{"updated": updated})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/reports" {
		var body struct {
			TargetType string `json:"targetType"`
			TargetID   string `json:"targetId"`
			Reason     string `json:"reason"`
			Details    string `json:"details"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeFailure(w, errValidation(err.Error()))
			return
		}
		report, err := s.service.ReportTarget(r.Context(), s.actorID(r), body.TargetType, body.TargetID, body.Reason, body.Details)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusCreated, report)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/feed" {
		items, err := s.service.HomeFeed(r.Context(), r.URL.Query().Get("type"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/discovery/search" {
		var tags []string
		if raw := r.URL.Query().Get("tags"); raw != "" {
			tags = strings.Split(raw, ",")
		}
		items, err := s.service.SearchDiscovery(r.Context(), r.URL.Query().Get("q"), tags)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/api/rankings" {
		rows, err := s.service.Rankings(r.Context(), r.URL.Query().Get("period"), r.URL.Query().Get("type"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/internal/rollups/refresh" {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Sync-Token")), []byte(s.syncToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid sync token", nil)
			return
		}
		if err := s.service.RefreshRankingRollups(r.Context()); err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, nil)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/uploads" {
		s.handleUpload(w, r)
		return
	}

	segments := splitPath(r.URL.Path)
	if len(segments) >= 2 && segments[0] == "api" {
		switch segments[1] {
		case "series":
			s.handleSeries(w, r, segments[2:])
			return
		case "chapters":
			s.handleChapters(w, r, segments[2:])
			return
		case "comments":
			s.handleComments(w, r, segments[2:])
			return
		case "creators":
			s.handleCreators(w, r, segments[2:])
			return
		case "me":
			s.handleMe(w, r, segments[2:])
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider   string `json:"provider"`
		ProviderID string `json:"providerId"`
		Username   string `json:"username"`
		AvatarURL  string `json:"avatarUrl"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeFailure(w, errValidation(err.Error()))
		return
	}
	if body.Provider == "" || body.ProviderID == "" {
		writeFailure(w, errValidation("Provider identity is required."))
		return
	}
	session, err := s.service.LoginWithProvider(r.Context(), body.Provider, body.ProviderID, body.Username, body.AvatarURL)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusOK, sessionView(session))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeFailure(w, errValidation(err.Error()))
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Refresh token invalid", nil)
			return
		}
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusOK, sessionView(session))
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"accountId":     session.AccountID,
		"handle":        session.Handle,
		"avatarUrl":     session.AvatarURL,
		"isCreator":     session.IsCreator,
	})
}

func (s *HTTPServer) handleSeries(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		series, err := s.service.ListSeries(r.Context())
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, series)

	case len(rest) == 0 && r.Method == http.MethodPost:
		var input SeriesInput
		if err := decodeBody(r, &input); err != nil {
			writeFailure(w, errValidation(err.Error()))
			return
		}
		created, err := s.service.CreateSeries(r.Context(), s.actorID(r), input)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusCreated, created)

	case len(rest) == 1 && r.Method == http.MethodGet:
		series, creator, err := s.service.SeriesDetail(r.Context(), rest[0])
		if err != nil {
			writeFailure(w, err)
			return
		}
		view := map[string]any{"series": series}
		if creator != nil {
			view["creator"] = accountView(*creator)
		}
		writeJSON(w, http.StatusOK, view)

	case len(rest) == 1 && r.Method == http.MethodPut:
		var patch SeriesPatch
		if err := decodeBody(r, &patch); err != nil {
			writeFailure(w, errValidation(err.Error()))
			return
		}
		updated, err := s.service.UpdateSeries(r.Context(), s.actorID(r), rest[0], patch)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, updated)

	case len(rest) == 2 && rest[1] == "chapters" && r.Method == http.MethodGet:
		chapters, err := s.service.ChaptersBySeries(r.Context(), rest[0], s.actorID(r))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chapters)

	case len(rest) == 2 && rest[1] == "chapters" && r.Method == http.MethodPost:
		var input ChapterDraftInput
		if err := decodeBody(r, &input); err != nil {
			writeFailure(w, errValidation(err.Error()))
			return
		}
		draft, err := s.service.CreateChapterDraft(r.Context(), s.actorID(r), rest[0], input)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusCreated, draft)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleChapters(w http.ResponseWriter, r *http.Request, rest []string) {
	if len(rest) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	chapterID := rest[0]
	rest = rest[1:]

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		chapter, err := s.service.GetChapter(r.Context(), chapterID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chapter)

	case len(rest) == 1 && rest[0] == "pages" && r.Method == http.MethodGet:
		pages, err := s.service.ChapterPages(r.Context(), chapterID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pages)

	case len(rest) == 1 && rest[0] == "pages" && r.Method == http.MethodPost:
		var body struct {
			ImageRef string `json:"imageRef"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeFailure(w, errValidation(err.Error()))
			return
		}
		page, err := s.service.AddPageToDraft(r.Context(), s.actorID(r), chapterID, body.ImageRef)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusCreated, page)

	case len(rest) == 2 && rest[0] == "pages" && rest[1] == "order" && r.Method == http.MethodPut:
		var body struct {
			Order []string `json:"order"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeFailure(w, errValidation(err.Error()))
			return
		}
		pages, err := s.service.ReorderDraftPages(r.Context(), s.actorID(r), chapterID, body.Order)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, pages)

	case len(rest) == 1 && rest[0] == "publish" && r.Method == http.MethodPost:
		chapter, err := s.service.PublishChapter(r.Context(), s.actorID(r), chapterID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, chapter)

	case len(rest) == 1 && rest[0] == "unpublish" && r.Method == http.MethodPost:
		chapter, err := s.service.UnpublishChapter(r.Context(), s.actorID(r), chapterID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, chapter)

	case len(rest) == 1 && rest[0] == "view" && r.Method == http.MethodPost:
		if err := s.service.RecordChapterView(r.Context(), chapterID); err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, nil)

	case len(rest) == 3 && rest[0] == "pages" && rest[2] == "image" && r.Method == http.MethodPut:
		pageNumber, err := strconv.Atoi(rest[1])
		if err != nil {
			writeFailure(w, errValidation("Invalid page number."))
			return
		}
		var body struct {
			ImageRef string `json:"imageRef"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeFailure(w, errValidation(err.Error()))
			return
		}
		page, err := s.service.ReplacePublishedPageImage(r.Context(), s.actorID(r), chapterID, pageNumber, body.ImageRef)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, page)

	case len(rest) == 3 && rest[0] == "pages" && rest[2] == "thread" && r.Method == http.MethodGet:
		pageNumber, err := strconv.Atoi(rest[1])
		if err != nil {
			writeFailure(w, errValidation("Invalid page number."))
			return
		}
		thread, err := s.service.PageThread(r.Context(), chapterID, pageNumber, r.URL.Query().Get("sort"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, thread)

	case len(rest) == 3 && rest[0] == "pages" && rest[2] == "overlay" && r.Method == http.MethodGet:
		pageNumber, err := strconv.Atoi(rest[1])
		if err != nil {
			writeFailure(w, errValidation("Invalid page number."))
			return
		}
		stream, err := s.service.OverlayStream(r.Context(), chapterID, pageNumber)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stream)

	case len(rest) == 3 && rest[0] == "pages" && rest[2] == "comments" && r.Method == http.MethodPost:
		pageNumber, err := strconv.Atoi(rest[1])
		if err != nil {
			writeFailure(w, errValidation("Invalid page number."))
			return
		}
		var body struct {
			Body     string  `json:"body"`
			ParentID *string `json:"parentId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeFailure(w, errValidation(err.Error()))
			return
		}
		comment, err := s.service.AddComment(r.Context(), s.actorID(r), chapterID, pageNumber, body.Body, body.ParentID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusCreated, commentView(comment))

	case len(rest) == 3 && rest[0] == "pages" && rest[2] == "reactions" && r.Method == http.MethodPost:
		pageNumber, err := strconv.Atoi(rest[1])
		if err != nil {
			writeFailure(w, errValidation("Invalid page number."))
			return
		}
		var body struct {
			Emoji string `json:"emoji"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeFailure(w, errValidation(err.Error()))
			return
		}
		reaction, err := s.service.AddReaction(r.Context(), s.actorID(r), chapterID, pageNumber, body.Emoji)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusCreated, reaction)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, rest []string) {
	if len(rest) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	commentID := rest[0]
	rest = rest[1:]

	switch {
	case len(rest) == 1 && rest[0] == "vote" && r.Method == http.MethodPost:
		var body struct {
			Value int `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeFailure(w, errValidation(err.Error()))
			return
		}
		comment, err := s.service.VoteComment(r.Context(), s.actorID(r), commentID, body.Value)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, commentView(comment))

	case len(rest) == 0 && r.Method == http.MethodDelete:
		if err := s.service.SoftDeleteComment(r.Context(), s.actorID(r), commentID); err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, nil)

	case len(rest) == 1 && rest[0] == "pin" && r.Method == http.MethodPost:
		comment, err := s.service.SetCommentPinned(r.Context(), s.actorID(r), commentID, true)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, commentView(comment))

	case len(rest) == 1 && rest[0] == "pin" && r.Method == http.MethodDelete:
		comment, err := s.service.SetCommentPinned(r.Context(), s.actorID(r), commentID, false)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, commentView(comment))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCreators(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		creators, err := s.service.Creators(r.Context())
		if err != nil {
			writeFailure(w, err)
			return
		}
		views := make([]map[string]any, 0, len(creators))
		for _, creator := range creators {
			views = append(views, accountView(creator))
		}
		writeJSON(w, http.StatusOK, views)

	case len(rest) == 1 && r.Method == http.MethodGet:
		profile, err := s.service.CreatorProfile(r.Context(), rest[0])
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"account":       accountView(profile.Account),
			"followerCount": profile.FollowerCount,
			"series":        profile.Series,
			"stats":         profile.Stats,
		})

	case len(rest) == 2 && rest[1] == "series" && r.Method == http.MethodGet:
		series, err := s.service.SeriesByCreator(r.Context(), rest[0])
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, series)

	case len(rest) == 2 && rest[1] == "chapters" && r.Method == http.MethodGet:
		chapters, err := s.service.PublishedChapters(r.Context(), rest[0])
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chapters)

	case len(rest) == 2 && rest[1] == "follow" && r.Method == http.MethodPost:
		if err := s.service.FollowCreator(r.Context(), s.actorID(r), rest[0]); err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, nil)

	case len(rest) == 2 && rest[1] == "follow" && r.Method == http.MethodDelete:
		if err := s.service.UnfollowCreator(r.Context(), s.actorID(r), rest[0]); err != nil {
			writeFailure(w, err)
			return
		}
		writeResult(w, http.StatusOK, nil)

	case len(rest) == 2 && rest[1] == "follow" && r.Method == http.MethodGet:
		following, err := s.service.IsFollowing(r.Context(), s.actorID(r), rest[0])
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"following": following})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 1 && rest[0] == "drafts" && r.Method == http.MethodGet:
		drafts, err := s.service.DraftChapters(r.Context(), s.actorID(r))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, drafts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

const maxUploadBytes = 20 << 20

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.assets == nil {
		writeError(w, http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "Asset storage is not configured", nil)
		return
	}
	if s.actorID(r) == "" {
		writeFailure(w, errUnauthenticated())
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeFailure(w, errValidation("Invalid upload payload."))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeFailure(w, errValidation("Missing upload file."))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if len(data) > maxUploadBytes {
		writeFailure(w, errValidation("Upload exceeds the size limit."))
		return
	}

	key := "pages/" + util.NewID("img") + strings.ToLower(filepath.Ext(header.Filename))
	url, err := s.assets.Save(r.Context(), key, data, header.Header.Get("Content-Type"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusCreated, map[string]any{"url": url})
}

// accountView hides the external provider identity from API consumers.
func accountView(a store.Account) map[string]any {
	return map[string]any{
		"id":              a.ID,
		"handle":          a.Handle,
		"avatarUrl":       a.AvatarURL,
		"bio":             a.Bio,
		"isCreator":       a.IsCreator,
		"reputationScore": a.ReputationScore,
		"createdAt":       a.CreatedAt,
	}
}

// commentView blanks the body of soft-deleted comments and attaches the
// derived collapse flag.
func commentView(c store.Comment) map[string]any {
	body := c.Body
	if c.IsDeleted {
		body = ""
	}
	return map[string]any{
		"id":         c.ID,
		"chapterId":  c.ChapterID,
		"pageNumber": c.PageNumber,
		"authorId":   c.AuthorID,
		"parentId":   c.ParentID,
		"body":       body,
		"isDeleted":  c.IsDeleted,
		"isPinned":   c.IsPinned,
		"upvotes":    c.Upvotes,
		"downvotes":  c.Downvotes,
		"score":      c.Score,
		"collapsed":  IsCollapsed(c),
		"createdAt":  c.CreatedAt,
	}
}

func sessionView(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"accountId":    session.AccountID,
		"handle":       session.Handle,
		"avatarUrl":    session.AvatarURL,
		"isCreator":    session.IsCreator,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Sync-Token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeResult is the uniform mutation envelope: callers branch on ok before
// trusting data.
func writeResult(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"ok": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"ok":    false,
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeFailure(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHENTICATED", "Sign in required.", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
