package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"panelboard/internal/auth"
	"panelboard/internal/config"
	"panelboard/internal/ratelimit"
	"panelboard/internal/search"
	"panelboard/internal/store"
	"panelboard/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	AccountID    string
	Handle       string
	AvatarURL    string
	IsCreator    bool
	JTI          string
	ExpiresAt    time.Time
}

type ProfilePatch struct {
	Username  *string `json:"username"`
	Bio       *string `json:"bio"`
	AvatarURL *string `json:"avatarUrl"`
}

type dataStore interface {
	EnsureAccountByProvider(ctx context.Context, id, provider, providerID, handle, avatarURL string, at time.Time) (store.Account, error)
	GetAccount(ctx context.Context, id string) (store.Account, error)
	GetAccounts(ctx context.Context, ids []string) (map[string]store.Account, error)
	HandleTaken(ctx context.Context, handle, excludeID string) (bool, error)
	UpdateAccountProfile(ctx context.Context, id string, handle, bio, avatarURL *string, at time.Time) (store.Account, error)
	TouchAccount(ctx context.Context, id string, at time.Time) error
	ListCreators(ctx context.Context) ([]store.Account, error)
	SetCreatorFlag(ctx context.Context, id string) error

	InsertSeries(ctx context.Context, sr store.Series) error
	GetSeries(ctx context.Context, id string) (store.Series, error)
	UpdateSeries(ctx context.Context, sr store.Series) error
	ListSeries(ctx context.Context) ([]store.Series, error)
	ListSeriesByCreator(ctx context.Context, creatorID string) ([]store.Series, error)

	InsertChapter(ctx context.Context, c store.Chapter) error
	GetChapter(ctx context.Context, id string) (store.Chapter, error)
	ListChaptersBySeries(ctx context.Context, seriesID string) ([]store.Chapter, error)
	ListChaptersByCreator(ctx context.Context, creatorID, status string) ([]store.Chapter, error)
	ListPublishedChapters(ctx context.Context) ([]store.Chapter, error)
	AppendPage(ctx context.Context, chapterID, pageID, imageRef string, maxPages int, at time.Time) (store.Page, bool, error)
	ListPages(ctx context.Context, chapterID string) ([]store.Page, error)
	ReorderPages(ctx context.Context, chapterID string, orderedIDs []string, at time.Time) (bool, error)
	PublishChapter(ctx context.Context, chapterID string, at time.Time) (bool, error)
	UnpublishChapter(ctx context.Context, chapterID string, at time.Time) (bool, error)
	ChapterHasEngagement(ctx context.Context, chapterID string) (bool, error)
	ReplacePageImage(ctx context.Context, chapterID string, pageNumber int, imageRef string, at time.Time) (store.Page, bool, error)
	IncrementChapterViews(ctx context.Context, chapterID string) error

	InsertComment(ctx context.Context, c store.Comment) (bool, error)
	GetComment(ctx context.Context, id string) (store.Comment, error)
	ListPageComments(ctx context.Context, chapterID string, pageNumber int) ([]store.Comment, error)
	SoftDeleteComment(ctx context.Context, commentID string) (bool, error)
	SetCommentPinned(ctx context.Context, commentID string, pinned bool) (bool, error)
	ApplyCommentVote(ctx context.Context, voteID, commentID, voterID string, value int, at time.Time) (store.Comment, bool, error)

	InsertReaction(ctx context.Context, r store.Reaction) (bool, error)
	ListPageReactions(ctx context.Context, chapterID string, pageNumber int) ([]store.Reaction, error)

	InsertFollow(ctx context.Context, f store.Follow) (bool, error)
	DeleteFollow(ctx context.Context, followerID, creatorID string) error
	IsFollowing(ctx context.Context, followerID, creatorID string) (bool, error)
	FollowerCount(ctx context.Context, creatorID string) (int, error)
	FollowerCounts(ctx context.Context) (map[string]int, error)
	ListFollowerIDs(ctx context.Context, creatorID string) ([]string, error)

	InsertNotification(ctx context.Context, n store.Notification) error
	InsertNotifications(ctx context.Context, notifications []store.Notification) error
	ListNotifications(ctx context.Context, accountID string) ([]store.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, accountID string) (int, error)

	InsertReport(ctx context.Context, r store.Report) error

	GetRankingRollup(ctx context.Context, period, rankingType string) (*store.RankingRollup, error)
	SaveRankingRollup(ctx context.Context, rollup store.RankingRollup) error
	CreatorEngagementStats(ctx context.Context, creatorID string) (store.CreatorStats, error)

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, accountID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	limiter  *ratelimit.Limiter
	search   *search.Service
	now      func() time.Time
}

func New(cfg config.Config, dataStore dataStore, sessions sessionStore, limiter *ratelimit.Limiter, searchSvc *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		limiter:  limiter,
		search:   searchSvc,
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := s.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	return nil
}

// resolveActor is the authorization guard every mutation runs first. An
// unknown actor reads as unauthenticated, never as not-found, so callers
// cannot probe account existence.
func (s *Service) resolveActor(ctx context.Context, actorID string) (store.Account, error) {
	if actorID == "" {
		return store.Account{}, errUnauthenticated()
	}
	account, err := s.store.GetAccount(ctx, actorID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Account{}, errUnauthenticated()
	}
	if err != nil {
		return store.Account{}, err
	}
	if account.IsSuspended {
		return store.Account{}, errSuspended()
	}
	return account, nil
}

// LoginWithProvider consumes an already-verified external identity and
// creates or fetches the matching account.
func (s *Service) LoginWithProvider(ctx context.Context, provider, providerID, handle, avatarURL string) (Session, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		handle = provider + "_reader"
	}
	candidate, err := s.availableHandle(ctx, handle)
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	account, err := s.store.EnsureAccountByProvider(ctx, util.NewID("acc"), provider, providerID, candidate, avatarURL, now)
	if err != nil {
		return Session{}, err
	}
	if account.IsSuspended {
		return Session{}, errSuspended()
	}
	if err := s.store.TouchAccount(ctx, account.ID, now); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, account)
}

func (s *Service) availableHandle(ctx context.Context, handle string) (string, error) {
	candidate := handle
	for i := 2; ; i++ {
		taken, err := s.store.HandleTaken(ctx, candidate, "")
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", handle, i)
	}
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	accountID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return Session{}, err
	}
	if account.IsSuspended {
		return Session{}, errSuspended()
	}
	return s.issueSession(ctx, account)
}

func (s *Service) issueSession(ctx context.Context, account store.Account) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:       account.ID,
		Handle:    account.Handle,
		IsCreator: account.IsCreator,
		JTI:       jti,
		Exp:       expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), account.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		AccountID:    account.ID,
		Handle:       account.Handle,
		AvatarURL:    account.AvatarURL,
		IsCreator:    account.IsCreator,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	account, err := s.store.GetAccount(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if account.IsSuspended {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		AccountID: account.ID,
		Handle:    account.Handle,
		AvatarURL: account.AvatarURL,
		IsCreator: account.IsCreator,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) Account(ctx context.Context, accountID string) (store.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

func (s *Service) UpdateProfile(ctx context.Context, actorID string, patch ProfilePatch) (store.Account, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return store.Account{}, err
	}

	var handle *string
	if patch.Username != nil {
		trimmed := strings.TrimSpace(*patch.Username)
		if trimmed != "" {
			taken, err := s.store.HandleTaken(ctx, trimmed, actor.ID)
			if err != nil {
				return store.Account{}, err
			}
			if taken {
				return store.Account{}, errValidation("Username is already taken.")
			}
			handle = &trimmed
		}
	}
	var bio *string
	if patch.Bio != nil {
		trimmed := strings.TrimSpace(*patch.Bio)
		bio = &trimmed
	}
	var avatarURL *string
	if patch.AvatarURL != nil {
		trimmed := strings.TrimSpace(*patch.AvatarURL)
		if trimmed != "" {
			avatarURL = &trimmed
		}
	}

	return s.store.UpdateAccountProfile(ctx, actor.ID, handle, bio, avatarURL, s.now())
}

func (s *Service) FollowCreator(ctx context.Context, actorID, creatorID string) error {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.ID == creatorID {
		return errValidation("You cannot follow yourself.")
	}
	creator, err := s.store.GetAccount(ctx, creatorID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !creator.IsCreator) {
		return errNotFound("Creator not found.")
	}
	if err != nil {
		return err
	}
	// Already following is a silent no-op.
	_, err = s.store.InsertFollow(ctx, store.Follow{
		ID:         util.NewID("fl"),
		FollowerID: actor.ID,
		CreatorID:  creatorID,
		CreatedAt:  s.now(),
	})
	return err
}

func (s *Service) UnfollowCreator(ctx context.Context, actorID, creatorID string) error {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return err
	}
	return s.store.DeleteFollow(ctx, actor.ID, creatorID)
}

func (s *Service) IsFollowing(ctx context.Context, followerID, creatorID string) (bool, error) {
	if followerID == "" {
		return false, nil
	}
	return s.store.IsFollowing(ctx, followerID, creatorID)
}

func (s *Service) Notifications(ctx context.Context, actorID string) ([]store.Notification, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return s.store.ListNotifications(ctx, actor.ID)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, actorID string) (int, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return 0, err
	}
	return s.store.MarkAllNotificationsRead(ctx, actor.ID)
}

func (s *Service) ReportTarget(ctx context.Context, actorID, targetType, targetID, reason, details string) (store.Report, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return store.Report{}, err
	}
	report := store.Report{
		ID:         util.NewID("rep"),
		ReporterID: actor.ID,
		TargetType: targetType,
		TargetID:   targetID,
		Reason:     reason,
		Details:    details,
		Status:     "OPEN",
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertReport(ctx, report); err != nil {
		return store.Report{}, err
	}
	return report, nil
}
