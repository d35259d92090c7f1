package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"panelboard/internal/ratelimit"
	"panelboard/internal/store"
	"panelboard/internal/util"
)

const (
	commentMaxLength  = 140
	collapseThreshold = -5
	maxEmojiLength    = 8

	overlayCommentLimit  = 12
	overlayReactionLimit = 24
	activeReactorWindow  = 30 * time.Second
)

type PageThread struct {
	Comments          []store.Comment            `json:"comments"`
	RepliesByParentID map[string][]store.Comment `json:"repliesByParentId"`
}

type OverlayStream struct {
	Comments         []store.Comment  `json:"comments"`
	Reactions        []store.Reaction `json:"reactions"`
	ReactingNowCount int              `json:"reactingNowCount"`
}

// IsCollapsed is a derived predicate, never stored: a comment sinks behind a
// reveal action whenever its live score is at or below the threshold, and
// resurfaces as soon as votes lift it back.
func IsCollapsed(c store.Comment) bool {
	return c.Score <= collapseThreshold
}

func (s *Service) AddComment(ctx context.Context, actorID, chapterID string, pageNumber int, body string, parentID *string) (store.Comment, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return store.Comment{}, err
	}

	chapter, err := s.store.GetChapter(ctx, chapterID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && chapter.Status != "PUBLISHED") {
		return store.Comment{}, errWrongState("Comments are allowed only on published chapters.")
	}
	if err != nil {
		return store.Comment{}, err
	}

	now := s.now()
	if wait, ok := s.limiter.CheckComment(actor.ID, now); !ok {
		return store.Comment{}, errRateLimited(
			fmt.Sprintf("Comment rate limit: one every %d seconds.", int(ratelimit.CommentCooldown/time.Second)),
			map[string]any{"retryAfterMs": wait.Milliseconds()})
	}

	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return store.Comment{}, errValidation("Comment cannot be empty.")
	}
	if utf8.RuneCountInString(trimmed) > commentMaxLength {
		return store.Comment{}, errValidation(fmt.Sprintf("Comment max length is %d characters.", commentMaxLength))
	}

	var parent *store.Comment
	if parentID != nil {
		p, err := s.store.GetComment(ctx, *parentID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, errNotFound("Comment not found.")
		}
		if err != nil {
			return store.Comment{}, err
		}
		if p.IsDeleted {
			return store.Comment{}, errNotFound("Comment not found.")
		}
		if p.ChapterID != chapterID {
			return store.Comment{}, errValidation("Replies must stay on the parent comment's chapter.")
		}
		if p.ParentID != nil {
			return store.Comment{}, errValidation("Replies to replies are not supported.")
		}
		parent = &p
	}

	comment := store.Comment{
		ID:         util.NewID("cm"),
		ChapterID:  chapterID,
		SeriesID:   chapter.SeriesID,
		PageNumber: pageNumber,
		AuthorID:   actor.ID,
		ParentID:   parentID,
		Body:       trimmed,
		CreatedAt:  now,
	}
	inserted, err := s.store.InsertComment(ctx, comment)
	if err != nil {
		return store.Comment{}, err
	}
	if !inserted {
		return store.Comment{}, errWrongState("Comments are allowed only on published chapters.")
	}
	s.limiter.CommitComment(actor.ID, now)

	if parent != nil && parent.AuthorID != actor.ID {
		if err := s.store.InsertNotification(ctx, store.Notification{
			ID:        util.NewID("ntf"),
			AccountID: parent.AuthorID,
			Type:      "REPLY",
			Payload: map[string]any{
				"chapterId":  chapterID,
				"pageNumber": pageNumber,
				"commentId":  comment.ID,
			},
			CreatedAt: now,
		}); err != nil {
			return store.Comment{}, err
		}
	}
	return comment, nil
}

func (s *Service) VoteComment(ctx context.Context, actorID, commentID string, value int) (store.Comment, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return store.Comment{}, err
	}
	if value != 1 && value != -1 {
		return store.Comment{}, errValidation("Vote value must be 1 or -1.")
	}

	now := s.now()
	if wait, daily, ok := s.limiter.CheckVote(actor.ID, now); !ok {
		message := "Vote rate limit reached for this minute."
		if daily {
			message = "Daily vote limit reached."
		}
		return store.Comment{}, errRateLimited(message, map[string]any{"retryAfterMs": wait.Milliseconds()})
	}

	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && comment.IsDeleted) {
		return store.Comment{}, errNotFound("Comment not found.")
	}
	if err != nil {
		return store.Comment{}, err
	}

	chapter, err := s.store.GetChapter(ctx, comment.ChapterID)
	if err != nil {
		return store.Comment{}, err
	}
	if chapter.Status != "PUBLISHED" {
		return store.Comment{}, errWrongState("Votes are allowed only on published chapters.")
	}

	updated, changed, err := s.store.ApplyCommentVote(ctx, util.NewID("cv"), commentID, actor.ID, value, now)
	if err != nil {
		return store.Comment{}, err
	}
	// Re-submitting the same value is a pure no-op and consumes no vote budget.
	if changed {
		s.limiter.CommitVote(actor.ID, now)
	}
	return updated, nil
}

// SoftDeleteComment retains the record; deleted comments disappear from
// threads but keep blocking unpublish.
func (s *Service) SoftDeleteComment(ctx context.Context, actorID, commentID string) error {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return err
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Comment not found.")
	}
	if err != nil {
		return err
	}
	chapter, err := s.store.GetChapter(ctx, comment.ChapterID)
	if err != nil {
		return err
	}
	if comment.AuthorID != actor.ID && chapter.CreatorID != actor.ID {
		return errNotOwner("You cannot delete this comment.")
	}
	_, err = s.store.SoftDeleteComment(ctx, commentID)
	return err
}

func (s *Service) SetCommentPinned(ctx context.Context, actorID, commentID string, pinned bool) (store.Comment, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return store.Comment{}, err
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && comment.IsDeleted) {
		return store.Comment{}, errNotFound("Comment not found.")
	}
	if err != nil {
		return store.Comment{}, err
	}
	chapter, err := s.store.GetChapter(ctx, comment.ChapterID)
	if err != nil {
		return store.Comment{}, err
	}
	if chapter.CreatorID != actor.ID {
		return store.Comment{}, errNotOwner("Only the chapter creator can pin comments.")
	}
	if _, err := s.store.SetCommentPinned(ctx, commentID, pinned); err != nil {
		return store.Comment{}, err
	}
	return s.store.GetComment(ctx, commentID)
}

func (s *Service) AddReaction(ctx context.Context, actorID, chapterID string, pageNumber int, emoji string) (store.Reaction, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return store.Reaction{}, err
	}

	chapter, err := s.store.GetChapter(ctx, chapterID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && chapter.Status != "PUBLISHED") {
		return store.Reaction{}, errWrongState("Reactions are allowed only on published chapters.")
	}
	if err != nil {
		return store.Reaction{}, err
	}

	now := s.now()
	if wait, ok := s.limiter.CheckReaction(actor.ID, now); !ok {
		return store.Reaction{}, errRateLimited(
			fmt.Sprintf("Reaction throttle: one every %d second.", int(ratelimit.ReactionCooldown/time.Second)),
			map[string]any{"retryAfterMs": wait.Milliseconds()})
	}

	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLength {
		return store.Reaction{}, errValidation("Invalid reaction emoji.")
	}

	reaction := store.Reaction{
		ID:         util.NewID("rx"),
		ChapterID:  chapterID,
		SeriesID:   chapter.SeriesID,
		PageNumber: pageNumber,
		AccountID:  actor.ID,
		Emoji:      emoji,
		CreatedAt:  now,
	}
	inserted, err := s.store.InsertReaction(ctx, reaction)
	if err != nil {
		return store.Reaction{}, err
	}
	if !inserted {
		return store.Reaction{}, errWrongState("Reactions are allowed only on published chapters.")
	}
	s.limiter.CommitReaction(actor.ID, now)
	return reaction, nil
}

// PageThread returns the page's top-level comments in the requested sort plus
// every reply grouped under its parent, oldest reply first. Deleted top-level
// comments are dropped; their replies still render under the parent id.
func (s *Service) PageThread(ctx context.Context, chapterID string, pageNumber int, sortMode string) (PageThread, error) {
	comments, err := s.store.ListPageComments(ctx, chapterID, pageNumber)
	if err != nil {
		return PageThread{}, err
	}

	topLevel := make([]store.Comment, 0, len(comments))
	replies := make(map[string][]store.Comment)
	for _, c := range comments {
		if c.ParentID != nil {
			replies[*c.ParentID] = append(replies[*c.ParentID], c)
			continue
		}
		if !c.IsDeleted {
			topLevel = append(topLevel, c)
		}
	}

	if sortMode == "NEW" {
		sort.SliceStable(topLevel, func(i, j int) bool {
			return topLevel[i].CreatedAt.After(topLevel[j].CreatedAt)
		})
	} else {
		sort.SliceStable(topLevel, func(i, j int) bool {
			a, b := topLevel[i], topLevel[j]
			if a.IsPinned != b.IsPinned {
				return a.IsPinned
			}
			if a.Score != b.Score {
				return a.Score > b.Score
			}
			return a.CreatedAt.After(b.CreatedAt)
		})
	}
	for _, group := range replies {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
	}

	return PageThread{Comments: topLevel, RepliesByParentID: replies}, nil
}

// OverlayStream is the live-overlay snapshot: newest comments and reactions,
// bounded, plus how many distinct accounts reacted in the last 30 seconds.
// Dedup against previously surfaced items is the caller's job.
func (s *Service) OverlayStream(ctx context.Context, chapterID string, pageNumber int) (OverlayStream, error) {
	comments, err := s.store.ListPageComments(ctx, chapterID, pageNumber)
	if err != nil {
		return OverlayStream{}, err
	}
	visible := make([]store.Comment, 0, len(comments))
	for _, c := range comments {
		if !c.IsDeleted {
			visible = append(visible, c)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].CreatedAt.After(visible[j].CreatedAt)
	})
	if len(visible) > overlayCommentLimit {
		visible = visible[:overlayCommentLimit]
	}

	reactions, err := s.store.ListPageReactions(ctx, chapterID, pageNumber)
	if err != nil {
		return OverlayStream{}, err
	}
	if len(reactions) > overlayReactionLimit {
		reactions = reactions[:overlayReactionLimit]
	}

	cutoff := s.now().Add(-activeReactorWindow)
	reactors := make(map[string]struct{})
	for _, r := range reactions {
		if r.CreatedAt.After(cutoff) {
			reactors[r.AccountID] = struct{}{}
		}
	}

	return OverlayStream{
		Comments:         visible,
		Reactions:        reactions,
		ReactingNowCount: len(reactors),
	}, nil
}
