package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"panelboard/internal/search"
	"panelboard/internal/store"
	"panelboard/internal/util"
)

const maxPagesPerChapter = 80

type SeriesInput struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags"`
	Language         string   `json:"language"`
	IsMature         bool     `json:"isMature"`
	ContentWarnings  []string `json:"contentWarnings"`
	CoverImageRef    string   `json:"coverImageRef"`
	ReadingMode      string   `json:"readingMode"`
	ReadingDirection *string  `json:"readingDirection"`
}

type SeriesPatch struct {
	Title            *string   `json:"title"`
	Description      *string   `json:"description"`
	Tags             *[]string `json:"tags"`
	Language         *string   `json:"language"`
	IsMature         *bool     `json:"isMature"`
	ContentWarnings  *[]string `json:"contentWarnings"`
	CoverImageRef    *string   `json:"coverImageRef"`
	ReadingMode      *string   `json:"readingMode"`
	ReadingDirection *string   `json:"readingDirection"`
}

type ChapterDraftInput struct {
	ChapterNumber int    `json:"chapterNumber"`
	Title         string `json:"title"`
	Notes         string `json:"notes"`
}

// A SCROLL series has no horizontal direction; paged modes require one.
func validReadingLayout(mode string, direction *string) bool {
	if mode == "SCROLL" {
		return direction == nil
	}
	return direction != nil
}

func (s *Service) CreateSeries(ctx context.Context, actorID string, input SeriesInput) (store.Series, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return store.Series{}, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Series{}, errValidation("Series title cannot be empty.")
	}
	if !validReadingLayout(input.ReadingMode, input.ReadingDirection) {
		return store.Series{}, errValidation("Reading direction must be set exactly when the reading mode is paged.")
	}

	now := s.now()
	warnings := make([]string, 0, len(input.ContentWarnings))
	for _, w := range input.ContentWarnings {
		if w != "" {
			warnings = append(warnings, w)
		}
	}
	coverRef := input.CoverImageRef
	if coverRef == "" {
		coverRef = "cover_" + util.NewID("ser")
	}
	created := store.Series{
		ID:               util.NewID("ser"),
		CreatorID:        actor.ID,
		Title:            title,
		Description:      strings.TrimSpace(input.Description),
		Tags:             input.Tags,
		Language:         input.Language,
		IsMature:         input.IsMature,
		ContentWarnings:  warnings,
		CoverImageRef:    coverRef,
		ReadingMode:      input.ReadingMode,
		ReadingDirection: input.ReadingDirection,
		Status:           "ACTIVE",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.InsertSeries(ctx, created); err != nil {
		return store.Series{}, err
	}
	if !actor.IsCreator {
		if err := s.store.SetCreatorFlag(ctx, actor.ID); err != nil {
			return store.Series{}, err
		}
	}
	s.indexSeries(created, actor.Handle)
	return created, nil
}

func (s *Service) UpdateSeries(ctx context.Context, actorID, seriesID string, patch SeriesPatch) (store.Series, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return store.Series{}, err
	}

	series, err := s.store.GetSeries(ctx, seriesID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Series{}, errNotFound("Series not found.")
	}
	if err != nil {
		return store.Series{}, err
	}
	if series.CreatorID != actor.ID {
		return store.Series{}, errNotOwner("You cannot edit this series.")
	}

	if patch.Title != nil {
		series.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		series.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Tags != nil {
		series.Tags = *patch.Tags
	}
	if patch.Language != nil {
		series.Language = *patch.Language
	}
	if patch.IsMature != nil {
		series.IsMature = *patch.IsMature
	}
	if patch.ContentWarnings != nil {
		series.ContentWarnings = *patch.ContentWarnings
	}
	if patch.CoverImageRef != nil {
		series.CoverImageRef = *patch.CoverImageRef
	}
	if patch.ReadingMode != nil {
		series.ReadingMode = *patch.ReadingMode
		series.ReadingDirection = patch.ReadingDirection
	} else if patch.ReadingDirection != nil {
		series.ReadingDirection = patch.ReadingDirection
	}
	if !validReadingLayout(series.ReadingMode, series.ReadingDirection) {
		return store.Series{}, errValidation("Reading direction must be set exactly when the reading mode is paged.")
	}

	series.UpdatedAt = s.now()
	if err := s.store.UpdateSeries(ctx, series); err != nil {
		return store.Series{}, err
	}
	s.indexSeries(series, actor.Handle)
	return series, nil
}

func (s *Service) indexSeries(series store.Series, creatorHandle string) {
	if s.search == nil {
		return
	}
	s.search.IndexSeries(search.SeriesRecord{
		ID:            series.ID,
		Title:         series.Title,
		CreatorID:     series.CreatorID,
		CreatorHandle: creatorHandle,
		Tags:          series.Tags,
		Language:      series.Language,
		IsMature:      series.IsMature,
	})
}

// ReindexCatalog pushes the whole series catalog into the search index.
// Called once at startup so the index survives a wiped search container.
func (s *Service) ReindexCatalog(ctx context.Context) error {
	if s.search == nil {
		return nil
	}
	allSeries, err := s.store.ListSeries(ctx)
	if err != nil {
		return err
	}
	creatorIDs := make([]string, 0, len(allSeries))
	seen := make(map[string]bool, len(allSeries))
	for _, series := range allSeries {
		if !seen[series.CreatorID] {
			seen[series.CreatorID] = true
			creatorIDs = append(creatorIDs, series.CreatorID)
		}
	}
	creators, err := s.store.GetAccounts(ctx, creatorIDs)
	if err != nil {
		return err
	}

	records := make([]search.SeriesRecord, 0, len(allSeries))
	for _, series := range allSeries {
		records = append(records, search.SeriesRecord{
			ID:            series.ID,
			Title:         series.Title,
			CreatorID:     series.CreatorID,
			CreatorHandle: creators[series.CreatorID].Handle,
			Tags:          series.Tags,
			Language:      series.Language,
			IsMature:      series.IsMature,
		})
	}
	s.search.ReindexAll(records)
	return nil
}

func (s *Service) CreateChapterDraft(ctx context.Context, actorID, seriesID string, input ChapterDraftInput) (store.Chapter, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return store.Chapter{}, err
	}

	series, err := s.store.GetSeries(ctx, seriesID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Chapter{}, errNotFound("Series not found.")
	}
	if err != nil {
		return store.Chapter{}, err
	}
	if series.CreatorID != actor.ID {
		return store.Chapter{}, errNotOwner("You cannot create drafts for this series.")
	}

	now := s.now()
	draft := store.Chapter{
		ID:            util.NewID("ch"),
		SeriesID:      seriesID,
		CreatorID:     actor.ID,
		ChapterNumber: input.ChapterNumber,
		Title:         input.Title,
		Notes:         input.Notes,
		Status:        "DRAFT",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertChapter(ctx, draft); err != nil {
		return store.Chapter{}, err
	}
	return draft, nil
}

func (s *Service) AddPageToDraft(ctx context.Context, actorID, chapterID, imageRef string) (store.Page, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return store.Page{}, err
	}

	chapter, err := s.store.GetChapter(ctx, chapterID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Page{}, errNotFound("Chapter not found.")
	}
	if err != nil {
		return store.Page{}, err
	}
	if chapter.CreatorID != actor.ID {
		return store.Page{}, errNotOwner("You cannot edit this chapter.")
	}

	page, changed, err := s.store.AppendPage(ctx, chapterID, util.NewID("pg"), imageRef, maxPagesPerChapter, s.now())
	if err != nil {
		return store.Page{}, err
	}
	if !changed {
		// The guarded append refused: either the draft window closed or the
		// chapter is full. Re-read to report the precise failure.
		chapter, err = s.store.GetChapter(ctx, chapterID)
		if err != nil {
			return store.Page{}, err
		}
		if chapter.Status != "DRAFT" {
			return store.Page{}, errWrongState("Published chapters cannot add pages.")
		}
		return store.Page{}, errValidation(fmt.Sprintf("Page limit reached (%d).", maxPagesPerChapter))
	}
	return page, nil
}

func (s *Service) ReorderDraftPages(ctx context.Context, actorID, chapterID string, newOrder []string) ([]store.Page, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	chapter, err := s.store.GetChapter(ctx, chapterID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("Chapter not found.")
	}
	if err != nil {
		return nil, err
	}
	if chapter.CreatorID != actor.ID {
		return nil, errNotOwner("You cannot reorder this chapter.")
	}
	if chapter.Status != "DRAFT" {
		return nil, errWrongState("Page order is locked after publish.")
	}

	pages, err := s.store.ListPages(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if len(newOrder) != len(pages) {
		return nil, errValidation("New order must include all pages.")
	}
	known := make(map[string]bool, len(pages))
	for _, p := range pages {
		known[p.ID] = true
	}
	seen := make(map[string]bool, len(newOrder))
	for _, id := range newOrder {
		if !known[id] || seen[id] {
			return nil, errValidation("Invalid page order payload.")
		}
		seen[id] = true
	}

	changed, err := s.store.ReorderPages(ctx, chapterID, newOrder, s.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		// Lost the race to a publish between validation and the write.
		return nil, errWrongState("Page order is locked after publish.")
	}
	return s.store.ListPages(ctx, chapterID)
}

func (s *Service) PublishChapter(ctx context.Context, actorID, chapterID string) (store.Chapter, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return store.Chapter{}, err
	}

	chapter, err := s.store.GetChapter(ctx, chapterID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Chapter{}, errNotFound("Chapter not found.")
	}
	if err != nil {
		return store.Chapter{}, err
	}
	if chapter.CreatorID != actor.ID {
		return store.Chapter{}, errNotOwner("You cannot publish this chapter.")
	}
	if chapter.Status == "PUBLISHED" {
		return store.Chapter{}, errWrongState("Chapter is already published.")
	}
	if chapter.PageCount < 1 {
		return store.Chapter{}, errValidation("At least one page is required to publish.")
	}

	now := s.now()
	changed, err := s.store.PublishChapter(ctx, chapterID, now)
	if err != nil {
		return store.Chapter{}, err
	}
	if !changed {
		return store.Chapter{}, errWrongState("Chapter is already published.")
	}

	chapter, err = s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return store.Chapter{}, err
	}

	followerIDs, err := s.store.ListFollowerIDs(ctx, chapter.CreatorID)
	if err != nil {
		return store.Chapter{}, err
	}
	notifications := make([]store.Notification, 0, len(followerIDs))
	for _, followerID := range followerIDs {
		notifications = append(notifications, store.Notification{
			ID:        util.NewID("ntf"),
			AccountID: followerID,
			Type:      "FOLLOWED_CREATOR_NEW_CHAPTER",
			Payload: map[string]any{
				"chapterId": chapter.ID,
				"seriesId":  chapter.SeriesID,
				"creatorId": chapter.CreatorID,
			},
			CreatedAt: now,
		})
	}
	if err := s.store.InsertNotifications(ctx, notifications); err != nil {
		return store.Chapter{}, err
	}
	return chapter, nil
}

func (s *Service) UnpublishChapter(ctx context.Context, actorID, chapterID string) (store.Chapter, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return store.Chapter{}, err
	}

	chapter, err := s.store.GetChapter(ctx, chapterID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Chapter{}, errNotFound("Chapter not found.")
	}
	if err != nil {
		return store.Chapter{}, err
	}
	if chapter.CreatorID != actor.ID {
		return store.Chapter{}, errNotOwner("You cannot unpublish this chapter.")
	}
	if chapter.Status != "PUBLISHED" {
		return store.Chapter{}, errWrongState("Chapter is already a draft.")
	}

	changed, err := s.store.UnpublishChapter(ctx, chapterID, s.now())
	if err != nil {
		return store.Chapter{}, err
	}
	if !changed {
		return store.Chapter{}, errConflict("Unpublish is blocked when comments/reactions exist. Publish a corrected chapter instead.")
	}
	return s.store.GetChapter(ctx, chapterID)
}

func (s *Service) ReplacePublishedPageImage(ctx context.Context, actorID, chapterID string, pageNumber int, imageRef string) (store.Page, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return store.Page{}, err
	}

	chapter, err := s.store.GetChapter(ctx, chapterID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Page{}, errNotFound("Chapter not found.")
	}
	if err != nil {
		return store.Page{}, err
	}
	if chapter.CreatorID != actor.ID {
		return store.Page{}, errNotOwner("You cannot update this chapter.")
	}
	if chapter.Status != "PUBLISHED" {
		return store.Page{}, errWrongState("Only published chapters support in-place page replacement.")
	}

	page, changed, err := s.store.ReplacePageImage(ctx, chapterID, pageNumber, imageRef, s.now())
	if err != nil {
		return store.Page{}, err
	}
	if !changed {
		return store.Page{}, errNotFound("Page not found.")
	}
	return page, nil
}

func (s *Service) RecordChapterView(ctx context.Context, chapterID string) error {
	err := s.store.IncrementChapterViews(ctx, chapterID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Chapter not found.")
	}
	return err
}

// --- reads ---

func (s *Service) ListSeries(ctx context.Context) ([]store.Series, error) {
	return s.store.ListSeries(ctx)
}

func (s *Service) SeriesDetail(ctx context.Context, seriesID string) (store.Series, *store.Account, error) {
	series, err := s.store.GetSeries(ctx, seriesID)
	if err != nil {
		return store.Series{}, nil, err
	}
	creator, err := s.store.GetAccount(ctx, series.CreatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return series, nil, nil
	}
	if err != nil {
		return store.Series{}, nil, err
	}
	return series, &creator, nil
}

// ChaptersBySeries shows drafts to the owning creator only.
func (s *Service) ChaptersBySeries(ctx context.Context, seriesID, viewerID string) ([]store.Chapter, error) {
	series, err := s.store.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.store.ListChaptersBySeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	isOwner := viewerID != "" && viewerID == series.CreatorID
	visible := make([]store.Chapter, 0, len(chapters))
	for _, chapter := range chapters {
		if chapter.Status == "PUBLISHED" || isOwner {
			visible = append(visible, chapter)
		}
	}
	return visible, nil
}

func (s *Service) GetChapter(ctx context.Context, chapterID string) (store.Chapter, error) {
	return s.store.GetChapter(ctx, chapterID)
}

func (s *Service) ChapterPages(ctx context.Context, chapterID string) ([]store.Page, error) {
	return s.store.ListPages(ctx, chapterID)
}

func (s *Service) SeriesByCreator(ctx context.Context, creatorID string) ([]store.Series, error) {
	return s.store.ListSeriesByCreator(ctx, creatorID)
}

func (s *Service) DraftChapters(ctx context.Context, actorID string) ([]store.Chapter, error) {
	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	return s.store.ListChaptersByCreator(ctx, actor.ID, "DRAFT")
}

func (s *Service) PublishedChapters(ctx context.Context, creatorID string) ([]store.Chapter, error) {
	return s.store.ListChaptersByCreator(ctx, creatorID, "PUBLISHED")
}
