package app

import (
	"context"
	"testing"

	"panelboard/internal/store"
)

func seedSeries(t *testing.T, svc *Service, creatorID string) store.Series {
	t.Helper()
	series, err := svc.CreateSeries(context.Background(), creatorID, SeriesInput{
		Title:       "Ink Trails",
		Tags:        []string{"fantasy", "ink"},
		Language:    "en",
		ReadingMode: "SCROLL",
	})
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	return series
}

func seedDraft(t *testing.T, svc *Service, creatorID, seriesID string, pages int) store.Chapter {
	t.Helper()
	ctx := context.Background()
	draft, err := svc.CreateChapterDraft(ctx, creatorID, seriesID, ChapterDraftInput{Title: "Chapter One"})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	for i := 0; i < pages; i++ {
		if _, err := svc.AddPageToDraft(ctx, creatorID, draft.ID, "img_ref"); err != nil {
			t.Fatalf("add page %d: %v", i+1, err)
		}
	}
	return draft
}

func seedPublished(t *testing.T, svc *Service, creatorID, seriesID string, pages int) store.Chapter {
	t.Helper()
	draft := seedDraft(t, svc, creatorID, seriesID, pages)
	published, err := svc.PublishChapter(context.Background(), creatorID, draft.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return published
}

func TestCreateSeriesLayoutInvariant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creator := mustLogin(t, svc, "github", "gh-1", "inkwell")

	rtl := "RTL"
	_, err := svc.CreateSeries(ctx, creator.AccountID, SeriesInput{
		Title:            "Bad Scroll",
		ReadingMode:      "SCROLL",
		ReadingDirection: &rtl,
	})
	wantDomainError(t, err, "VALIDATION")

	_, err = svc.CreateSeries(ctx, creator.AccountID, SeriesInput{
		Title:       "Bad Paged",
		ReadingMode: "PAGED",
	})
	wantDomainError(t, err, "VALIDATION")

	paged, err := svc.CreateSeries(ctx, creator.AccountID, SeriesInput{
		Title:            "Good Paged",
		ReadingMode:      "PAGED",
		ReadingDirection: &rtl,
	})
	if err != nil {
		t.Fatalf("paged series: %v", err)
	}
	if paged.ReadingDirection == nil || *paged.ReadingDirection != "RTL" {
		t.Fatalf("reading direction = %v, want RTL", paged.ReadingDirection)
	}

	account, err := svc.Account(ctx, creator.AccountID)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !account.IsCreator {
		t.Fatal("first series did not promote the account to creator")
	}
}

func TestUpdateSeriesOwnerOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creator := mustLogin(t, svc, "github", "gh-1", "inkwell")
	stranger := mustLogin(t, svc, "google", "goog-2", "stranger")
	series := seedSeries(t, svc, creator.AccountID)

	title := "Renamed"
	_, err := svc.UpdateSeries(ctx, stranger.AccountID, series.ID, SeriesPatch{Title: &title})
	wantDomainError(t, err, "NOT_OWNER")

	updated, err := svc.UpdateSeries(ctx, creator.AccountID, series.ID, SeriesPatch{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Renamed" {
		t.Fatalf("title = %q", updated.Title)
	}
}

func TestReorderDraftPages(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creator := mustLogin(t, svc, "github", "gh-1", "inkwell")
	series := seedSeries(t, svc, creator.AccountID)
	draft := seedDraft(t, svc, creator.AccountID, series.ID, 3)

	pages, err := svc.ChapterPages(ctx, draft.ID)
	if err != nil {
		t.Fatalf("pages: %v", err)
	}
	a, b, c := pages[0].ID, pages[1].ID, pages[2].ID

	_, err = svc.ReorderDraftPages(ctx, creator.AccountID, draft.ID, []string{c, a})
	wantDomainError(t, err, "VALIDATION")

	_, err = svc.ReorderDraftPages(ctx, creator.AccountID, draft.ID, []string{c, a, a})
	wantDomainError(t, err, "VALIDATION")

	reordered, err := svc.ReorderDraftPages(ctx, creator.AccountID, draft.ID, []string{c, a, b})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	wantOrder := []string{c, a, b}
	for i, page := range reordered {
		if page.ID != wantOrder[i] {
			t.Fatalf("position %d = %s, want %s", i+1, page.ID, wantOrder[i])
		}
		if page.PageNumber != i+1 {
			t.Fatalf("page %s number = %d, want %d", page.ID, page.PageNumber, i+1)
		}
	}
}

func TestReorderLockedAfterPublish(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creator := mustLogin(t, svc, "github", "gh-1", "inkwell")
	series := seedSeries(t, svc, creator.AccountID)
	chapter := seedPublished(t, svc, creator.AccountID, series.ID, 2)

	pages, _ := svc.ChapterPages(ctx, chapter.ID)
	_, err := svc.ReorderDraftPages(ctx, creator.AccountID, chapter.ID, []string{pages[1].ID, pages[0].ID})
	wantDomainError(t, err, "WRONG_STATE")

	_, err = svc.AddPageToDraft(ctx, creator.AccountID, chapter.ID, "img_more")
	wantDomainError(t, err, "WRONG_STATE")
}

func TestPageLimit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creator := mustLogin(t, svc, "github", "gh-1", "inkwell")
	series := seedSeries(t, svc, creator.AccountID)
	draft := seedDraft(t, svc, creator.AccountID, series.ID, maxPagesPerChapter)

	_, err := svc.AddPageToDraft(ctx, creator.AccountID, draft.ID, "img_overflow")
	wantDomainError(t, err, "VALIDATION")

	pages, _ := svc.ChapterPages(ctx, draft.ID)
	if len(pages) != maxPagesPerChapter {
		t.Fatalf("page count = %d, want %d", len(pages), maxPagesPerChapter)
	}
}

func TestPublishRequiresPagesAndIsOneShot(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creator := mustLogin(t, svc, "github", "gh-1", "inkwell")
	series := seedSeries(t, svc, creator.AccountID)
	empty := seedDraft(t, svc, creator.AccountID, series.ID, 0)

	_, err := svc.PublishChapter(ctx, creator.AccountID, empty.ID)
	wantDomainError(t, err, "VALIDATION")

	chapter := seedPublished(t, svc, creator.AccountID, series.ID, 1)
	if chapter.Status != "PUBLISHED" || chapter.PublishedAt == nil {
		t.Fatalf("chapter = %+v", chapter)
	}

	_, err = svc.PublishChapter(ctx, creator.AccountID, chapter.ID)
	wantDomainError(t, err, "WRONG_STATE")
}

func TestPublishNotifiesFollowers(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creator := mustLogin(t, svc, "github", "gh-1", "inkwell")
	reader := mustLogin(t, svc, "google", "goog-2", "reader")
	series := seedSeries(t, svc, creator.AccountID)
	if err := svc.FollowCreator(ctx, reader.AccountID, creator.AccountID); err != nil {
		t.Fatalf("follow: %v", err)
	}

	chapter := seedPublished(t, svc, creator.AccountID, series.ID, 1)

	notifications, err := svc.Notifications(ctx, reader.AccountID)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("notification count = %d, want 1", len(notifications))
	}
	n := notifications[0]
	if n.Type != "FOLLOWED_CREATOR_NEW_CHAPTER" {
		t.Fatalf("type = %s", n.Type)
	}
	if n.Payload["chapterId"] != chapter.ID {
		t.Fatalf("payload = %v", n.Payload)
	}
}

func TestUnpublishBlockedByEngagement(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creator := mustLogin(t, svc, "github", "gh-1", "inkwell")
	reader := mustLogin(t, svc, "google", "goog-2", "reader")
	series := seedSeries(t, svc, creator.AccountID)
	chapter := seedPublished(t, svc, creator.AccountID, series.ID, 1)

	comment, err := svc.AddComment(ctx, reader.AccountID, chapter.ID, 1, "first!", nil)
	if err != nil {
		t.Fatalf("comment: %v", err)
	}

	_, err = svc.UnpublishChapter(ctx, creator.AccountID, chapter.ID)
	wantDomainError(t, err, "CONFLICT")

	// Soft deletion keeps the record, so unpublish stays blocked.
	if err := svc.SoftDeleteComment(ctx, reader.AccountID, comment.ID); err != nil {
		t.Fatalf("delete comment: %v", err)
	}
	_, err = svc.UnpublishChapter(ctx, creator.AccountID, chapter.ID)
	wantDomainError(t, err, "CONFLICT")
}

func TestUnpublishCleanChapter(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creator := mustLogin(t, svc, "github", "gh-1", "inkwell")
	series := seedSeries(t, svc, creator.AccountID)
	chapter := seedPublished(t, svc, creator.AccountID, series.ID, 1)

	back, err := svc.UnpublishChapter(ctx, creator.AccountID, chapter.ID)
	if err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	if back.Status != "DRAFT" || back.PublishedAt != nil {
		t.Fatalf("chapter = %+v", back)
	}

	_, err = svc.UnpublishChapter(ctx, creator.AccountID, chapter.ID)
	wantDomainError(t, err, "WRONG_STATE")
}

func TestReplacePublishedPageImage(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creator := mustLogin(t, svc, "github", "gh-1", "inkwell")
	series := seedSeries(t, svc, creator.AccountID)
	draft := seedDraft(t, svc, creator.AccountID, series.ID, 1)

	_, err := svc.ReplacePublishedPageImage(ctx, creator.AccountID, draft.ID, 1, "img_v2")
	wantDomainError(t, err, "WRONG_STATE")

	if _, err := svc.PublishChapter(ctx, creator.AccountID, draft.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	page, err := svc.ReplacePublishedPageImage(ctx, creator.AccountID, draft.ID, 1, "img_v2")
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if page.ImageRef != "img_v2" {
		t.Fatalf("image ref = %s", page.ImageRef)
	}

	_, err = svc.ReplacePublishedPageImage(ctx, creator.AccountID, draft.ID, 99, "img_v3")
	wantDomainError(t, err, "NOT_FOUND")
}

func TestDraftsHiddenFromOtherViewers(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	creator := mustLogin(t, svc, "github", "gh-1", "inkwell")
	reader := mustLogin(t, svc, "google", "goog-2", "reader")
	series := seedSeries(t, svc, creator.AccountID)
	seedDraft(t, svc, creator.AccountID, series.ID, 1)
	seedPublished(t, svc, creator.AccountID, series.ID, 1)

	visible, err := svc.ChaptersBySeries(ctx, series.ID, reader.AccountID)
	if err != nil {
		t.Fatalf("chapters: %v", err)
	}
	if len(visible) != 1 || visible[0].Status != "PUBLISHED" {
		t.Fatalf("reader sees %d chapters", len(visible))
	}

	own, err := svc.ChaptersBySeries(ctx, series.ID, creator.AccountID)
	if err != nil {
		t.Fatalf("chapters: %v", err)
	}
	if len(own) != 2 {
		t.Fatalf("creator sees %d chapters, want 2", len(own))
	}
}
