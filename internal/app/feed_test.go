package app

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"panelboard/internal/store"
)

func seedAccount(t *testing.T, memory *store.MemoryStore, id, handle string) store.Account {
	t.Helper()
	account, err := memory.EnsureAccountByProvider(context.Background(), id, "github", "gh-"+id, handle, "", time.Now())
	if err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
	return account
}

func seedCatalog(t *testing.T, memory *store.MemoryStore, seriesID, creatorID, title string, tags []string, rating float64) {
	t.Helper()
	err := memory.InsertSeries(context.Background(), store.Series{
		ID:            seriesID,
		CreatorID:     creatorID,
		Title:         title,
		Tags:          tags,
		Language:      "en",
		ReadingMode:   "SCROLL",
		Status:        "ACTIVE",
		AverageRating: rating,
	})
	if err != nil {
		t.Fatalf("seed series %s: %v", seriesID, err)
	}
}

func seedScoredChapter(t *testing.T, memory *store.MemoryStore, chapterID, seriesID, creatorID string, publishedAt time.Time, views, comments, reactions int) {
	t.Helper()
	stamp := publishedAt
	err := memory.InsertChapter(context.Background(), store.Chapter{
		ID:            chapterID,
		SeriesID:      seriesID,
		CreatorID:     creatorID,
		ChapterNumber: 1,
		Status:        "PUBLISHED",
		PublishedAt:   &stamp,
		PageCount:     1,
		CommentCount:  comments,
		ReactionCount: reactions,
		ViewCount:     views,
		UpdatedAt:     publishedAt,
	})
	if err != nil {
		t.Fatalf("seed chapter %s: %v", chapterID, err)
	}
}

func seedFollowers(t *testing.T, memory *store.MemoryStore, creatorID string, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		followerID := fmt.Sprintf("acc_f_%s_%d", creatorID, i)
		seedAccount(t, memory, followerID, fmt.Sprintf("f_%s_%d", creatorID, i))
		_, err := memory.InsertFollow(context.Background(), store.Follow{
			ID:         fmt.Sprintf("fol_%s_%d", creatorID, i),
			FollowerID: followerID,
			CreatorID:  creatorID,
		})
		if err != nil {
			t.Fatalf("seed follow: %v", err)
		}
	}
}

func TestFeedScoreComposite(t *testing.T) {
	svc, _, clk := newTestService(t)

	published := clk.Now().Add(-24 * time.Hour)
	chapter := store.Chapter{
		PublishedAt:   &published,
		ViewCount:     1000,
		CommentCount:  10,
		ReactionCount: 50,
	}
	series := store.Series{AverageRating: 4.0}

	// 3 + 20 + 20 + 32 + 6 + 1
	score := svc.feedScore(chapter, series, 200)
	if math.Abs(score-82) > 1e-9 {
		t.Fatalf("score = %v, want 82", score)
	}

	// The recency boost never divides by less than one hour.
	justNow := clk.Now().Add(-time.Minute)
	chapter.PublishedAt = &justNow
	fresh := svc.feedScore(chapter, series, 200)
	if math.Abs(fresh-105) > 1e-9 {
		t.Fatalf("fresh score = %v, want 105", fresh)
	}
}

func TestHomeFeedBadgesAndOrder(t *testing.T) {
	svc, memory, clk := newTestService(t)
	ctx := context.Background()

	creator := seedAccount(t, memory, "acc_hot", "hotshot")
	quiet := seedAccount(t, memory, "acc_quiet", "quiet")
	seedCatalog(t, memory, "ser_hot", creator.ID, "Blazing Panels", []string{"action"}, 4.0)
	seedCatalog(t, memory, "ser_quiet", quiet.ID, "Slow Burn", []string{"slice"}, 1.0)
	seedFollowers(t, memory, creator.ID, 200)

	seedScoredChapter(t, memory, "ch_hot", "ser_hot", creator.ID, clk.Now().Add(-24*time.Hour), 1000, 10, 50)
	seedScoredChapter(t, memory, "ch_quiet", "ser_quiet", quiet.ID, clk.Now().Add(-200*time.Hour), 5, 0, 0)

	items, err := svc.HomeFeed(ctx, "TRENDING")
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].ChapterID != "ch_hot" {
		t.Fatalf("first item = %s, want ch_hot", items[0].ChapterID)
	}
	wantBadges := map[string]bool{"NEW": true, "TRENDING": true}
	if len(items[0].Badges) != 2 || !wantBadges[items[0].Badges[0]] || !wantBadges[items[0].Badges[1]] {
		t.Fatalf("hot badges = %v", items[0].Badges)
	}
	if len(items[1].Badges) != 0 {
		t.Fatalf("quiet badges = %v", items[1].Badges)
	}
}

func TestHomeFeedNewSortsByPublishStamp(t *testing.T) {
	svc, memory, clk := newTestService(t)

	creator := seedAccount(t, memory, "acc_c", "creator")
	seedCatalog(t, memory, "ser_c", creator.ID, "Series", nil, 0)
	seedScoredChapter(t, memory, "ch_old", "ser_c", creator.ID, clk.Now().Add(-100*time.Hour), 9000, 50, 50)
	seedScoredChapter(t, memory, "ch_new", "ser_c", creator.ID, clk.Now().Add(-time.Hour), 0, 0, 0)

	items, err := svc.HomeFeed(context.Background(), "NEW")
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if items[0].ChapterID != "ch_new" || items[1].ChapterID != "ch_old" {
		t.Fatalf("NEW order = %s, %s", items[0].ChapterID, items[1].ChapterID)
	}
}

func TestSearchDiscoveryCatalogScan(t *testing.T) {
	svc, memory, clk := newTestService(t)
	ctx := context.Background()

	creator := seedAccount(t, memory, "acc_c", "moonbrush")
	seedCatalog(t, memory, "ser_a", creator.ID, "Starlight Courier", []string{"scifi", "romance"}, 0)
	seedCatalog(t, memory, "ser_b", creator.ID, "Iron Harvest", []string{"mecha"}, 0)
	seedScoredChapter(t, memory, "ch_a", "ser_a", creator.ID, clk.Now().Add(-time.Hour), 0, 0, 0)
	seedScoredChapter(t, memory, "ch_b", "ser_b", creator.ID, clk.Now().Add(-time.Hour), 0, 0, 0)

	// Title substring, case-insensitive.
	items, err := svc.SearchDiscovery(ctx, "starlight", nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 1 || items[0].SeriesID != "ser_a" {
		t.Fatalf("title match = %+v", items)
	}

	// Creator handle matches every series by that creator.
	items, _ = svc.SearchDiscovery(ctx, "MOONBRUSH", nil)
	if len(items) != 2 {
		t.Fatalf("handle match = %d items, want 2", len(items))
	}

	// Tag filters are exact and conjunctive.
	items, _ = svc.SearchDiscovery(ctx, "", []string{"scifi", "romance"})
	if len(items) != 1 || items[0].SeriesID != "ser_a" {
		t.Fatalf("tag filter = %+v", items)
	}
	items, _ = svc.SearchDiscovery(ctx, "", []string{"sci"})
	if len(items) != 0 {
		t.Fatalf("partial tag matched: %+v", items)
	}
}

func TestRankingsFallbackWithoutRollup(t *testing.T) {
	svc, memory, clk := newTestService(t)
	ctx := context.Background()

	creator := seedAccount(t, memory, "acc_c", "creator")
	seedCatalog(t, memory, "ser_c", creator.ID, "Series", nil, 0)
	for i := 0; i < 12; i++ {
		seedScoredChapter(t, memory, fmt.Sprintf("ch_%02d", i), "ser_c", creator.ID,
			clk.Now().Add(-time.Hour), 0, i, 0)
	}

	rows, err := svc.Rankings(ctx, "WEEK", "TRENDING")
	if err != nil {
		t.Fatalf("rankings: %v", err)
	}
	if len(rows) != rankingsFallbackSize {
		t.Fatalf("rows = %d, want %d", len(rows), rankingsFallbackSize)
	}
	if rows[0].Chapter.ID != "ch_11" || rows[0].Rank != 1 {
		t.Fatalf("top row = %s rank %d", rows[0].Chapter.ID, rows[0].Rank)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Score > rows[i-1].Score {
			t.Fatalf("fallback not sorted at %d", i)
		}
	}
}

func TestRankingsUseRollup(t *testing.T) {
	svc, memory, clk := newTestService(t)
	ctx := context.Background()

	creator := seedAccount(t, memory, "acc_c", "creator")
	seedCatalog(t, memory, "ser_c", creator.ID, "Series", nil, 3.0)
	seedScoredChapter(t, memory, "ch_recent", "ser_c", creator.ID, clk.Now().Add(-24*time.Hour), 100, 5, 10)
	seedScoredChapter(t, memory, "ch_ancient", "ser_c", creator.ID, clk.Now().Add(-400*24*time.Hour), 100, 50, 10)

	if err := svc.RefreshRankingRollups(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	week, err := svc.Rankings(ctx, "WEEK", "MOST_DISCUSSED")
	if err != nil {
		t.Fatalf("rankings: %v", err)
	}
	if len(week) != 1 || week[0].Chapter.ID != "ch_recent" {
		t.Fatalf("WEEK rows = %+v", week)
	}
	if week[0].Score != 5 {
		t.Fatalf("WEEK score = %v, want 5", week[0].Score)
	}
	if week[0].Series == nil || week[0].Series.ID != "ser_c" {
		t.Fatal("rollup row missing series")
	}

	allTime, err := svc.Rankings(ctx, "ALL_TIME", "MOST_DISCUSSED")
	if err != nil {
		t.Fatalf("rankings: %v", err)
	}
	if len(allTime) != 2 || allTime[0].Chapter.ID != "ch_ancient" {
		t.Fatalf("ALL_TIME rows = %+v", allTime)
	}
}

func TestCreatorProfile(t *testing.T) {
	svc, memory, _ := newTestService(t)
	ctx := context.Background()

	reader := mustLogin(t, svc, "google", "goog-1", "justareader")
	_, err := svc.CreatorProfile(ctx, reader.AccountID)
	wantDomainError(t, err, "NOT_FOUND")

	creator := mustLogin(t, svc, "github", "gh-1", "inkwell")
	series := seedSeries(t, svc, creator.AccountID)
	seedFollowers(t, memory, creator.AccountID, 3)

	profile, err := svc.CreatorProfile(ctx, creator.AccountID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.FollowerCount != 3 {
		t.Fatalf("followers = %d, want 3", profile.FollowerCount)
	}
	if len(profile.Series) != 1 || profile.Series[0].ID != series.ID {
		t.Fatalf("series = %+v", profile.Series)
	}
}
