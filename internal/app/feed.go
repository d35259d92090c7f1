package app

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"panelboard/internal/search"
	"panelboard/internal/store"
	"panelboard/internal/util"
)

const (
	newBadgeWindow       = 48 * time.Hour
	trendingThreshold    = 70.0
	unpublishedAgeHours  = 72.0
	rankingsFallbackSize = 10
	rollupSize           = 20
)

var rankingPeriods = []string{"WEEK", "MONTH", "YEAR", "ALL_TIME"}

var rankingTypes = []string{"TRENDING", "RISING", "MOST_DISCUSSED", "TOP_RATED"}

type FeedItem struct {
	SeriesID     string    `json:"seriesId"`
	ChapterID    string    `json:"chapterId"`
	CreatorID    string    `json:"creatorId"`
	CoverRef     string    `json:"coverRef"`
	Title        string    `json:"title"`
	CreatorName  string    `json:"creatorName"`
	Rating       float64   `json:"rating"`
	CommentCount int       `json:"commentCount"`
	ViewCount    int       `json:"viewCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Badges       []string  `json:"badges"`
}

type RankingRow struct {
	Chapter store.Chapter `json:"chapter"`
	Series  *store.Series `json:"series"`
	Score   float64       `json:"score"`
	Rank    int           `json:"rank"`
}

type CreatorProfile struct {
	Account       store.Account      `json:"account"`
	FollowerCount int                `json:"followerCount"`
	Series        []store.Series     `json:"series"`
	Stats         store.CreatorStats `json:"stats"`
}

// feedScore is the composite trending metric: raw engagement plus a recency
// boost that decays hyperbolically from publish time. Chapters without a
// publish stamp read as 72 hours old.
func (s *Service) feedScore(chapter store.Chapter, series store.Series, followerCount int) float64 {
	hours := unpublishedAgeHours
	if chapter.PublishedAt != nil {
		hours = math.Max(1, s.now().Sub(*chapter.PublishedAt).Hours())
	}
	return float64(chapter.ViewCount)*0.003 +
		float64(chapter.CommentCount)*2 +
		float64(chapter.ReactionCount)*0.4 +
		series.AverageRating*8 +
		float64(followerCount)*0.03 +
		24/hours
}

func risingScore(chapter store.Chapter, followerCount int) float64 {
	return float64(chapter.CommentCount) + float64(chapter.ReactionCount)*0.5 + float64(followerCount)*1.4
}

func simplifiedScore(chapter store.Chapter) float64 {
	return float64(chapter.CommentCount) + float64(chapter.ReactionCount)*0.4 + float64(chapter.ViewCount)*0.002
}

// feedContext batches the series, creator and follower lookups one feed
// render needs.
type feedContext struct {
	series    map[string]store.Series
	creators  map[string]store.Account
	followers map[string]int
}

func (s *Service) loadFeedContext(ctx context.Context, chapters []store.Chapter) (feedContext, error) {
	allSeries, err := s.store.ListSeries(ctx)
	if err != nil {
		return feedContext{}, err
	}
	seriesByID := make(map[string]store.Series, len(allSeries))
	for _, sr := range allSeries {
		seriesByID[sr.ID] = sr
	}

	creatorIDs := make([]string, 0, len(chapters))
	seen := make(map[string]bool, len(chapters))
	for _, chapter := range chapters {
		if !seen[chapter.CreatorID] {
			seen[chapter.CreatorID] = true
			creatorIDs = append(creatorIDs, chapter.CreatorID)
		}
	}
	creators, err := s.store.GetAccounts(ctx, creatorIDs)
	if err != nil {
		return feedContext{}, err
	}
	followers, err := s.store.FollowerCounts(ctx)
	if err != nil {
		return feedContext{}, err
	}
	return feedContext{series: seriesByID, creators: creators, followers: followers}, nil
}

func (s *Service) buildFeedItem(chapter store.Chapter, fc feedContext) (FeedItem, bool) {
	series, ok := fc.series[chapter.SeriesID]
	if !ok {
		return FeedItem{}, false
	}
	creator, ok := fc.creators[chapter.CreatorID]
	if !ok {
		return FeedItem{}, false
	}
	followerCount := fc.followers[chapter.CreatorID]

	var badges []string
	if chapter.PublishedAt != nil && s.now().Sub(*chapter.PublishedAt) < newBadgeWindow {
		badges = append(badges, "NEW")
	}
	if s.feedScore(chapter, series, followerCount) > trendingThreshold {
		badges = append(badges, "TRENDING")
	}

	return FeedItem{
		SeriesID:     series.ID,
		ChapterID:    chapter.ID,
		CreatorID:    creator.ID,
		CoverRef:     series.CoverImageRef,
		Title:        series.Title,
		CreatorName:  creator.Handle,
		Rating:       series.AverageRating,
		CommentCount: chapter.CommentCount,
		ViewCount:    chapter.ViewCount,
		UpdatedAt:    chapter.UpdatedAt,
		Badges:       badges,
	}, true
}

func publishedStamp(chapter store.Chapter) time.Time {
	if chapter.PublishedAt != nil {
		return *chapter.PublishedAt
	}
	return time.Time{}
}

func (s *Service) sortByFeedType(feedType string, chapters []store.Chapter, fc feedContext) {
	switch feedType {
	case "NEW":
		sort.SliceStable(chapters, func(i, j int) bool {
			return publishedStamp(chapters[i]).After(publishedStamp(chapters[j]))
		})
	case "MOST_DISCUSSED":
		sort.SliceStable(chapters, func(i, j int) bool {
			return chapters[i].CommentCount > chapters[j].CommentCount
		})
	case "RISING":
		sort.SliceStable(chapters, func(i, j int) bool {
			return risingScore(chapters[i], fc.followers[chapters[i].CreatorID]) >
				risingScore(chapters[j], fc.followers[chapters[j].CreatorID])
		})
	default: // TRENDING
		sort.SliceStable(chapters, func(i, j int) bool {
			si, iOK := fc.series[chapters[i].SeriesID]
			sj, jOK := fc.series[chapters[j].SeriesID]
			if !iOK || !jOK {
				return false
			}
			return s.feedScore(chapters[i], si, fc.followers[chapters[i].CreatorID]) >
				s.feedScore(chapters[j], sj, fc.followers[chapters[j].CreatorID])
		})
	}
}

func (s *Service) HomeFeed(ctx context.Context, feedType string) ([]FeedItem, error) {
	chapters, err := s.store.ListPublishedChapters(ctx)
	if err != nil {
		return nil, err
	}
	fc, err := s.loadFeedContext(ctx, chapters)
	if err != nil {
		return nil, err
	}
	s.sortByFeedType(feedType, chapters, fc)

	items := make([]FeedItem, 0, len(chapters))
	for _, chapter := range chapters {
		if item, ok := s.buildFeedItem(chapter, fc); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// SearchDiscovery matches published chapters whose series title, creator
// handle, or any tag contains the query, narrowed to series carrying every
// selected tag. Meilisearch answers when healthy; the catalog scan below is
// the same contract.
func (s *Service) SearchDiscovery(ctx context.Context, query string, selectedTags []string) ([]FeedItem, error) {
	chapters, err := s.store.ListPublishedChapters(ctx)
	if err != nil {
		return nil, err
	}
	fc, err := s.loadFeedContext(ctx, chapters)
	if err != nil {
		return nil, err
	}

	var matches func(chapter store.Chapter) bool
	if s.search != nil {
		if ids, ok := s.search.Search(search.Query{Text: strings.TrimSpace(query), Tags: selectedTags}); ok {
			allowed := make(map[string]bool, len(ids))
			for _, id := range ids {
				allowed[id] = true
			}
			matches = func(chapter store.Chapter) bool { return allowed[chapter.SeriesID] }
		}
	}
	if matches == nil {
		normalized := strings.ToLower(strings.TrimSpace(query))
		matches = func(chapter store.Chapter) bool {
			series, ok := fc.series[chapter.SeriesID]
			if !ok {
				return false
			}
			creator, ok := fc.creators[chapter.CreatorID]
			if !ok {
				return false
			}
			queryMatch := normalized == "" ||
				strings.Contains(strings.ToLower(series.Title), normalized) ||
				strings.Contains(strings.ToLower(creator.Handle), normalized)
			if !queryMatch {
				for _, tag := range series.Tags {
					if strings.Contains(strings.ToLower(tag), normalized) {
						queryMatch = true
						break
					}
				}
			}
			if !queryMatch {
				return false
			}
			for _, selected := range selectedTags {
				if !containsTag(series.Tags, selected) {
					return false
				}
			}
			return true
		}
	}

	items := make([]FeedItem, 0, len(chapters))
	for _, chapter := range chapters {
		if !matches(chapter) {
			continue
		}
		if item, ok := s.buildFeedItem(chapter, fc); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Rankings never computes period scores live: it reads the precomputed rollup
// for (period, type), drops entries whose chapter no longer resolves, and only
// degrades to a simplified live top list when no rollup exists at all.
func (s *Service) Rankings(ctx context.Context, period, rankingType string) ([]RankingRow, error) {
	rollup, err := s.store.GetRankingRollup(ctx, period, rankingType)
	if err != nil {
		return nil, err
	}

	if rollup == nil {
		chapters, err := s.store.ListPublishedChapters(ctx)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(chapters, func(i, j int) bool {
			return simplifiedScore(chapters[i]) > simplifiedScore(chapters[j])
		})
		if len(chapters) > rankingsFallbackSize {
			chapters = chapters[:rankingsFallbackSize]
		}
		rows := make([]RankingRow, 0, len(chapters))
		for i, chapter := range chapters {
			rows = append(rows, RankingRow{
				Chapter: chapter,
				Series:  s.seriesOrNil(ctx, chapter.SeriesID),
				Score:   simplifiedScore(chapter),
				Rank:    i + 1,
			})
		}
		return rows, nil
	}

	rows := make([]RankingRow, 0, len(rollup.Items))
	for _, item := range rollup.Items {
		chapter, err := s.store.GetChapter(ctx, item.ChapterID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, RankingRow{
			Chapter: chapter,
			Series:  s.seriesOrNil(ctx, chapter.SeriesID),
			Score:   item.Score,
			Rank:    item.Rank,
		})
	}
	return rows, nil
}

func (s *Service) seriesOrNil(ctx context.Context, seriesID string) *store.Series {
	series, err := s.store.GetSeries(ctx, seriesID)
	if err != nil {
		return nil
	}
	return &series
}

func periodWindow(period string) time.Duration {
	switch period {
	case "WEEK":
		return 7 * 24 * time.Hour
	case "MONTH":
		return 30 * 24 * time.Hour
	case "YEAR":
		return 365 * 24 * time.Hour
	default: // ALL_TIME
		return 0
	}
}

// RefreshRankingRollups is the out-of-band batch behind the rankings surface.
// It snapshots the top chapters per (period, type) so reads stay lookup-only.
func (s *Service) RefreshRankingRollups(ctx context.Context) error {
	chapters, err := s.store.ListPublishedChapters(ctx)
	if err != nil {
		return err
	}
	fc, err := s.loadFeedContext(ctx, chapters)
	if err != nil {
		return err
	}
	now := s.now()

	for _, period := range rankingPeriods {
		window := periodWindow(period)
		inPeriod := make([]store.Chapter, 0, len(chapters))
		for _, chapter := range chapters {
			if window == 0 || (chapter.PublishedAt != nil && now.Sub(*chapter.PublishedAt) <= window) {
				inPeriod = append(inPeriod, chapter)
			}
		}

		for _, rankingType := range rankingTypes {
			scored := make([]store.RankingItem, 0, len(inPeriod))
			for _, chapter := range inPeriod {
				series, ok := fc.series[chapter.SeriesID]
				if !ok {
					continue
				}
				var score float64
				switch rankingType {
				case "RISING":
					score = risingScore(chapter, fc.followers[chapter.CreatorID])
				case "MOST_DISCUSSED":
					score = float64(chapter.CommentCount)
				case "TOP_RATED":
					score = series.AverageRating
				default: // TRENDING
					score = s.feedScore(chapter, series, fc.followers[chapter.CreatorID])
				}
				scored = append(scored, store.RankingItem{ChapterID: chapter.ID, Score: score})
			}
			sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
			if len(scored) > rollupSize {
				scored = scored[:rollupSize]
			}
			for i := range scored {
				scored[i].Rank = i + 1
			}

			if err := s.store.SaveRankingRollup(ctx, store.RankingRollup{
				ID:         util.NewID("rr"),
				Period:     period,
				Type:       rankingType,
				Items:      scored,
				ComputedAt: now,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) CreatorProfile(ctx context.Context, creatorID string) (CreatorProfile, error) {
	account, err := s.store.GetAccount(ctx, creatorID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !account.IsCreator) {
		return CreatorProfile{}, errNotFound("Creator not found.")
	}
	if err != nil {
		return CreatorProfile{}, err
	}

	followerCount, err := s.store.FollowerCount(ctx, creatorID)
	if err != nil {
		return CreatorProfile{}, err
	}
	seriesList, err := s.store.ListSeriesByCreator(ctx, creatorID)
	if err != nil {
		return CreatorProfile{}, err
	}
	stats, err := s.store.CreatorEngagementStats(ctx, creatorID)
	if err != nil {
		return CreatorProfile{}, err
	}

	return CreatorProfile{
		Account:       account,
		FollowerCount: followerCount,
		Series:        seriesList,
		Stats:         stats,
	}, nil
}

// Creators lists visible creators by reputation.
func (s *Service) Creators(ctx context.Context) ([]store.Account, error) {
	creators, err := s.store.ListCreators(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]store.Account, 0, len(creators))
	for _, creator := range creators {
		if !creator.IsSuspended {
			visible = append(visible, creator)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].ReputationScore > visible[j].ReputationScore
	})
	return visible, nil
}
