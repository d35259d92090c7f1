package store

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process store with the same semantics as PostgresStore.
// It backs dev mode and the service test suite. A single mutex covers every
// operation, which keeps each mutation atomic the way a transaction does.
type MemoryStore struct {
	mu sync.Mutex

	accounts      map[string]Account
	series        map[string]Series
	chapters      map[string]Chapter
	pages         map[string][]Page // chapter ID -> pages ordered by number
	comments      map[string]Comment
	commentOrder  []string
	votes         map[string]CommentVote // comment ID + "/" + voter ID
	reactions     []Reaction
	follows       map[string]Follow // follower ID + "/" + creator ID
	notifications []Notification
	reports       []Report
	rollups       map[string]RankingRollup // period + "/" + type
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]Account),
		series:   make(map[string]Series),
		chapters: make(map[string]Chapter),
		pages:    make(map[string][]Page),
		comments: make(map[string]Comment),
		votes:    make(map[string]CommentVote),
		follows:  make(map[string]Follow),
		rollups:  make(map[string]RankingRollup),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// SetSuspended flips the suspension flag directly. Test and dev helper; the
// engine itself never lifts or imposes suspension.
func (s *MemoryStore) SetSuspended(accountID string, suspended bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.accounts[accountID]; ok {
		account.IsSuspended = suspended
		s.accounts[accountID] = account
	}
}

// --- accounts ---

func (s *MemoryStore) EnsureAccountByProvider(ctx context.Context, id, provider, providerID, handle, avatarURL string, at time.Time) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.Provider == provider && account.ProviderID == providerID {
			return account, nil
		}
	}
	account := Account{
		ID:           id,
		Provider:     provider,
		ProviderID:   providerID,
		Handle:       handle,
		AvatarURL:    avatarURL,
		CreatedAt:    at,
		LastActiveAt: at,
	}
	s.accounts[id] = account
	return account, nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return Account{}, sql.ErrNoRows
	}
	return account, nil
}

func (s *MemoryStore) GetAccounts(ctx context.Context, ids []string) (map[string]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]Account, len(ids))
	for _, id := range ids {
		if account, ok := s.accounts[id]; ok {
			result[id] = account
		}
	}
	return result, nil
}

func (s *MemoryStore) HandleTaken(ctx context.Context, handle, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.Handle == handle && account.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) UpdateAccountProfile(ctx context.Context, id string, handle, bio, avatarURL *string, at time.Time) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return Account{}, sql.ErrNoRows
	}
	if handle != nil {
		account.Handle = *handle
	}
	if bio != nil {
		account.Bio = *bio
	}
	if avatarURL != nil {
		account.AvatarURL = *avatarURL
	}
	account.LastActiveAt = at
	s.accounts[id] = account
	return account, nil
}

func (s *MemoryStore) TouchAccount(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.accounts[id]; ok {
		account.LastActiveAt = at
		s.accounts[id] = account
	}
	return nil
}

func (s *MemoryStore) ListCreators(ctx context.Context) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Account
	for _, account := range s.accounts {
		if account.IsCreator {
			result = append(result, account)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) SetCreatorFlag(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.accounts[id]; ok {
		account.IsCreator = true
		s.accounts[id] = account
	}
	return nil
}

// --- series ---

func (s *MemoryStore) InsertSeries(ctx context.Context, sr Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[sr.ID] = sr
	return nil
}

func (s *MemoryStore) GetSeries(ctx context.Context, id string) (Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.series[id]
	if !ok {
		return Series{}, sql.ErrNoRows
	}
	return sr, nil
}

func (s *MemoryStore) UpdateSeries(ctx context.Context, sr Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.series[sr.ID]; !ok {
		return sql.ErrNoRows
	}
	s.series[sr.ID] = sr
	return nil
}

func (s *MemoryStore) ListSeries(ctx context.Context) ([]Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Series
	for _, sr := range s.series {
		result = append(result, sr)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	return result, nil
}

func (s *MemoryStore) ListSeriesByCreator(ctx context.Context, creatorID string) ([]Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Series
	for _, sr := range s.series {
		if sr.CreatorID == creatorID {
			result = append(result, sr)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	return result, nil
}

// --- chapters ---

func (s *MemoryStore) InsertChapter(ctx context.Context, c Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chapters[c.ID] = c
	return nil
}

func (s *MemoryStore) GetChapter(ctx context.Context, id string) (Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chapters[id]
	if !ok {
		return Chapter{}, sql.ErrNoRows
	}
	return c, nil
}

func (s *MemoryStore) ListChaptersBySeries(ctx context.Context, seriesID string) ([]Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Chapter
	for _, c := range s.chapters {
		if c.SeriesID == seriesID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ChapterNumber > result[j].ChapterNumber })
	return result, nil
}

func (s *MemoryStore) ListChaptersByCreator(ctx context.Context, creatorID, status string) ([]Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Chapter
	for _, c := range s.chapters {
		if c.CreatorID == creatorID && c.Status == status {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return chapterSortStamp(result[i]).After(chapterSortStamp(result[j]))
	})
	return result, nil
}

func chapterSortStamp(c Chapter) time.Time {
	if c.PublishedAt != nil {
		return *c.PublishedAt
	}
	return c.UpdatedAt
}

func (s *MemoryStore) ListPublishedChapters(ctx context.Context) ([]Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Chapter
	for _, c := range s.chapters {
		if c.Status == "PUBLISHED" {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return chapterSortStamp(result[i]).After(chapterSortStamp(result[j]))
	})
	return result, nil
}

func (s *MemoryStore) AppendPage(ctx context.Context, chapterID, pageID, imageRef string, maxPages int, at time.Time) (Page, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chapters[chapterID]
	if !ok || c.Status != "DRAFT" || c.PageCount >= maxPages {
		return Page{}, false, nil
	}
	c.PageCount++
	c.UpdatedAt = at
	s.chapters[chapterID] = c
	page := Page{
		ID:         pageID,
		ChapterID:  chapterID,
		SeriesID:   c.SeriesID,
		PageNumber: c.PageCount,
		ImageRef:   imageRef,
		CreatedAt:  at,
	}
	s.pages[chapterID] = append(s.pages[chapterID], page)
	return page, true, nil
}

func (s *MemoryStore) ListPages(ctx context.Context, chapterID string) ([]Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pages := make([]Page, len(s.pages[chapterID]))
	copy(pages, s.pages[chapterID])
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	return pages, nil
}

func (s *MemoryStore) ReorderPages(ctx context.Context, chapterID string, orderedIDs []string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chapters[chapterID]
	if !ok || c.Status != "DRAFT" {
		return false, nil
	}
	current := s.pages[chapterID]
	if len(orderedIDs) != len(current) {
		return false, nil
	}
	byID := make(map[string]int, len(current))
	for i, p := range current {
		byID[p.ID] = i
	}
	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, ok := byID[id]; !ok || seen[id] {
			return false, nil
		}
		seen[id] = true
	}
	for number, id := range orderedIDs {
		current[byID[id]].PageNumber = number + 1
	}
	sort.Slice(current, func(i, j int) bool { return current[i].PageNumber < current[j].PageNumber })
	c.UpdatedAt = at
	s.chapters[chapterID] = c
	return true, nil
}

func (s *MemoryStore) PublishChapter(ctx context.Context, chapterID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chapters[chapterID]
	if !ok || c.Status != "DRAFT" || c.PageCount == 0 {
		return false, nil
	}
	c.Status = "PUBLISHED"
	stamp := at
	c.PublishedAt = &stamp
	c.UpdatedAt = at
	s.chapters[chapterID] = c
	return true, nil
}

func (s *MemoryStore) UnpublishChapter(ctx context.Context, chapterID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chapters[chapterID]
	if !ok || c.Status != "PUBLISHED" || s.hasEngagementLocked(chapterID) {
		return false, nil
	}
	c.Status = "DRAFT"
	c.PublishedAt = nil
	c.UpdatedAt = at
	s.chapters[chapterID] = c
	return true, nil
}

func (s *MemoryStore) hasEngagementLocked(chapterID string) bool {
	for _, c := range s.comments {
		if c.ChapterID == chapterID {
			return true
		}
	}
	for _, r := range s.reactions {
		if r.ChapterID == chapterID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ChapterHasEngagement(ctx context.Context, chapterID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasEngagementLocked(chapterID), nil
}

func (s *MemoryStore) ReplacePageImage(ctx context.Context, chapterID string, pageNumber int, imageRef string, at time.Time) (Page, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chapters[chapterID]
	if !ok || c.Status != "PUBLISHED" {
		return Page{}, false, nil
	}
	pages := s.pages[chapterID]
	for i := range pages {
		if pages[i].PageNumber == pageNumber {
			pages[i].ImageRef = imageRef
			c.UpdatedAt = at
			s.chapters[chapterID] = c
			return pages[i], true, nil
		}
	}
	return Page{}, false, nil
}

func (s *MemoryStore) IncrementChapterViews(ctx context.Context, chapterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chapters[chapterID]
	if !ok {
		return sql.ErrNoRows
	}
	c.ViewCount++
	s.chapters[chapterID] = c
	return nil
}

// --- comments ---

func (s *MemoryStore) InsertComment(ctx context.Context, c Comment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chapter, ok := s.chapters[c.ChapterID]
	if !ok || chapter.Status != "PUBLISHED" {
		return false, nil
	}
	chapter.CommentCount++
	s.chapters[c.ChapterID] = chapter
	s.comments[c.ID] = c
	s.commentOrder = append(s.commentOrder, c.ID)
	return true, nil
}

func (s *MemoryStore) GetComment(ctx context.Context, id string) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return Comment{}, sql.ErrNoRows
	}
	return c, nil
}

func (s *MemoryStore) ListPageComments(ctx context.Context, chapterID string, pageNumber int) ([]Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Comment
	for _, id := range s.commentOrder {
		c := s.comments[id]
		if c.ChapterID == chapterID && c.PageNumber == pageNumber {
			result = append(result, c)
		}
	}
	return result, nil
}

func (s *MemoryStore) SoftDeleteComment(ctx context.Context, commentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[commentID]
	if !ok || c.IsDeleted {
		return false, nil
	}
	c.IsDeleted = true
	s.comments[commentID] = c
	return true, nil
}

func (s *MemoryStore) SetCommentPinned(ctx context.Context, commentID string, pinned bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[commentID]
	if !ok || c.IsDeleted {
		return false, nil
	}
	c.IsPinned = pinned
	s.comments[commentID] = c
	return true, nil
}

func (s *MemoryStore) ApplyCommentVote(ctx context.Context, voteID, commentID, voterID string, value int, at time.Time) (Comment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[commentID]
	if !ok {
		return Comment{}, false, sql.ErrNoRows
	}
	key := commentID + "/" + voterID
	existing, held := s.votes[key]
	if held && existing.Value == value {
		return c, false, nil
	}
	if held {
		if existing.Value == 1 {
			c.Upvotes--
		} else {
			c.Downvotes--
		}
		existing.Value = value
		existing.CreatedAt = at
		s.votes[key] = existing
	} else {
		s.votes[key] = CommentVote{ID: voteID, CommentID: commentID, VoterID: voterID, Value: value, CreatedAt: at}
	}
	if value == 1 {
		c.Upvotes++
	} else {
		c.Downvotes++
	}
	c.Score = c.Upvotes - c.Downvotes
	s.comments[commentID] = c
	return c, true, nil
}

// --- reactions ---

func (s *MemoryStore) InsertReaction(ctx context.Context, r Reaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chapter, ok := s.chapters[r.ChapterID]
	if !ok || chapter.Status != "PUBLISHED" {
		return false, nil
	}
	chapter.ReactionCount++
	s.chapters[r.ChapterID] = chapter
	s.reactions = append(s.reactions, r)
	return true, nil
}

func (s *MemoryStore) ListPageReactions(ctx context.Context, chapterID string, pageNumber int) ([]Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Reaction
	for _, r := range s.reactions {
		if r.ChapterID == chapterID && r.PageNumber == pageNumber {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// --- follows ---

func (s *MemoryStore) InsertFollow(ctx context.Context, f Follow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := f.FollowerID + "/" + f.CreatorID
	if _, ok := s.follows[key]; ok {
		return false, nil
	}
	s.follows[key] = f
	return true, nil
}

func (s *MemoryStore) DeleteFollow(ctx context.Context, followerID, creatorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.follows, followerID+"/"+creatorID)
	return nil
}

func (s *MemoryStore) IsFollowing(ctx context.Context, followerID, creatorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.follows[followerID+"/"+creatorID]
	return ok, nil
}

func (s *MemoryStore) FollowerCount(ctx context.Context, creatorID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, f := range s.follows {
		if f.CreatorID == creatorID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) FollowerCounts(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, f := range s.follows {
		counts[f.CreatorID]++
	}
	return counts, nil
}

func (s *MemoryStore) ListFollowerIDs(ctx context.Context, creatorID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, f := range s.follows {
		if f.CreatorID == creatorID {
			ids = append(ids, f.FollowerID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// --- notifications ---

func (s *MemoryStore) InsertNotification(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *MemoryStore) InsertNotifications(ctx context.Context, notifications []Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, notifications...)
	return nil
}

func (s *MemoryStore) ListNotifications(ctx context.Context, accountID string) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Notification
	for _, n := range s.notifications {
		if n.AccountID == accountID {
			result = append(result, n)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) MarkAllNotificationsRead(ctx context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := 0
	for i := range s.notifications {
		if s.notifications[i].AccountID == accountID && !s.notifications[i].IsRead {
			s.notifications[i].IsRead = true
			marked++
		}
	}
	return marked, nil
}

// --- reports ---

func (s *MemoryStore) InsertReport(ctx context.Context, r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

// --- ranking rollups ---

func (s *MemoryStore) GetRankingRollup(ctx context.Context, period, rankingType string) (*RankingRollup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rollup, ok := s.rollups[period+"/"+rankingType]
	if !ok {
		return nil, nil
	}
	items := make([]RankingItem, len(rollup.Items))
	copy(items, rollup.Items)
	rollup.Items = items
	return &rollup, nil
}

func (s *MemoryStore) SaveRankingRollup(ctx context.Context, rollup RankingRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollups[rollup.Period+"/"+rollup.Type] = rollup
	return nil
}

// --- creator stats ---

func (s *MemoryStore) CreatorEngagementStats(ctx context.Context, creatorID string) (CreatorStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats CreatorStats
	for _, c := range s.chapters {
		if c.CreatorID == creatorID {
			stats.Reads += c.ViewCount
		}
	}
	for _, c := range s.comments {
		chapter, ok := s.chapters[c.ChapterID]
		if ok && chapter.CreatorID == creatorID && !c.IsDeleted {
			stats.Comments++
		}
	}
	for _, r := range s.reactions {
		chapter, ok := s.chapters[r.ChapterID]
		if ok && chapter.CreatorID == creatorID {
			stats.Reactions++
		}
	}
	return stats, nil
}
