package store

import "time"

// Account lifecycle: created on first verified external identity, never hard
// deleted. Suspension is a soft state checked by the authorization guard.
type Account struct {
	ID              string
	Provider        string
	ProviderID      string
	Handle          string
	AvatarURL       string
	Bio             string
	IsCreator       bool
	IsSuspended     bool
	ReputationScore int
	CreatedAt       time.Time
	LastActiveAt    time.Time
}

type Series struct {
	ID              string
	CreatorID       string
	Title           string
	Description     string
	Tags            []string
	Language        string
	IsMature        bool
	ContentWarnings []string
	CoverImageRef   string
	ReadingMode     string
	// ReadingDirection is nil exactly when ReadingMode is SCROLL.
	ReadingDirection *string
	Status           string
	AverageRating    float64
	RatingCount      int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Chapter counters (PageCount, CommentCount, ReactionCount, ViewCount) are
// derived but cached: maintained inside the same atomic unit as the mutation
// that changes the underlying set.
type Chapter struct {
	ID            string
	SeriesID      string
	CreatorID     string
	ChapterNumber int
	Title         string
	Notes         string
	Status        string
	PublishedAt   *time.Time
	PageCount     int
	CommentCount  int
	ReactionCount int
	ViewCount     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Page numbers are a dense 1..N permutation while the chapter is a draft and
// frozen once it publishes; only ImageRef may change after publish.
type Page struct {
	ID         string
	ChapterID  string
	SeriesID   string
	PageNumber int
	ImageRef   string
	CreatedAt  time.Time
}

type Comment struct {
	ID         string
	ChapterID  string
	SeriesID   string
	PageNumber int
	AuthorID   string
	// ParentID is nil for top-level comments; replies never nest further.
	ParentID  *string
	Body      string
	IsDeleted bool
	IsPinned  bool
	Upvotes   int
	Downvotes int
	Score     int
	CreatedAt time.Time
}

type CommentVote struct {
	ID        string
	CommentID string
	VoterID   string
	Value     int
	CreatedAt time.Time
}

type Reaction struct {
	ID         string
	ChapterID  string
	SeriesID   string
	PageNumber int
	AccountID  string
	Emoji      string
	CreatedAt  time.Time
}

type Follow struct {
	ID         string
	FollowerID string
	CreatorID  string
	CreatedAt  time.Time
}

type Notification struct {
	ID        string
	AccountID string
	Type      string
	Payload   map[string]any
	IsRead    bool
	CreatedAt time.Time
}

type Report struct {
	ID         string
	ReporterID string
	TargetType string
	TargetID   string
	Reason     string
	Details    string
	Status     string
	CreatedAt  time.Time
}

type RankingItem struct {
	ChapterID string  `json:"chapterId"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
}

// RankingRollup is a precomputed snapshot per (period, type), refreshed by the
// out-of-band batch and read-only to the ranking engine.
type RankingRollup struct {
	ID         string
	Period     string
	Type       string
	Items      []RankingItem
	ComputedAt time.Time
}

type CreatorStats struct {
	Reads     int
	Comments  int
	Reactions int
}
