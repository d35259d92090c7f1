package search

// SeriesRecord is the data we index for a series.
type SeriesRecord struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	CreatorID     string   `json:"creatorId"`
	CreatorHandle string   `json:"creatorHandle"`
	Tags          []string `json:"tags"`
	Language      string   `json:"language"`
	IsMature      bool     `json:"isMature"`
}

// Query describes a discovery search request.
type Query struct {
	Text  string
	Tags  []string // every tag must match
	Limit int
}

// Searcher can execute a discovery search and return matching series IDs in
// relevance order.
type Searcher interface {
	Search(q Query) ([]string, error)
	Healthy() bool
}

// Indexer can push series into a search index.
type Indexer interface {
	IndexSeries(record SeriesRecord) error
	IndexAllSeries(records []SeriesRecord) error
	DeleteSeries(id string) error
}
