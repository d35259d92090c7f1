package search

import "log"

// Service fronts Meilisearch for discovery. When the index is missing or
// unhealthy, Search reports ok=false and the caller scans the catalog itself.
type Service struct {
	meili *Meili
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili}
}

// Search runs the query against Meilisearch. ok=false means the caller must
// fall back to a live catalog scan.
func (s *Service) Search(q Query) (ids []string, ok bool) {
	if s.meili == nil || !s.meili.Healthy() {
		return nil, false
	}
	ids, err := s.meili.Search(q)
	if err != nil {
		log.Printf("search: meilisearch error, falling back to catalog scan: %v", err)
		return nil, false
	}
	return ids, true
}

// IndexSeries indexes one series (fire-and-forget).
func (s *Service) IndexSeries(record SeriesRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSeries(record); err != nil {
			log.Printf("search: index series %s: %v", record.ID, err)
		}
	}()
}

// ReindexAll pushes the full series catalog into Meilisearch. Called at
// startup when Meilisearch is healthy.
func (s *Service) ReindexAll(records []SeriesRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexAllSeries(records); err != nil {
		log.Printf("search: reindex series: %v", err)
	}
}

// DeleteSeries removes a series from the index (fire-and-forget).
func (s *Service) DeleteSeries(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteSeries(id); err != nil {
			log.Printf("search: delete series %s: %v", id, err)
		}
	}()
}
