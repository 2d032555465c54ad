// Package stats maintains the aggregate stats row: totals over sites,
// scans, and token sets, updated incrementally on every scan completion
// and recomputed on a timer to correct drift.
package stats

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/orchestrator"
	"github.com/tokenlens/tokenlens/internal/storage"
	"github.com/tokenlens/tokenlens/internal/store"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

const (
	deltaBuffer      = 256
	snapshotCacheKey = "stats:snapshot"
	snapshotTTL      = 60 * time.Second
	recomputeEvery   = 10 * time.Minute
)

// Service is the single writer of the stats row. It implements
// orchestrator.CompletionListener; all mutation flows through one
// goroutine so readers never see torn updates.
type Service struct {
	db    *storage.DB
	cache *store.MemoryStore
	log   zerolog.Logger

	recomputeInterval time.Duration
	deltas            chan orchestrator.CompletionDelta
	stop              chan struct{}
	wg                sync.WaitGroup
}

// Option tweaks service behavior, mainly for tests.
type Option func(*Service)

// WithRecomputeInterval overrides the drift-correction cadence.
func WithRecomputeInterval(d time.Duration) Option {
	return func(s *Service) { s.recomputeInterval = d }
}

// New creates the stats service. Call Start to launch the writer.
func New(db *storage.DB, cache *store.MemoryStore, opts ...Option) *Service {
	s := &Service{
		db:                db,
		cache:             cache,
		log:               monitoring.Component("stats"),
		recomputeInterval: recomputeEvery,
		deltas:            make(chan orchestrator.CompletionDelta, deltaBuffer),
		stop:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanFinished queues one completion delta. It never blocks the scan
// pipeline: when the buffer is full the delta is dropped and the next
// periodic recompute absorbs the difference.
func (s *Service) ScanFinished(delta orchestrator.CompletionDelta) {
	select {
	case s.deltas <- delta:
	default:
		s.log.Warn().Msg("Stats delta buffer full, dropping increment")
	}
}

// Start launches the writer goroutine.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.writer()
}

// Stop drains nothing; pending deltas are lost and recovered by the
// next process's recompute.
func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Service) writer() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.recomputeInterval)
	defer ticker.Stop()

	for {
		select {
		case delta := <-s.deltas:
			if err := s.apply(context.Background(), delta); err != nil {
				s.log.Error().Err(err).Msg("Incremental stats update failed")
			}
		case <-ticker.C:
			if err := s.Recompute(context.Background()); err != nil {
				s.log.Error().Err(err).Msg("Stats recompute failed")
			}
		case <-s.stop:
			return
		}
	}
}

// apply folds one scan completion into the stats row. Increments are
// approximate for token totals (the per-site previous count is
// unknown); Recompute trues them up.
func (s *Service) apply(ctx context.Context, delta orchestrator.CompletionDelta) error {
	row, err := s.db.GetStats(ctx)
	if err != nil {
		return err
	}

	row.TotalScans++
	if delta.TokenSetCreated {
		row.TotalTokenSets++
		row.TotalTokens += int64(delta.TokenCount)
		if row.TotalTokenSets > 0 {
			row.AverageConfidence += (delta.ConsensusScore - row.AverageConfidence) / float64(row.TotalTokenSets)
		}
		row.PerCategoryJSON = mergeCategories(row.PerCategoryJSON, delta.PerCategory)
	}
	// Sites are upserted outside this path; a cheap count keeps the
	// figure honest between recomputes.
	if sites, err := s.db.CountSites(ctx); err == nil {
		row.TotalSites = sites
	}

	if err := s.db.SaveStats(ctx, row); err != nil {
		return err
	}
	s.cache.Delete(snapshotCacheKey)
	return nil
}

// Recompute rebuilds every figure from the source tables. Token totals,
// per-category counts, and average confidence are derived from the
// latest token set of each site.
func (s *Service) Recompute(ctx context.Context) error {
	sites, err := s.db.CountSites(ctx)
	if err != nil {
		return err
	}
	scans, err := s.db.CountScans(ctx, "")
	if err != nil {
		return err
	}
	sets, err := s.db.CountTokenSets(ctx)
	if err != nil {
		return err
	}

	latest, err := s.db.ListLatestTokenSets(ctx, 2000)
	if err != nil {
		return err
	}

	var (
		totalTokens int64
		perCategory = map[string]int64{}
		confSum     float64
	)
	for _, row := range latest {
		set, err := tokens.Parse(row.TokensJSON)
		if err != nil {
			s.log.Warn().Err(err).Str("token_set_id", row.ID).Msg("Skipping unparseable token set in recompute")
			continue
		}
		totalTokens += int64(set.Len())
		for _, tok := range set.Tokens {
			perCategory[tok.Category()]++
		}
		confSum += row.ConsensusScore
	}

	out := &storage.StatsRow{
		TotalSites:      sites,
		TotalScans:      scans,
		TotalTokenSets:  sets,
		TotalTokens:     totalTokens,
		PerCategoryJSON: marshalCategories(perCategory),
	}
	if len(latest) > 0 {
		out.AverageConfidence = confSum / float64(len(latest))
	}

	if err := s.db.SaveStats(ctx, out); err != nil {
		return err
	}
	s.cache.Delete(snapshotCacheKey)
	return nil
}

// Snapshot returns the stats row through the TTL cache. Readers tolerate
// up to snapshotTTL of staleness.
func (s *Service) Snapshot(ctx context.Context) (*storage.StatsRow, error) {
	if cached, ok := s.cache.Get(snapshotCacheKey); ok {
		if row, ok := cached.(*storage.StatsRow); ok {
			return row, nil
		}
	}
	row, err := s.db.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTTL(snapshotCacheKey, row, snapshotTTL)
	return row, nil
}

func mergeCategories(existing string, add map[string]int) string {
	counts := map[string]int64{}
	if existing != "" {
		_ = json.Unmarshal([]byte(existing), &counts)
	}
	for category, n := range add {
		counts[category] += int64(n)
	}
	return marshalCategories(counts)
}

func marshalCategories(counts map[string]int64) string {
	if len(counts) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(counts)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
