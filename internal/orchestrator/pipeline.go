package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tokenlens/tokenlens/internal/analyzer"
	"github.com/tokenlens/tokenlens/internal/cssparse"
	"github.com/tokenlens/tokenlens/internal/fault"
	"github.com/tokenlens/tokenlens/internal/fetcher"
	"github.com/tokenlens/tokenlens/internal/layout"
	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/storage"
	"github.com/tokenlens/tokenlens/internal/version"
)

// scanState accumulates what one run learns, for telemetry and the
// terminal record.
type scanState struct {
	phase        string
	bundle       *fetcher.Bundle
	sources      []cssparse.Source
	aggregateSHA string
	obs          *cssparse.Observations
	profile      *layout.Profile
	analysis     *analyzer.Result
	commit       *version.Result
	dedupHits    int
	warnings     []string

	fetchDur, parseDur, analyzeDur, diffDur time.Duration
}

func (o *Orchestrator) run(workerID int, j *job) {
	// Whole-scan site serialization, not just the DB write.
	lock := o.acquireSiteLock(j.siteID)
	lock.Lock()
	defer func() {
		lock.Unlock()
		o.releaseSiteLock(j.siteID)
	}()
	defer o.evict(j)

	overall := o.cfg.OverallTimeoutStatic
	if j.method == storage.MethodComputed {
		overall = o.cfg.OverallTimeoutComputed
	}
	ctx, cancel := context.WithTimeout(context.Background(), overall)
	defer cancel()
	ctx = monitoring.WithScanIDContext(ctx, j.scanID)

	o.mu.Lock()
	if j.canceled {
		o.mu.Unlock()
		o.finish(j, &scanState{phase: "queue"},
			fault.New(fault.KindCanceled, "queue", "scan canceled while queued"), time.Now())
		return
	}
	j.cancel = cancel
	o.mu.Unlock()

	o.log.Info().Int("worker", workerID).Str("scan_id", j.scanID).
		Str("domain", j.domain).Str("quality", j.quality).Msg("Scan started")

	start := time.Now()
	state := &scanState{}
	err := o.pipeline(ctx, j, state)
	o.finish(j, state, err, start)
}

func (o *Orchestrator) pipeline(ctx context.Context, j *job, s *scanState) error {
	if err := o.fetchPhase(ctx, j, s); err != nil {
		return err
	}
	if err := o.storeSources(ctx, j, s); err != nil {
		return err
	}
	if err := o.parsePhase(ctx, j, s); err != nil {
		return err
	}
	if err := o.analyzePhase(ctx, j, s); err != nil {
		return err
	}
	return o.diffPhase(ctx, j, s)
}

// transition records a phase change durably and on the progress stream.
func (o *Orchestrator) transition(ctx context.Context, j *job, s *scanState, status, message string) error {
	s.phase = status
	if err := o.deps.DB.UpdateScanStatus(ctx, j.scanID, status); err != nil {
		return fault.Wrap(fault.KindInternal, status, err, "failed to record transition")
	}
	o.publish(j, EventProgress, status, message)
	return nil
}

func (o *Orchestrator) fetchPhase(ctx context.Context, j *job, s *scanState) error {
	if err := o.transition(ctx, j, s, storage.ScanFetching, "fetching "+j.pageURL); err != nil {
		return err
	}
	if err := o.deps.DB.UpdateSiteStatus(ctx, j.siteID, storage.SiteScanning); err != nil {
		return fault.Wrap(fault.KindInternal, storage.ScanFetching, err, "failed to mark site scanning")
	}

	mode := fetcher.ModeStatic
	phaseTimeout := o.fetchCfg.PhaseTimeoutStatic
	if j.method == storage.MethodComputed {
		mode = fetcher.ModeComputed
		phaseTimeout = o.fetchCfg.PhaseTimeoutComputed
	}

	started := time.Now()
	defer func() { s.fetchDur = time.Since(started) }()

	var lastErr error
	for attempt := 1; attempt <= o.cfg.Retry.MaxAttempts; attempt++ {
		fctx, cancel := context.WithTimeout(ctx, phaseTimeout)
		bundle, err := o.deps.Fetcher.Fetch(fctx, j.pageURL, mode, o.fetchProgress(j))
		cancel()
		if err == nil {
			s.bundle = bundle
			s.warnings = append(s.warnings, bundle.Warnings...)
			o.publish(j, EventProgress, storage.ScanFetching,
				fmt.Sprintf("fetched %d stylesheets (%d bytes)", len(bundle.Sources), bundle.TotalCSSBytes))
			return nil
		}
		lastErr = err
		if !fault.Retryable(fault.KindOf(err)) || attempt == o.cfg.Retry.MaxAttempts {
			break
		}
		delay := o.cfg.Retry.Delay(attempt)
		o.publish(j, EventProgress, storage.ScanFetching,
			fmt.Sprintf("fetch attempt %d failed, retrying in %s", attempt, delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fault.From(ctx.Err(), storage.ScanFetching)
		}
	}
	return lastErr
}

// fetchProgress throttles byte-count events to ~5% growth quanta.
func (o *Orchestrator) fetchProgress(j *job) fetcher.Progress {
	var mu sync.Mutex
	var last int64
	return func(total int64) {
		mu.Lock()
		defer mu.Unlock()
		if last > 0 && float64(total) < float64(last)*1.05 {
			return
		}
		last = total
		o.publish(j, EventProgress, storage.ScanFetching, fmt.Sprintf("fetched %d bytes", total))
	}
}

// storeSources dedups every fetched body into the content store and links
// it to the scan. Runs inside the fetching phase.
func (o *Orchestrator) storeSources(ctx context.Context, j *job, s *scanState) error {
	if u, err := url.Parse(j.pageURL); err == nil {
		_ = o.deps.DB.UpdateSiteRobots(ctx, j.siteID, o.deps.Fetcher.RobotsStatus(ctx, u))
	}

	ceiling := int64(o.cfg.MemoryCeilingMB) << 20
	if s.bundle.TotalCSSBytes > ceiling {
		return fault.New(fault.KindResourceExceeded, storage.ScanFetching,
			"decompressed CSS %d bytes exceeds the %d MB ceiling", s.bundle.TotalCSSBytes, o.cfg.MemoryCeilingMB)
	}

	agg := sha256.New()
	for _, src := range s.bundle.Sources {
		if src.Err != "" || len(src.CSS) == 0 {
			if src.Err != "" {
				s.warnings = append(s.warnings, fmt.Sprintf("source %s skipped: %s", src.URL, src.Err))
			}
			continue
		}
		put, err := o.deps.CSS.Put(ctx, src.CSS)
		if err != nil {
			return fault.Wrap(fault.KindInternal, storage.ScanFetching, err, "failed to store stylesheet body")
		}
		if o.deps.Metrics != nil {
			if put.Hit {
				o.deps.Metrics.RecordDedupHit()
			} else {
				o.deps.Metrics.RecordDedupMiss()
			}
		}
		if put.Hit {
			s.dedupHits++
		}
		if err := o.deps.DB.AddCSSSource(ctx, &storage.CSSSource{
			ScanID:       j.scanID,
			SHA:          put.SHA,
			Origin:       src.Origin,
			URL:          src.URL,
			CrossSite:    src.CrossSite,
			CascadeIndex: src.CascadeIndex,
		}); err != nil {
			return fault.Wrap(fault.KindInternal, storage.ScanFetching, err, "failed to record css source")
		}
		agg.Write([]byte(put.SHA))
		s.sources = append(s.sources, cssparse.Source{
			SHA:          put.SHA,
			URL:          src.URL,
			Origin:       src.Origin,
			CascadeIndex: src.CascadeIndex,
			CSS:          src.CSS,
		})
	}
	if len(s.sources) == 0 {
		return fault.New(fault.KindEmptyCSS, storage.ScanFetching, "every source failed or was empty")
	}
	s.aggregateSHA = hex.EncodeToString(agg.Sum(nil))
	return nil
}

// parsePhase extracts observations and, outside fast mode, profiles layout
// concurrently over the same sources.
func (o *Orchestrator) parsePhase(ctx context.Context, j *job, s *scanState) error {
	if err := o.transition(ctx, j, s, storage.ScanParsing, fmt.Sprintf("parsing %d stylesheets", len(s.sources))); err != nil {
		return err
	}
	started := time.Now()
	defer func() { s.parseDur = time.Since(started) }()

	pctx, cancel := context.WithTimeout(ctx, o.cfg.ParseTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(pctx)
	g.Go(func() error {
		obs, err := cssparse.Extract(gctx, s.sources, o.deps.Analyzer.MaxObservations())
		if err != nil {
			return fault.From(err, storage.ScanParsing)
		}
		s.obs = obs
		return nil
	})
	if j.quality != QualityFast {
		g.Go(func() error {
			profile, err := o.deps.Layout.Analyze(gctx, s.sources)
			if err != nil {
				return fault.From(err, storage.ScanParsing)
			}
			s.profile = profile
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.warnings = append(s.warnings, s.obs.Warnings...)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordInvalidDeclarations(s.obs.Invalid)
		o.deps.Metrics.RecordUnresolvedVariables(s.obs.Unresolved)
	}
	o.publish(j, EventProgress, storage.ScanParsing,
		fmt.Sprintf("parsed %d rules, %d invalid declarations", s.obs.Rules, s.obs.Invalid))
	return nil
}

func (o *Orchestrator) analyzePhase(ctx context.Context, j *job, s *scanState) error {
	if err := o.transition(ctx, j, s, storage.ScanAnalyzing, "deriving consensus tokens"); err != nil {
		return err
	}
	started := time.Now()
	defer func() { s.analyzeDur = time.Since(started) }()

	actx, cancel := context.WithTimeout(ctx, o.cfg.AnalyzeTimeout)
	defer cancel()

	analysis, err := o.deps.Analyzer.Analyze(actx, s.obs)
	if err != nil {
		return fault.From(err, storage.ScanAnalyzing)
	}
	s.analysis = analysis
	s.warnings = append(s.warnings, analysis.Warnings...)
	if s.profile != nil {
		s.profile.AttachSpacing(analysis.BaseUnit, analysis.SpacingPx)
	}

	if j.quality == QualityPremium {
		// Advisory refinement; the enricher swallows its own failures.
		if refined, err := o.deps.Enricher.Enrich(actx, analysis.Set); err == nil && refined != nil {
			analysis.Set = refined
		}
	}

	o.publish(j, EventProgress, storage.ScanAnalyzing,
		fmt.Sprintf("derived %d tokens", analysis.Set.Len()))
	return nil
}

func (o *Orchestrator) diffPhase(ctx context.Context, j *job, s *scanState) error {
	if err := o.transition(ctx, j, s, storage.ScanDiffing, "versioning token set"); err != nil {
		return err
	}
	started := time.Now()
	defer func() { s.diffDur = time.Since(started) }()

	dctx, cancel := context.WithTimeout(ctx, o.cfg.DiffTimeout)
	defer cancel()

	commit, err := o.deps.Versions.Commit(dctx, j.siteID, j.scanID, s.analysis.Set, "scanner")
	if err != nil {
		return fault.From(err, storage.ScanDiffing)
	}
	s.commit = commit

	if s.profile != nil {
		if doc, jerr := s.profile.JSON(); jerr == nil {
			_ = o.deps.DB.UpsertLayoutProfile(dctx, &storage.LayoutProfileRow{
				ScanID:      j.scanID,
				SiteID:      j.siteID,
				ProfileJSON: doc,
			})
		}
	}
	return nil
}

// finish records the terminal state. It uses a fresh context so a scan
// canceled mid-phase still unwinds durably and quickly.
func (o *Orchestrator) finish(j *job, s *scanState, scanErr error, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	total := time.Since(start)
	status := storage.ScanCompleted
	var kind fault.Kind
	if scanErr != nil {
		kind = fault.KindOf(scanErr)
		if kind == fault.KindCanceled {
			status = storage.ScanCanceled
		} else {
			status = storage.ScanFailed
		}
	}

	outcome := storage.ScanOutcome{
		Status:       status,
		AggregateSHA: s.aggregateSHA,
		MetricsJSON:  s.metricsJSON(total),
	}
	if s.bundle != nil {
		outcome.SourceCount = len(s.sources)
	}
	if scanErr != nil {
		outcome.ErrorKind = string(kind)
		outcome.ErrorMessage = scanErr.Error()
	}
	if err := o.deps.DB.FinishScan(ctx, j.scanID, outcome); err != nil {
		o.log.Error().Err(err).Str("scan_id", j.scanID).Msg("Failed to finalize scan row")
	}

	delta := CompletionDelta{Status: status}
	switch {
	case scanErr == nil:
		meta := s.bundle.Meta
		if err := o.deps.DB.CompleteSite(ctx, j.siteID, meta.Title, meta.Description, meta.FaviconURL); err != nil {
			o.log.Error().Err(err).Str("site_id", j.siteID).Msg("Failed to finalize site row")
		}
		delta.TokenSetCreated = true
		delta.TokenCount = s.analysis.Set.Len()
		delta.ConsensusScore = s.analysis.Set.ConsensusScore()
		delta.PerCategory = categoryCounts(s.analysis)
		o.publish(j, EventCompleted, s.phase,
			fmt.Sprintf("scan complete: version %d, +%d -%d ~%d",
				s.commit.Set.VersionNumber, s.commit.Added, s.commit.Removed, s.commit.Modified),
			s.warnings...)
	default:
		// Prior versions keep serving; only a site with nothing published
		// flips to failed.
		switch _, lerr := o.deps.DB.GetLatestTokenSet(ctx, j.siteID); {
		case errors.Is(lerr, storage.ErrNotFound):
			_ = o.deps.DB.UpdateSiteStatus(ctx, j.siteID, storage.SiteFailed)
		case lerr == nil:
			_ = o.deps.DB.UpdateSiteStatus(ctx, j.siteID, storage.SiteCompleted)
		}
		o.publish(j, EventFailed, s.phase, scanErr.Error(), s.warnings...)
	}

	if o.deps.Listener != nil {
		o.deps.Listener.ScanFinished(delta)
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordScanOutcome(status, total)
	}
	o.recordTelemetry(j, s, status, kind, scanErr, total)

	logEvent := o.log.Info()
	if scanErr != nil {
		logEvent = o.log.Warn().Err(scanErr)
	}
	logEvent.Str("scan_id", j.scanID).Str("domain", j.domain).
		Str("status", status).Dur("took", total).Msg("Scan finished")
}

func (s *scanState) metricsJSON(total time.Duration) string {
	doc, err := json.Marshal(map[string]int64{
		"fetch_ms":   s.fetchDur.Milliseconds(),
		"parse_ms":   s.parseDur.Milliseconds(),
		"analyze_ms": s.analyzeDur.Milliseconds(),
		"diff_ms":    s.diffDur.Milliseconds(),
		"total_ms":   total.Milliseconds(),
		"dedup_hits": int64(s.dedupHits),
	})
	if err != nil {
		return ""
	}
	return string(doc)
}

func (o *Orchestrator) recordTelemetry(j *job, s *scanState, status string, kind fault.Kind, scanErr error, total time.Duration) {
	if o.deps.Tracker == nil {
		return
	}
	ev := &monitoring.ScanEvent{
		ScanID:    j.scanID,
		Domain:    j.domain,
		Method:    j.method,
		Quality:   j.quality,
		Timestamp: time.Now(),
		Status:    status,
		FaultKind: string(kind),
		DedupHits: s.dedupHits,
		Warnings:  s.warnings,
		FetchMs:   s.fetchDur.Milliseconds(),
		ParseMs:   s.parseDur.Milliseconds(),
		AnalyzeMs: s.analyzeDur.Milliseconds(),
		DiffMs:    s.diffDur.Milliseconds(),
		TotalMs:   total.Milliseconds(),
	}
	if scanErr != nil {
		ev.Error = scanErr.Error()
	}
	if s.bundle != nil {
		ev.SourceCount = len(s.bundle.Sources)
		ev.CSSBytes = s.bundle.TotalCSSBytes
	}
	if s.obs != nil {
		ev.InvalidDeclarations = s.obs.Invalid
		for _, b := range s.obs.Buckets {
			ev.Observations += len(b.Observations)
		}
	}
	if s.analysis != nil {
		ev.TokensEmitted = s.analysis.Set.Len()
		ev.Consensus = s.analysis.Set.ConsensusScore()
	}
	if s.commit != nil {
		ev.VersionNumber = s.commit.Set.VersionNumber
		ev.Added = s.commit.Added
		ev.Removed = s.commit.Removed
		ev.Modified = s.commit.Modified
	}
	o.deps.Tracker.RecordScan(ev)
}

func categoryCounts(a *analyzer.Result) map[string]int {
	counts := map[string]int{}
	for _, t := range a.Set.Tokens {
		counts[t.Category()]++
	}
	return counts
}
