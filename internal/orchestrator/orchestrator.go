// Package orchestrator drives the scan pipeline: queued submissions drain
// through a fixed worker pool, each scan walking fetch, parse, analyze,
// and diff under per-phase deadlines. One scan per site runs at a time;
// everything a scan learns is durable before the terminal event fires.
package orchestrator

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenlens/tokenlens/internal/analyzer"
	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/cssstore"
	"github.com/tokenlens/tokenlens/internal/enrich"
	"github.com/tokenlens/tokenlens/internal/fault"
	"github.com/tokenlens/tokenlens/internal/fetcher"
	"github.com/tokenlens/tokenlens/internal/layout"
	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/storage"
	"github.com/tokenlens/tokenlens/internal/version"
)

// Quality modes.
const (
	QualityFast     = "fast"     // static fetch only
	QualityStandard = "standard" // static fetch + layout profile
	QualityPremium  = "premium"  // computed fetch + layout profile + enrichment
)

// PageFetcher is the fetch seam; *fetcher.Fetcher satisfies it.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string, mode fetcher.Mode, onProgress fetcher.Progress) (*fetcher.Bundle, error)
	RobotsStatus(ctx context.Context, u *url.URL) string
}

// CompletionDelta summarizes one finished scan for the stats writer.
type CompletionDelta struct {
	Status          string
	TokenSetCreated bool
	TokenCount      int
	ConsensusScore  float64
	PerCategory     map[string]int
}

// CompletionListener receives deltas after every terminal transition.
type CompletionListener interface {
	ScanFinished(delta CompletionDelta)
}

// SubmitRequest is one scan intake.
type SubmitRequest struct {
	URL      string
	Quality  string
	Prettify bool
}

// Ticket is the synchronous answer to a submission.
type Ticket struct {
	ScanID     string
	Domain     string
	Status     string
	Cached     bool
	TokenSetID string // set when served from the revalidation window
}

// job is one queued scan.
type job struct {
	scanID  string
	siteID  string
	domain  string
	pageURL string
	quality string
	method  string

	cancel   context.CancelFunc // set while running
	canceled bool
	done     chan struct{}
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	DB       *storage.DB
	CSS      *cssstore.Store
	Fetcher  PageFetcher
	Analyzer *analyzer.Analyzer
	Layout   *layout.Profiler
	Versions *version.Engine
	Enricher enrich.Enricher
	Metrics  *monitoring.MetricsCollector
	Tracker  *monitoring.Tracker
	Listener CompletionListener // optional
}

// Orchestrator owns the worker pool and the progress bus.
type Orchestrator struct {
	cfg      config.ScanConfig
	fetchCfg config.FetchConfig
	deps     Deps
	bus      *Bus
	log      zerolog.Logger

	mu        sync.Mutex
	jobs      map[string]*job // by scan id
	bySite    map[string]*job // in-flight dedup
	siteLocks map[string]*siteLock
	queue     chan *job
	running   bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// New creates an orchestrator. Call Start before submitting.
func New(cfg config.ScanConfig, fetchCfg config.FetchConfig, deps Deps) *Orchestrator {
	if deps.Enricher == nil {
		deps.Enricher = enrich.Noop{}
	}
	return &Orchestrator{
		cfg:       cfg,
		fetchCfg:  fetchCfg,
		deps:      deps,
		bus:       NewBus(cfg.ReplayRetention, deps.Metrics),
		log:       monitoring.Component("orchestrator"),
		jobs:      make(map[string]*job),
		bySite:    make(map[string]*job),
		siteLocks: make(map[string]*siteLock),
		queue:     make(chan *job, cfg.QueueDepth),
		stopChan:  make(chan struct{}),
	}
}

// Bus exposes the progress stream for the SSE handler.
func (o *Orchestrator) Bus() *Bus { return o.bus }

// Start launches the worker pool.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.mu.Unlock()

	o.log.Info().Int("workers", o.cfg.MaxConcurrent).Msg("Starting scan workers")
	for i := 0; i < o.cfg.MaxConcurrent; i++ {
		o.wg.Add(1)
		go o.work(i)
	}
}

// Stop cancels running scans, drains the workers, and closes the bus.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopChan)
	for _, j := range o.jobs {
		if j.cancel != nil {
			j.cancel()
		}
	}
	o.mu.Unlock()

	o.wg.Wait()
	o.bus.Close()
	o.log.Info().Msg("Scan workers stopped")
}

// Submit validates a scan request and either serves a cached result,
// joins an in-flight scan, or queues a new one. Submission blocks when the
// queue is full until ctx expires.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Ticket, error) {
	u, err := fetcher.ValidateURL(req.URL)
	if err != nil {
		return nil, err
	}
	quality, method, err := resolveQuality(req.Quality)
	if err != nil {
		return nil, err
	}
	// Host keeps a nonstandard port in the site key so distinct origins
	// never share a site row.
	domain := u.Host

	site, err := o.deps.DB.UpsertSite(ctx, domain)
	if err != nil {
		return nil, err
	}
	_ = o.deps.DB.IncrementSitePopularity(ctx, site.ID)

	// Known-denied hosts are rejected at the door; the cached robots
	// decision expires with the TTL store, so recovery is possible.
	if status := o.deps.Fetcher.RobotsStatus(ctx, u); status == fetcher.RobotsDisallowed {
		_ = o.deps.DB.UpdateSiteRobots(ctx, site.ID, storage.RobotsDisallowed)
		return nil, fault.New(fault.KindRobotsDenied, "submit",
			"robots.txt of %s disallows scanning", domain)
	}

	if ticket := o.cachedTicket(ctx, site); ticket != nil {
		return ticket, nil
	}

	// One scan per site in flight; later submitters share its ticket.
	o.mu.Lock()
	if existing := o.bySite[site.ID]; existing != nil {
		o.mu.Unlock()
		return &Ticket{ScanID: existing.scanID, Domain: domain, Status: storage.ScanQueued}, nil
	}
	o.mu.Unlock()

	scan, err := o.deps.DB.CreateScan(ctx, site.ID, method, quality)
	if err != nil {
		return nil, err
	}
	_ = o.deps.DB.CreateSubmission(ctx, &storage.Submission{
		URL:      u.String(),
		Domain:   domain,
		Quality:  quality,
		Prettify: req.Prettify,
		ScanID:   scan.ID,
	})

	j := &job{
		scanID:  scan.ID,
		siteID:  site.ID,
		domain:  domain,
		pageURL: u.String(),
		quality: quality,
		method:  method,
		done:    make(chan struct{}),
	}

	o.mu.Lock()
	if existing := o.bySite[site.ID]; existing != nil {
		// Lost the race; piggyback on the winner.
		o.mu.Unlock()
		return &Ticket{ScanID: existing.scanID, Domain: domain, Status: storage.ScanQueued}, nil
	}
	o.jobs[j.scanID] = j
	o.bySite[j.siteID] = j
	o.mu.Unlock()

	o.bus.Track(j.scanID)
	o.publish(j, EventProgress, storage.ScanQueued, "scan queued")

	select {
	case o.queue <- j:
	case <-ctx.Done():
		o.finishUnstarted(j, fault.Wrap(fault.KindCanceled, "submit", ctx.Err(), "submission abandoned"))
		return nil, ctx.Err()
	case <-o.stopChan:
		o.finishUnstarted(j, fault.New(fault.KindInternal, "submit", "orchestrator shutting down"))
		return nil, fault.New(fault.KindInternal, "submit", "orchestrator shutting down")
	}

	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordScanStart()
	}
	return &Ticket{ScanID: scan.ID, Domain: domain, Status: storage.ScanQueued}, nil
}

// cachedTicket serves a completed scan inside the revalidation window.
func (o *Orchestrator) cachedTicket(ctx context.Context, site *storage.Site) *Ticket {
	last, err := o.deps.DB.GetLatestCompletedScan(ctx, site.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			o.log.Error().Err(err).Str("site_id", site.ID).Msg("Revalidation lookup failed")
		}
		return nil
	}
	if last.Finished == nil {
		return nil
	}
	age := time.Since(*last.Finished)
	if age > o.cfg.RevalidateAfter() || age > o.cfg.HardExpiry() {
		return nil
	}
	set, err := o.deps.DB.GetLatestTokenSet(ctx, site.ID)
	if err != nil || set == nil {
		return nil
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordCacheServe()
	}
	return &Ticket{
		ScanID:     last.ID,
		Domain:     site.Domain,
		Status:     storage.ScanCompleted,
		Cached:     true,
		TokenSetID: set.ID,
	}
}

// Cancel requests cooperative cancellation of a queued or running scan.
func (o *Orchestrator) Cancel(scanID string) error {
	o.mu.Lock()
	j := o.jobs[scanID]
	if j == nil {
		o.mu.Unlock()
		return storage.ErrNotFound
	}
	j.canceled = true
	if j.cancel != nil {
		j.cancel()
	}
	o.mu.Unlock()
	return nil
}

// Wait blocks until the scan reaches a terminal state or the timeout hits.
func (o *Orchestrator) Wait(scanID string, timeout time.Duration) bool {
	o.mu.Lock()
	j := o.jobs[scanID]
	o.mu.Unlock()
	if j == nil {
		return true // already finished and evicted
	}
	select {
	case <-j.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (o *Orchestrator) work(id int) {
	defer o.wg.Done()
	for {
		select {
		case <-o.stopChan:
			return
		case j := <-o.queue:
			o.run(id, j)
		}
	}
}

// finishUnstarted reaps a job that never made it into the queue.
func (o *Orchestrator) finishUnstarted(j *job, cause *fault.Fault) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.deps.DB.FinishScan(ctx, j.scanID, storage.ScanOutcome{
		Status:       storage.ScanCanceled,
		ErrorKind:    string(cause.Kind),
		ErrorMessage: cause.Message,
	})
	o.publish(j, EventFailed, storage.ScanCanceled, cause.Message)
	o.evict(j)
}

func (o *Orchestrator) evict(j *job) {
	o.mu.Lock()
	delete(o.jobs, j.scanID)
	if o.bySite[j.siteID] == j {
		delete(o.bySite, j.siteID)
	}
	o.mu.Unlock()
	close(j.done)
}

// siteLock serializes scans of one site. Holders are counted so the map
// entry can be dropped once the last scan of the site finishes.
type siteLock struct {
	sync.Mutex
	refs int
}

func (o *Orchestrator) acquireSiteLock(siteID string) *siteLock {
	o.mu.Lock()
	defer o.mu.Unlock()
	l := o.siteLocks[siteID]
	if l == nil {
		l = &siteLock{}
		o.siteLocks[siteID] = l
	}
	l.refs++
	return l
}

func (o *Orchestrator) releaseSiteLock(siteID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l := o.siteLocks[siteID]
	if l == nil {
		return
	}
	if l.refs--; l.refs <= 0 {
		delete(o.siteLocks, siteID)
	}
}

func (o *Orchestrator) publish(j *job, eventType, phase, message string, details ...string) {
	o.bus.Publish(Event{
		Type:    eventType,
		ScanID:  j.scanID,
		Phase:   phase,
		Message: message,
		Details: details,
	})
}

func resolveQuality(q string) (quality, method string, err error) {
	switch q {
	case "", QualityStandard:
		return QualityStandard, storage.MethodStatic, nil
	case QualityFast:
		return QualityFast, storage.MethodStatic, nil
	case QualityPremium:
		return QualityPremium, storage.MethodComputed, nil
	default:
		return "", "", fault.New(fault.KindBadRequest, "submit", "unknown quality %q", q)
	}
}
