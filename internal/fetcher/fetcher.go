// Package fetcher discovers and retrieves a site's CSS. One Fetch call
// produces a Bundle of stylesheet sources in cascade order: imported sheets
// before their importer, linked sheets in document order, then inline
// styles, then (in computed mode) styles synthesized from a headless
// render. Individual stylesheet failures degrade to per-source errors; only
// the page document itself is load-bearing.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/cssparse"
	"github.com/tokenlens/tokenlens/internal/fault"
	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/store"
)

// Phase is the fault phase stamped on every fetcher error.
const Phase = "fetch"

// Mode selects how CSS is gathered.
type Mode string

const (
	ModeStatic   Mode = "static"
	ModeComputed Mode = "computed"
)

// Source origins, in cascade-priority order. Values match the css_sources
// rows the orchestrator writes.
const (
	OriginLinked   = "linked"
	OriginImported = "imported"
	OriginInline   = "inline"
	OriginComputed = "computed"
)

// Source is one discovered stylesheet.
type Source struct {
	URL          string
	Origin       string
	CascadeIndex int
	CSS          []byte

	// CrossSite marks a stylesheet served from a different registrable
	// domain than the page, either directly or via redirect.
	CrossSite bool

	// Err records a non-fatal per-source failure; CSS is empty when set.
	Err string
}

// PageMeta is site metadata lifted from the document head.
type PageMeta struct {
	Title       string
	Description string
	FaviconURL  string
}

// Bundle is the result of one fetch.
type Bundle struct {
	PageURL  string
	FinalURL string
	Meta     PageMeta
	Sources  []Source
	Warnings []string

	// Mode is the mode actually used; computed degrades to static when
	// the browser cannot launch.
	Mode Mode

	TotalCSSBytes int64
}

// Progress receives the cumulative fetched byte count after every
// completed retrieval. Callbacks run on fetch goroutines and must be fast.
type Progress func(fetchedBytes int64)

// Fetcher retrieves pages and stylesheets under global concurrency and
// byte budgets.
type Fetcher struct {
	cfg     config.FetchConfig
	client  *http.Client
	robots  *store.MemoryStore
	gate    *semaphore.Weighted
	metrics *monitoring.MetricsCollector
	log     zerolog.Logger
}

// New creates a Fetcher. The TTL store caches per-host robots decisions
// and may be shared with other components; metrics may be nil.
func New(cfg config.FetchConfig, robotsCache *store.MemoryStore, metrics *monitoring.MetricsCollector) *Fetcher {
	f := &Fetcher{
		cfg:     cfg,
		robots:  robotsCache,
		gate:    semaphore.NewWeighted(cfg.GlobalSlots),
		metrics: metrics,
		log:     monitoring.Component("fetcher"),
	}
	f.client = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		},
	}
	return f
}

// ValidateURL normalizes a submitted URL and returns its parsed form. Only
// absolute http(s) URLs with a host are scannable.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fault.New(fault.KindBadRequest, Phase, "url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fault.Wrap(fault.KindBadRequest, Phase, err, "invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fault.New(fault.KindBadRequest, Phase, "unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fault.New(fault.KindBadRequest, Phase, "url %q has no host", raw)
	}
	return u, nil
}

// Fetch retrieves the page at pageURL and assembles its CSS bundle. The
// phase deadline is the caller's responsibility; Fetch only enforces the
// per-request timeout and the byte budgets.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, mode Mode, onProgress Progress) (*Bundle, error) {
	page, err := ValidateURL(pageURL)
	if err != nil {
		return nil, err
	}
	if err := f.CheckAllowed(ctx, page); err != nil {
		return nil, err
	}

	job := &fetchJob{f: f, onProgress: onProgress, visited: map[string]bool{}}

	html, finalURL, err := job.get(ctx, page.String(), f.cfg.MaxHTMLBytes)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(finalURL)
	if err != nil {
		base = page
	}

	bundle := &Bundle{PageURL: page.String(), FinalURL: finalURL, Mode: mode}
	if !sameSite(page, base) {
		bundle.Warnings = append(bundle.Warnings,
			fmt.Sprintf("page redirected across sites: %s -> %s", page.Hostname(), base.Hostname()))
	}

	doc := discover(html, base)
	bundle.Meta = doc.Meta

	// Linked sheets fan out concurrently but land in document order; each
	// slot carries the sheet's transitive imports ahead of the sheet itself.
	groups := make([][]Source, len(doc.Links))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.FanOut)
	for i, link := range doc.Links {
		g.Go(func() error {
			srcs, err := job.fetchSheet(gctx, link, base, OriginLinked, 0)
			if err != nil {
				return err
			}
			groups[i] = srcs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fault.From(err, Phase)
	}
	for _, grp := range groups {
		bundle.Sources = append(bundle.Sources, grp...)
	}

	for i, body := range doc.Styles {
		bundle.Sources = append(bundle.Sources, Source{
			URL:    fmt.Sprintf("%s#style-%d", finalURL, i+1),
			Origin: OriginInline,
			CSS:    []byte(body),
		})
	}
	if doc.AttrCSS != "" {
		bundle.Sources = append(bundle.Sources, Source{
			URL:    finalURL + "#style-attributes",
			Origin: OriginInline,
			CSS:    []byte(doc.AttrCSS),
		})
	}

	if mode == ModeComputed {
		computed, err := f.renderComputed(ctx, finalURL)
		switch {
		case err != nil:
			// Headless render is best-effort: degrade to the static bundle.
			f.log.Warn().Err(err).Str("url", finalURL).Msg("Computed render failed, degrading to static")
			bundle.Warnings = append(bundle.Warnings, "computed render unavailable: "+err.Error())
			bundle.Mode = ModeStatic
		case len(computed) > 0:
			bundle.Sources = append(bundle.Sources, Source{
				URL:    finalURL + "#computed",
				Origin: OriginComputed,
				CSS:    computed,
			})
		}
	}

	for i := range bundle.Sources {
		bundle.Sources[i].CascadeIndex = i
		bundle.TotalCSSBytes += int64(len(bundle.Sources[i].CSS))
	}
	if bundle.TotalCSSBytes == 0 {
		return nil, fault.New(fault.KindEmptyCSS, Phase, "no CSS found at %s", finalURL)
	}
	bundle.Warnings = append(bundle.Warnings, job.warnings()...)
	return bundle, nil
}

// fetchJob tracks per-scan state: the aggregate byte budget, the visited
// set for import cycles, and accumulated per-source warnings.
type fetchJob struct {
	f          *Fetcher
	onProgress Progress
	total      atomic.Int64

	mu      sync.Mutex
	visited map[string]bool
	warns   []string
}

func (j *fetchJob) warnings() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.warns
}

func (j *fetchJob) warn(format string, args ...any) {
	j.mu.Lock()
	j.warns = append(j.warns, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

// markVisited returns false when the URL was already fetched this scan.
func (j *fetchJob) markVisited(u string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.visited[u] {
		return false
	}
	j.visited[u] = true
	return true
}

// fetchSheet retrieves one stylesheet and, within the depth budget, its
// @import closure. Imported sheets precede the importer. Retrieval errors
// are non-fatal and recorded on the source; only budget violations and
// cancellation propagate.
func (j *fetchJob) fetchSheet(ctx context.Context, sheetURL string, page *url.URL, origin string, depth int) ([]Source, error) {
	if !j.markVisited(sheetURL) {
		return nil, nil
	}

	body, finalURL, err := j.get(ctx, sheetURL, j.f.cfg.MaxStylesheetBytes)
	if err != nil {
		kind := fault.KindOf(err)
		if kind == fault.KindResourceExceeded || kind == fault.KindCanceled {
			return nil, err
		}
		j.warn("stylesheet %s: %v", sheetURL, err)
		return []Source{{URL: sheetURL, Origin: origin, Err: err.Error(), CrossSite: crossSiteRaw(page, sheetURL)}}, nil
	}

	self := Source{
		URL:       finalURL,
		Origin:    origin,
		CSS:       body,
		CrossSite: crossSiteRaw(page, finalURL),
	}

	var out []Source
	if depth < j.f.cfg.ImportDepth {
		sheetBase, parseErr := url.Parse(finalURL)
		if parseErr == nil {
			for _, imp := range cssparse.ExtractImports(string(body)) {
				target, resolveErr := sheetBase.Parse(imp)
				if resolveErr != nil || (target.Scheme != "http" && target.Scheme != "https") {
					continue
				}
				imported, impErr := j.fetchSheet(ctx, target.String(), page, OriginImported, depth+1)
				if impErr != nil {
					return nil, impErr
				}
				out = append(out, imported...)
			}
		}
	}
	return append(out, self), nil
}

// get performs one capped, gated HTTP retrieval and charges the scan's
// aggregate budget.
func (j *fetchJob) get(ctx context.Context, rawURL string, limit int64) ([]byte, string, error) {
	body, finalURL, err := j.f.get(ctx, rawURL, limit)
	if err != nil {
		return nil, "", err
	}
	total := j.total.Add(int64(len(body)))
	if j.f.metrics != nil {
		j.f.metrics.RecordFetch(int64(len(body)))
	}
	if total > j.f.cfg.MaxTotalBytes {
		return nil, "", fault.New(fault.KindResourceExceeded, Phase,
			"scan exceeded %d total CSS bytes", j.f.cfg.MaxTotalBytes)
	}
	if j.onProgress != nil {
		j.onProgress(total)
	}
	return body, finalURL, nil
}

// sameSite reports whether two URLs share a registrable domain. Hosts
// without a public suffix (IPs, localhost) compare by exact hostname.
func sameSite(a, b *url.URL) bool {
	ha, hb := a.Hostname(), b.Hostname()
	if ha == hb {
		return true
	}
	ea, errA := publicsuffix.EffectiveTLDPlusOne(ha)
	eb, errB := publicsuffix.EffectiveTLDPlusOne(hb)
	if errA != nil || errB != nil {
		return false
	}
	return ea == eb
}

func crossSiteRaw(page *url.URL, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return !sameSite(page, u)
}

// perFetchTimeout bounds a single retrieval without clobbering an earlier
// caller deadline.
func (f *Fetcher) perFetchTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.cfg.PerFetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.cfg.PerFetchTimeout)
}
