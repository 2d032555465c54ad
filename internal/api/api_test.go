package api_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tokenlens/tokenlens/internal/analyzer"
	"github.com/tokenlens/tokenlens/internal/api"
	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/cssstore"
	"github.com/tokenlens/tokenlens/internal/fetcher"
	"github.com/tokenlens/tokenlens/internal/layout"
	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/orchestrator"
	"github.com/tokenlens/tokenlens/internal/stats"
	"github.com/tokenlens/tokenlens/internal/storage"
	"github.com/tokenlens/tokenlens/internal/store"
	"github.com/tokenlens/tokenlens/internal/version"
)

type apiEnv struct {
	db     *storage.DB
	orch   *orchestrator.Orchestrator
	router http.Handler
}

func newAPIEnv(t *testing.T, rateLimit config.RateLimitConfig) *apiEnv {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, config.DatabaseConfig{
		URL:           filepath.Join(t.TempDir(), "api.db"),
		BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	css, err := cssstore.New(db, config.CSSStoreConfig{TTLDays: 30})
	require.NoError(t, err)

	robots := store.NewMemoryStore(time.Minute)
	t.Cleanup(func() { robots.Close() })
	cache := store.NewMemoryStore(time.Minute)
	t.Cleanup(func() { cache.Close() })

	metrics := monitoring.NewMetricsCollector()
	fetchCfg := config.FetchConfig{
		UserAgent:            "tokenlens-test/1.0",
		PerFetchTimeout:      5 * time.Second,
		PhaseTimeoutStatic:   10 * time.Second,
		PhaseTimeoutComputed: 10 * time.Second,
		MaxHTMLBytes:         5 << 20,
		MaxStylesheetBytes:   8 << 20,
		MaxTotalBytes:        40 << 20,
		MaxRedirects:         5,
		ImportDepth:          4,
		FanOut:               4,
		GlobalSlots:          16,
		RobotsCacheTTL:       time.Hour,
	}
	scanCfg := config.ScanConfig{
		MaxConcurrent:          2,
		QueueDepth:             8,
		RevalidateAfterMS:      15 * 60 * 1000,
		HardExpiryMS:           24 * 60 * 60 * 1000,
		ParseTimeout:           10 * time.Second,
		AnalyzeTimeout:         10 * time.Second,
		DiffTimeout:            10 * time.Second,
		OverallTimeoutStatic:   30 * time.Second,
		OverallTimeoutComputed: 30 * time.Second,
		MemoryCeilingMB:        128,
		Retry:                  config.RetryConfig{BaseDelay: 10 * time.Millisecond, MaxAttempts: 2},
		ReplayRetention:        time.Minute,
	}

	statsSvc := stats.New(db, cache)

	orch := orchestrator.New(scanCfg, fetchCfg, orchestrator.Deps{
		DB:      db,
		CSS:     css,
		Fetcher: fetcher.New(fetchCfg, robots, metrics),
		Analyzer: analyzer.New(config.AnalyzerConfig{
			ColorClusterDeltaE:  3.0,
			ColorCohesionDeltaE: 1.5,
			MergeRelative:       0.05,
			MaxObservations:     50000,
		}),
		Layout:   layout.New(),
		Versions: version.NewEngine(db),
		Metrics:  metrics,
		Listener: statsSvc,
	})
	orch.Start()
	t.Cleanup(orch.Stop)

	server := api.NewServer(api.Dependencies{
		DB:           db,
		Orchestrator: orch,
		Stats:        statsSvc,
		Metrics:      metrics,
		RateLimit:    rateLimit,
		MaxBodyBytes: 1 << 20,
	})
	return &apiEnv{db: db, orch: orch, router: server.Router()}
}

const sitePage = `<html><head>
	<title>Acme Design</title>
	<meta name="description" content="Component library for anvils">
	<link rel="stylesheet" href="/main.css">
</head><body></body></html>`

const siteCSS = `
	.btn { color: #635bff; background: #0a2540; padding: 16px; }
	.card { color: #635bff; border-color: #635bff; margin: 16px; }
	.nav { color: #635bff; font-size: 16px; }
	h1 { color: #0a2540; font-size: 32px; }
`

func startSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sitePage)
	})
	mux.HandleFunc("/main.css", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, siteCSS)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// runScan submits a scan through the API and waits for completion.
func runScan(t *testing.T, env *apiEnv, url string) (scanID, domain string) {
	t.Helper()
	rec := do(t, env.router, http.MethodPost, "/scan", fmt.Sprintf(`{"url":%q}`, url))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := gjson.Parse(rec.Body.String())
	scanID = body.Get("scanId").String()
	domain = body.Get("domain").String()
	require.NotEmpty(t, scanID)
	require.True(t, env.orch.Wait(scanID, 15*time.Second), "scan did not finish")
	return scanID, domain
}

func TestSubmitScanLifecycle(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	srv := startSite(t)

	scanID, domain := runScan(t, env, srv.URL)

	rec := do(t, env.router, http.MethodGet, "/scan/"+scanID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := gjson.Parse(rec.Body.String())
	assert.Equal(t, storage.ScanCompleted, body.Get("status").String())
	assert.NotEmpty(t, domain)
}

func TestSubmitScanRejectsBadInput(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})

	rec := do(t, env.router, http.MethodPost, "/scan", `{"url":"ftp://example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, env.router, http.MethodPost, "/scan", `{"url":"https://example.com","quality":"turbo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, env.router, http.MethodPost, "/scan", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCachedResubmitReturns200(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	srv := startSite(t)

	runScan(t, env, srv.URL)

	rec := do(t, env.router, http.MethodPost, "/scan", fmt.Sprintf(`{"url":%q}`, srv.URL))
	require.Equal(t, http.StatusOK, rec.Code)
	body := gjson.Parse(rec.Body.String())
	assert.True(t, body.Get("cached").Bool())
	assert.NotEmpty(t, body.Get("tokenSetId").String())
}

func TestScanEventsStreamReplays(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	srv := startSite(t)

	scanID, _ := runScan(t, env, srv.URL)

	rec := do(t, env.router, http.MethodGet, "/scan/"+scanID+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	stream := rec.Body.String()
	assert.Contains(t, stream, "id: 1\n")
	assert.Contains(t, stream, "event: completed\n")
}

func TestScanEventsHonorsLastEventID(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	srv := startSite(t)

	scanID, _ := runScan(t, env, srv.URL)
	full := env.orch.Bus().Events(scanID, 0)
	require.Greater(t, len(full), 1)

	req := httptest.NewRequest(http.MethodGet, "/scan/"+scanID+"/events", nil)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	stream := rec.Body.String()
	assert.NotContains(t, stream, "id: 1\n", "acknowledged step must not replay")
	assert.Contains(t, stream, "id: 2\n")
	assert.Contains(t, stream, "event: completed\n")
}

func TestScanEventsUnknownScan(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	rec := do(t, env.router, http.MethodGet, "/scan/nope/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchTokensSubstring(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	srv := startSite(t)
	runScan(t, env, srv.URL)

	rec := do(t, env.router, http.MethodGet, "/search?mode=tokens&query=color", "")
	require.Equal(t, http.StatusOK, rec.Code)
	results := gjson.Get(rec.Body.String(), "results")
	require.True(t, results.IsArray())
	assert.NotEmpty(t, results.Array())
	for _, hit := range results.Array() {
		assert.Equal(t, "color", hit.Get("category").String())
	}
}

func TestSearchTokensRegex(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	srv := startSite(t)
	runScan(t, env, srv.URL)

	rec := do(t, env.router, http.MethodGet, "/search?mode=tokens&query=re:%5Ecolor%5C.", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, gjson.Get(rec.Body.String(), "results").Array())

	rec = do(t, env.router, http.MethodGet, "/search?mode=tokens&query=re:%5B", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchTokensMinConfidenceFilters(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	srv := startSite(t)
	runScan(t, env, srv.URL)

	rec := do(t, env.router, http.MethodGet, "/search?mode=tokens&query=color&min_confidence=1.0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, gjson.Get(rec.Body.String(), "results").Array())
}

func TestSearchSitesFullText(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	srv := startSite(t)
	runScan(t, env, srv.URL)

	rec := do(t, env.router, http.MethodGet, "/search?mode=sites&query=anvils", "")
	require.Equal(t, http.StatusOK, rec.Code)
	results := gjson.Get(rec.Body.String(), "results").Array()
	require.NotEmpty(t, results)
	assert.Equal(t, "Acme Design", results[0].Get("title").String())
}

func TestSearchRejectsBadParams(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})

	rec := do(t, env.router, http.MethodGet, "/search?mode=nope&query=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, env.router, http.MethodGet, "/search?query=x&limit=9999", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSiteDetail(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	srv := startSite(t)
	_, domain := runScan(t, env, srv.URL)

	rec := do(t, env.router, http.MethodGet, "/site/"+domain, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := gjson.Parse(rec.Body.String())
	assert.Equal(t, "Acme Design", body.Get("title").String())
	assert.Equal(t, int64(1), body.Get("tokenSet.versionNumber").Int())
	assert.True(t, body.Get("tokenSet.tokens").IsObject())
	assert.NotEmpty(t, body.Get("scans").Array())
}

func TestGetSiteNotFound(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	rec := do(t, env.router, http.MethodGet, "/site/unknown.example", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	srv := startSite(t)
	runScan(t, env, srv.URL)

	rec := do(t, env.router, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := gjson.Parse(rec.Body.String())
	assert.True(t, body.Get("totalSites").Exists())
	assert.True(t, body.Get("perCategory").Exists())
}

func TestVoteAdjustsConfidence(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	srv := startSite(t)
	_, domain := runScan(t, env, srv.URL)

	site, err := env.db.GetSiteByDomain(context.Background(), domain)
	require.NoError(t, err)
	set, err := env.db.GetLatestTokenSet(context.Background(), site.ID)
	require.NoError(t, err)

	var tokenKey string
	var before float64
	gjson.Parse(set.TokensJSON).ForEach(func(category, group gjson.Result) bool {
		group.ForEach(func(name, node gjson.Result) bool {
			if node.Get("$value").Exists() {
				tokenKey = category.String() + "." + name.String()
				before = node.Get("$extensions.confidence").Float()
				return false
			}
			return true
		})
		return tokenKey == ""
	})
	require.NotEmpty(t, tokenKey)

	body := fmt.Sprintf(`{"tokenSetId":%q,"tokenKey":%q,"voteType":"up"}`, set.ID, tokenKey)
	rec := do(t, env.router, http.MethodPost, "/vote", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	after := gjson.Get(rec.Body.String(), "confidence").Float()
	assert.InDelta(t, before+0.05, after, 1e-9)

	stored, err := env.db.GetTokenSet(context.Background(), set.ID)
	require.NoError(t, err)
	assert.InDelta(t, after, gjson.Get(stored.TokensJSON, tokenKey+".$extensions.confidence").Float(), 1e-9)
}

func TestVoteValidation(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})

	rec := do(t, env.router, http.MethodPost, "/vote", `{"tokenSetId":"x","tokenKey":"color.primary","voteType":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, env.router, http.MethodPost, "/vote", `{"tokenSetId":"missing","tokenKey":"color.primary","voteType":"up"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})
	rec := do(t, env.router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := gjson.Parse(rec.Body.String())
	assert.Equal(t, "ok", body.Get("status").String())
	assert.True(t, body.Get("metrics").IsObject())
}

func TestRateLimitOnMutatingRoutes(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             1,
		MaxClients:        10,
	})

	first := do(t, env.router, http.MethodPost, "/scan", `{"url":"ftp://nope"}`)
	assert.Equal(t, http.StatusBadRequest, first.Code) // consumed a token

	second := do(t, env.router, http.MethodPost, "/scan", `{"url":"ftp://nope"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// Read routes are never limited.
	third := do(t, env.router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, third.Code)
}

func TestSecurityHeadersAndCORS(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})

	rec := do(t, env.router, http.MethodGet, "/healthz", "")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodOptions, "/scan", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	pre := httptest.NewRecorder()
	env.router.ServeHTTP(pre, req)
	assert.Equal(t, http.StatusNoContent, pre.Code)
	assert.Equal(t, "http://localhost:3000", pre.Header().Get("Access-Control-Allow-Origin"))
}

func TestBodyLimitRejectsOversizedPayload(t *testing.T) {
	env := newAPIEnv(t, config.RateLimitConfig{})

	huge := `{"url":"` + strings.Repeat("a", 2<<20) + `"}`
	rec := do(t, env.router, http.MethodPost, "/scan", huge)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
