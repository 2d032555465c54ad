// Row models and status enums shared across the pipeline.
package storage

import "time"

// Site lifecycle states.
const (
	SiteQueued    = "queued"
	SiteScanning  = "scanning"
	SiteCompleted = "completed"
	SiteFailed    = "failed"
)

// Robots policy states.
const (
	RobotsAllowed    = "allowed"
	RobotsDisallowed = "disallowed"
	RobotsUnknown    = "unknown"
)

// Scan pipeline states. These double as the orchestrator state machine.
const (
	ScanQueued    = "queued"
	ScanFetching  = "fetching"
	ScanParsing   = "parsing"
	ScanAnalyzing = "analyzing"
	ScanDiffing   = "diffing"
	ScanCompleted = "completed"
	ScanFailed    = "failed"
	ScanCanceled  = "canceled"
)

// ScanTerminal reports whether a scan status is terminal.
func ScanTerminal(status string) bool {
	return status == ScanCompleted || status == ScanFailed || status == ScanCanceled
}

// Fetch methods.
const (
	MethodStatic   = "static"
	MethodComputed = "computed"
)

// CSS source origins.
const (
	OriginLinked   = "linked"
	OriginImported = "imported"
	OriginInline   = "inline"
	OriginComputed = "computed"
)

// Token change types.
const (
	ChangeAdded    = "added"
	ChangeRemoved  = "removed"
	ChangeModified = "modified"
)

// Site is the unique-domain root entity.
type Site struct {
	ID           string
	Domain       string
	Status       string
	RobotsStatus string
	Title        string
	Description  string
	FaviconURL   string
	Popularity   int64
	FirstSeen    time.Time
	LastScanned  *time.Time
}

// Scan is one pipeline run, immutable after finish.
type Scan struct {
	ID           string
	SiteID       string
	Method       string
	Quality      string
	Status       string
	SourceCount  int
	AggregateSHA string
	Started      *time.Time
	Finished     *time.Time
	ErrorKind    string
	ErrorMessage string
	MetricsJSON  string
	Created      time.Time
}

// CSSSource ties one scan to one deduplicated body.
type CSSSource struct {
	ID           string
	ScanID       string
	SHA          string
	Origin       string
	URL          string
	CrossSite    bool
	CascadeIndex int
	Created      time.Time
}

// ContentMeta describes a css_content row without its body.
type ContentMeta struct {
	SHA             string
	OriginalBytes   int64
	CompressedBytes int64
	ReferenceCount  int64
	TTLDays         int
	FirstSeen       time.Time
	LastAccessed    time.Time
}

// TokenSetRow is an immutable canonical token snapshot.
type TokenSetRow struct {
	ID             string
	SiteID         string
	ScanID         string
	VersionNumber  int
	TokensJSON     string
	ConsensusScore float64
	IsPublic       bool
	CreatedBy      string
	Created        time.Time
}

// TokenVersionRow links a snapshot to its predecessor.
type TokenVersionRow struct {
	ID                string
	TokenSetID        string
	SiteID            string
	PreviousVersionID string // empty for v1
	DiffAdded         int
	DiffRemoved       int
	DiffModified      int
	ChangelogJSON     string
	Created           time.Time
}

// TokenChangeRow is one atomic change within a version.
type TokenChangeRow struct {
	ID             string
	TokenVersionID string
	TokenPath      string
	ChangeType     string
	OldValue       string
	NewValue       string
	Category       string
	Created        time.Time
}

// LayoutProfileRow is the per-scan structural snapshot.
type LayoutProfileRow struct {
	ID          string
	ScanID      string
	SiteID      string
	ProfileJSON string
	Created     time.Time
}

// Submission is the queued intake record for a scan request.
type Submission struct {
	ID            string
	URL           string
	Domain        string
	Quality       string
	Prettify      bool
	Priority      int
	NotifyAddress string
	ScanID        string
	Created       time.Time
}

// StatsRow is the singleton stats_cache materialization.
type StatsRow struct {
	TotalSites        int64
	TotalScans        int64
	TotalTokenSets    int64
	TotalTokens       int64
	PerCategoryJSON   string
	AverageConfidence float64
	Updated           time.Time
}

// Vote is one confidence adjustment.
type Vote struct {
	ID         string
	TokenSetID string
	TokenKey   string
	VoteType   string // up, down
	Note       string
	Created    time.Time
}
