package fetcher

import (
	"context"
	"net/url"

	"github.com/temoto/robotstxt"

	"github.com/tokenlens/tokenlens/internal/fault"
)

// robotsEntry is the cached per-host robots state. A nil Data means the
// robots.txt could not be fetched or parsed; the host is then treated as
// allowed but recorded as unknown.
type robotsEntry struct {
	Data *robotstxt.RobotsData
}

// RobotsStatus resolves the robots.txt verdict for a URL: allowed,
// disallowed, or unknown. Decisions are cached per host in the TTL store.
func (f *Fetcher) RobotsStatus(ctx context.Context, u *url.URL) string {
	entry := f.robotsEntry(ctx, u)
	if entry.Data == nil {
		return RobotsUnknown
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if entry.Data.FindGroup(f.cfg.UserAgent).Test(path) {
		return RobotsAllowed
	}
	return RobotsDisallowed
}

// Robots verdicts. Values match the sites.robots_status column.
const (
	RobotsAllowed    = "allowed"
	RobotsDisallowed = "disallowed"
	RobotsUnknown    = "unknown"
)

// CheckAllowed returns a RobotsDenied fault when the host's robots.txt
// disallows the URL for the configured user agent. Unknown is allowed.
func (f *Fetcher) CheckAllowed(ctx context.Context, u *url.URL) error {
	if f.RobotsStatus(ctx, u) == RobotsDisallowed {
		return fault.New(fault.KindRobotsDenied, Phase,
			"robots.txt of %s disallows %q", u.Hostname(), f.cfg.UserAgent)
	}
	return nil
}

// maximum robots.txt size we will read
const robotsByteLimit = 512 * 1024

func (f *Fetcher) robotsEntry(ctx context.Context, u *url.URL) robotsEntry {
	key := "robots:" + u.Scheme + "://" + u.Host
	if cached, ok := f.robots.Get(key); ok {
		if entry, ok := cached.(robotsEntry); ok {
			return entry
		}
	}

	entry := f.fetchRobots(ctx, u)
	_ = f.robots.SetWithTTL(key, entry, f.cfg.RobotsCacheTTL)
	return entry
}

func (f *Fetcher) fetchRobots(ctx context.Context, u *url.URL) robotsEntry {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	body, _, err := f.get(ctx, robotsURL, robotsByteLimit)
	if err != nil {
		// Missing or unreachable robots.txt never blocks a scan.
		f.log.Debug().Err(err).Str("url", robotsURL).Msg("robots.txt unavailable")
		return robotsEntry{}
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		f.log.Debug().Err(err).Str("url", robotsURL).Msg("robots.txt unparseable")
		return robotsEntry{}
	}
	return robotsEntry{Data: data}
}
