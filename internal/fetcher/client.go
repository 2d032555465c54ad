package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/tokenlens/tokenlens/internal/fault"
)

// get performs one HTTP GET under the global fetch gate, bounded by the
// per-fetch timeout and the byte limit. It returns the body and the URL
// the response was ultimately served from.
func (f *Fetcher) get(ctx context.Context, rawURL string, limit int64) ([]byte, string, error) {
	if err := f.gate.Acquire(ctx, 1); err != nil {
		return nil, "", classifyNetErr(err, rawURL)
	}
	defer f.gate.Release(1)

	fctx, cancel := f.perFetchTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(fctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fault.Wrap(fault.KindBadRequest, Phase, err, "invalid url %q", rawURL)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,text/css,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", classifyNetErr(err, rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fault.New(fault.KindUnreachable, Phase, "%s returned %s", rawURL, resp.Status)
	}

	// Read one byte past the cap to tell "exactly at the limit" apart
	// from "over it".
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", classifyNetErr(err, rawURL)
	}
	if int64(len(body)) > limit {
		return nil, "", fault.New(fault.KindResourceExceeded, Phase, "%s exceeds %d bytes", rawURL, limit)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return body, finalURL, nil
}

// classifyNetErr maps transport failures to the fault taxonomy: deadlines
// become Timeout, cancellation stays Canceled, and everything else on the
// wire is Unreachable (the only retryable kind).
func classifyNetErr(err error, rawURL string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fault.Wrap(fault.KindTimeout, Phase, err, "fetching %s timed out", rawURL)
	case errors.Is(err, context.Canceled):
		return fault.Wrap(fault.KindCanceled, Phase, err, "fetch of %s canceled", rawURL)
	default:
		return fault.Wrap(fault.KindUnreachable, Phase, err, "failed to fetch %s", rawURL)
	}
}
