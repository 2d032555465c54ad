package fetcher

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// computedProperties are the resolved styles sampled per element. They
// mirror the observation categories the extractor consumes.
var computedProperties = []string{
	"color", "background-color",
	"font-family", "font-size", "font-weight", "line-height", "letter-spacing",
	"margin-top", "margin-bottom", "padding-top", "padding-bottom", "gap",
	"border-radius", "box-shadow",
	"transition-duration", "transition-timing-function",
}

// renderComputed loads the page headless and synthesizes a stylesheet from
// getComputedStyle over a capped element sample. Any failure is returned
// to the caller, which degrades the scan to static.
func (f *Fetcher) renderComputed(ctx context.Context, pageURL string) ([]byte, error) {
	bcfg := f.cfg.Browser

	l := launcher.New().Headless(bcfg.Headless)
	if bcfg.BinPath != "" {
		l = l.Bin(bcfg.BinPath)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser launch failed: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("browser connect failed: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return nil, fmt.Errorf("page open failed: %w", err)
	}
	page = page.Timeout(bcfg.PageTimeout)
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("page load failed: %w", err)
	}
	// Late style mutations (font loads, hydration) settle before sampling.
	if err := page.WaitDOMStable(bcfg.StableWait, 0.1); err != nil {
		f.log.Debug().Err(err).Str("url", pageURL).Msg("DOM did not stabilize, sampling anyway")
	}

	res, err := page.Eval(computedSampleJS(bcfg.ElementSample))
	if err != nil {
		return nil, fmt.Errorf("computed style walk failed: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// computedSampleJS builds the in-page walk. Each sampled element becomes
// one synthetic rule so the extractor counts it like authored CSS.
func computedSampleJS(sample int) string {
	props := ""
	for i, p := range computedProperties {
		if i > 0 {
			props += ","
		}
		props += "'" + p + "'"
	}
	return fmt.Sprintf(`() => {
		const props = [%s];
		const els = document.querySelectorAll('*');
		const n = Math.min(els.length, %d);
		const rules = [];
		for (let i = 0; i < n; i++) {
			const cs = getComputedStyle(els[i]);
			const decls = props
				.map(p => [p, cs.getPropertyValue(p)])
				.filter(([, v]) => v && v !== 'none' && v !== 'normal' && v !== 'auto')
				.map(([p, v]) => p + ':' + v)
				.join(';');
			if (decls) rules.push('[data-computed-sample="' + i + '"]{' + decls + '}');
		}
		return rules.join('\n');
	}`, props, sample)
}
