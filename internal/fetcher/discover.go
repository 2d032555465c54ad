package fetcher

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// document is everything one HTML pass yields: stylesheet links in
// document order, <style> bodies, a synthetic sheet built from style
// attributes, and head metadata for the site record.
type document struct {
	Links   []string
	Styles  []string
	AttrCSS string
	Meta    PageMeta
}

// discover tokenizes the page without building a DOM. Relative URLs are
// resolved against base; non-http(s) references are dropped.
func discover(page []byte, base *url.URL) *document {
	doc := &document{}
	var attrRules []string
	attrIndex := 0

	z := html.NewTokenizer(bytes.NewReader(page))
	var inStyle, inTitle bool
	var styleBody, titleText strings.Builder

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// End of input or malformed tail; keep what we have.
			doc.finish(attrRules, titleText.String())
			return doc

		case html.TextToken:
			if inStyle {
				styleBody.Write(z.Text())
			} else if inTitle {
				titleText.Write(z.Text())
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, attrs := tagAttrs(z)
			switch name {
			case "link":
				doc.handleLink(attrs, base)
			case "meta":
				if strings.EqualFold(attrs["name"], "description") && doc.Meta.Description == "" {
					doc.Meta.Description = strings.TrimSpace(attrs["content"])
				}
			case "style":
				if tt == html.StartTagToken {
					inStyle = true
					styleBody.Reset()
				}
			case "title":
				if tt == html.StartTagToken && doc.Meta.Title == "" {
					inTitle = true
					titleText.Reset()
				}
			}
			if css, ok := attrs["style"]; ok && strings.TrimSpace(css) != "" {
				attrIndex++
				attrRules = append(attrRules,
					fmt.Sprintf("[data-style-attr=\"%d\"] { %s }", attrIndex, strings.TrimSpace(css)))
			}

		case html.EndTagToken:
			name, _ := tagAttrs(z)
			switch name {
			case "style":
				if inStyle {
					inStyle = false
					if body := strings.TrimSpace(styleBody.String()); body != "" {
						doc.Styles = append(doc.Styles, body)
					}
				}
			case "title":
				if inTitle {
					inTitle = false
					if doc.Meta.Title == "" {
						doc.Meta.Title = strings.TrimSpace(titleText.String())
					}
				}
			}
		}
	}
}

func (d *document) finish(attrRules []string, title string) {
	if d.Meta.Title == "" {
		d.Meta.Title = strings.TrimSpace(title)
	}
	if len(attrRules) > 0 {
		d.AttrCSS = strings.Join(attrRules, "\n")
	}
}

func (d *document) handleLink(attrs map[string]string, base *url.URL) {
	rel := strings.ToLower(attrs["rel"])
	href := strings.TrimSpace(attrs["href"])
	if href == "" {
		return
	}
	resolved, err := base.Parse(href)
	if err != nil || (resolved.Scheme != "http" && resolved.Scheme != "https") {
		return
	}
	switch {
	case relContains(rel, "stylesheet"):
		d.Links = append(d.Links, resolved.String())
	case relContains(rel, "icon"):
		if d.Meta.FaviconURL == "" {
			d.Meta.FaviconURL = resolved.String()
		}
	}
}

// relContains matches one token of a space-separated rel list.
func relContains(rel, want string) bool {
	for _, tok := range strings.Fields(rel) {
		if tok == want {
			return true
		}
	}
	return false
}

func tagAttrs(z *html.Tokenizer) (string, map[string]string) {
	name, hasAttr := z.TagName()
	attrs := map[string]string{}
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		attrs[strings.ToLower(string(key))] = string(val)
	}
	return strings.ToLower(string(name)), attrs
}
