package api

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/tokenlens/tokenlens/internal/fault"
	"github.com/tokenlens/tokenlens/internal/tokens"
)

const (
	searchDefaultLimit = 50
	searchMaxLimit     = 500
	searchSetWindow    = 2000 // latest token sets considered per query
)

// tokenMatcher is either a case-insensitive substring or, with the
// "re:" prefix, a compiled regular expression.
type tokenMatcher struct {
	substr string
	re     *regexp.Regexp
}

func newTokenMatcher(query string) (*tokenMatcher, error) {
	if expr, ok := strings.CutPrefix(query, "re:"); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fault.New(fault.KindBadRequest, "search", "invalid regex: %v", err)
		}
		return &tokenMatcher{re: re}, nil
	}
	return &tokenMatcher{substr: strings.ToLower(query)}, nil
}

func (m *tokenMatcher) match(candidates ...string) bool {
	for _, c := range candidates {
		if m.re != nil {
			if m.re.MatchString(c) {
				return true
			}
		} else if strings.Contains(strings.ToLower(c), m.substr) {
			return true
		}
	}
	return false
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("mode")
	if mode == "" {
		mode = "tokens"
	}

	limit := searchDefaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > searchMaxLimit {
			writeError(w, http.StatusBadRequest, string(fault.KindBadRequest),
				"limit must be between 1 and "+strconv.Itoa(searchMaxLimit))
			return
		}
		limit = n
	}

	switch mode {
	case "tokens":
		s.searchTokens(w, r, limit)
	case "sites":
		s.searchSites(w, r, limit)
	default:
		writeError(w, http.StatusBadRequest, string(fault.KindBadRequest), "mode must be tokens or sites")
	}
}

func (s *Server) searchTokens(w http.ResponseWriter, r *http.Request, limit int) {
	q := r.URL.Query()
	matcher, err := newTokenMatcher(q.Get("query"))
	if err != nil {
		writeFault(w, err)
		return
	}
	category := q.Get("category")
	var minConfidence float64
	if raw := q.Get("min_confidence"); raw != "" {
		minConfidence, err = strconv.ParseFloat(raw, 64)
		if err != nil || minConfidence < 0 || minConfidence > 1 {
			writeError(w, http.StatusBadRequest, string(fault.KindBadRequest), "min_confidence must be in [0,1]")
			return
		}
	}

	ctx := r.Context()
	sets, err := s.deps.DB.ListLatestTokenSets(ctx, searchSetWindow)
	if err != nil {
		writeFault(w, err)
		return
	}

	domains := map[string]string{} // site id -> domain
	results := make([]map[string]any, 0, limit)

	for _, row := range sets {
		if len(results) >= limit {
			break
		}
		set, err := tokens.Parse(row.TokensJSON)
		if err != nil {
			s.log.Warn().Err(err).Str("token_set_id", row.ID).Msg("Skipping unparseable token set in search")
			continue
		}
		for _, tok := range set.Tokens {
			if len(results) >= limit {
				break
			}
			if category != "" && tok.Category() != category {
				continue
			}
			if tok.Confidence < minConfidence {
				continue
			}
			if !matcher.match(tok.Path, tok.Value.CSS(), tok.Semantic) {
				continue
			}
			domain, ok := domains[row.SiteID]
			if !ok {
				if site, err := s.deps.DB.GetSiteByID(ctx, row.SiteID); err == nil {
					domain = site.Domain
				}
				domains[row.SiteID] = domain
			}
			results = append(results, map[string]any{
				"domain":     domain,
				"tokenSetId": row.ID,
				"path":       tok.Path,
				"value":      tok.Value.CSS(),
				"category":   tok.Category(),
				"confidence": tok.Confidence,
				"semantic":   tok.Semantic,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"mode": "tokens", "results": results})
}

func (s *Server) searchSites(w http.ResponseWriter, r *http.Request, limit int) {
	hits, err := s.deps.DB.SearchSites(r.Context(), r.URL.Query().Get("query"), limit)
	if err != nil {
		writeFault(w, err)
		return
	}
	results := make([]map[string]any, 0, len(hits))
	for _, hit := range hits {
		results = append(results, map[string]any{
			"domain":      hit.Site.Domain,
			"title":       hit.Site.Title,
			"description": hit.Site.Description,
			"faviconUrl":  hit.Site.FaviconURL,
			"popularity":  hit.Site.Popularity,
			"rank":        hit.Rank,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": "sites", "results": results})
}
