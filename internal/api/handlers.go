package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tokenlens/tokenlens/internal/fault"
	"github.com/tokenlens/tokenlens/internal/orchestrator"
	"github.com/tokenlens/tokenlens/internal/storage"
)

const voteConfidenceStep = 0.05

// writeFault maps the error taxonomy onto HTTP statuses.
func writeFault(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	kind := fault.KindOf(err)
	writeError(w, fault.HTTPStatus(kind), string(kind), err.Error())
}

type scanRequest struct {
	URL      string `json:"url"`
	Quality  string `json:"quality"`
	Prettify bool   `json:"prettify"`
}

type scanResponse struct {
	ScanID     string `json:"scanId"`
	Domain     string `json:"domain"`
	Status     string `json:"status"`
	Cached     bool   `json:"cached,omitempty"`
	TokenSetID string `json:"tokenSetId,omitempty"`
}

func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(fault.KindBadRequest), "invalid JSON body")
		return
	}

	ticket, err := s.deps.Orchestrator.Submit(r.Context(), orchestrator.SubmitRequest{
		URL:      req.URL,
		Quality:  req.Quality,
		Prettify: req.Prettify,
	})
	if err != nil {
		writeFault(w, err)
		return
	}

	resp := scanResponse{
		ScanID:     ticket.ScanID,
		Domain:     ticket.Domain,
		Status:     ticket.Status,
		Cached:     ticket.Cached,
		TokenSetID: ticket.TokenSetID,
	}
	if ticket.Cached {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.deps.DB.GetScan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scanId":       scan.ID,
		"siteId":       scan.SiteID,
		"method":       scan.Method,
		"quality":      scan.Quality,
		"status":       scan.Status,
		"sourceCount":  scan.SourceCount,
		"errorKind":    scan.ErrorKind,
		"errorMessage": scan.ErrorMessage,
	})
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Orchestrator.Cancel(id); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"scanId": id, "status": "canceling"})
}

func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	site, err := s.deps.DB.GetSiteByDomain(ctx, chi.URLParam(r, "domain"))
	if err != nil {
		writeFault(w, err)
		return
	}

	resp := map[string]any{
		"domain":       site.Domain,
		"status":       site.Status,
		"robotsStatus": site.RobotsStatus,
		"title":        site.Title,
		"description":  site.Description,
		"faviconUrl":   site.FaviconURL,
		"popularity":   site.Popularity,
		"firstSeen":    site.FirstSeen,
	}

	if set, err := s.deps.DB.GetLatestTokenSet(ctx, site.ID); err == nil && set != nil {
		tokenSet := map[string]any{
			"id":             set.ID,
			"versionNumber":  set.VersionNumber,
			"consensusScore": set.ConsensusScore,
			"tokens":         json.RawMessage(set.TokensJSON),
			"createdAt":      set.Created,
		}
		if ver, err := s.deps.DB.GetVersionForSet(ctx, set.ID); err == nil {
			tokenSet["diffSummary"] = map[string]int{
				"added":    ver.DiffAdded,
				"removed":  ver.DiffRemoved,
				"modified": ver.DiffModified,
			}
		}
		resp["tokenSet"] = tokenSet
	}

	if profile, err := s.deps.DB.GetLatestLayoutProfile(ctx, site.ID); err == nil {
		resp["layoutProfile"] = json.RawMessage(profile.ProfileJSON)
	}

	limit, offset := pageParams(r, 20, 100)
	scans, err := s.deps.DB.ListScans(ctx, site.ID, limit, offset)
	if err == nil {
		history := make([]map[string]any, 0, len(scans))
		for _, scan := range scans {
			history = append(history, map[string]any{
				"scanId":    scan.ID,
				"status":    scan.Status,
				"method":    scan.Method,
				"quality":   scan.Quality,
				"errorKind": scan.ErrorKind,
				"createdAt": scan.Created,
			})
		}
		resp["scans"] = history
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	row, err := s.deps.Stats.Snapshot(r.Context())
	if err != nil {
		writeFault(w, err)
		return
	}
	perCategory := row.PerCategoryJSON
	if perCategory == "" {
		perCategory = "{}"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totalSites":        row.TotalSites,
		"totalScans":        row.TotalScans,
		"totalTokenSets":    row.TotalTokenSets,
		"totalTokens":       row.TotalTokens,
		"perCategory":       json.RawMessage(perCategory),
		"averageConfidence": row.AverageConfidence,
		"updatedAt":         row.Updated,
	})
}

type voteRequest struct {
	TokenSetID string `json:"tokenSetId"`
	TokenKey   string `json:"tokenKey"`
	VoteType   string `json:"voteType"`
	Note       string `json:"note"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(fault.KindBadRequest), "invalid JSON body")
		return
	}
	if req.VoteType != "up" && req.VoteType != "down" {
		writeError(w, http.StatusBadRequest, string(fault.KindBadRequest), "voteType must be up or down")
		return
	}
	if req.TokenKey == "" || strings.ContainsAny(req.TokenKey, "#*?[]") {
		writeError(w, http.StatusBadRequest, string(fault.KindBadRequest), "invalid tokenKey")
		return
	}

	ctx := r.Context()
	set, err := s.deps.DB.GetTokenSet(ctx, req.TokenSetID)
	if err != nil {
		writeFault(w, err)
		return
	}
	if !gjson.Get(set.TokensJSON, req.TokenKey+".$value").Exists() {
		writeError(w, http.StatusNotFound, "not_found", "token not found in set")
		return
	}

	if err := s.deps.DB.InsertVote(ctx, &storage.Vote{
		TokenSetID: req.TokenSetID,
		TokenKey:   req.TokenKey,
		VoteType:   req.VoteType,
		Note:       req.Note,
	}); err != nil {
		writeFault(w, err)
		return
	}

	confPath := req.TokenKey + ".$extensions.confidence"
	confidence := gjson.Get(set.TokensJSON, confPath).Float()
	if req.VoteType == "up" {
		confidence += voteConfidenceStep
	} else {
		confidence -= voteConfidenceStep
	}
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	updated, err := sjson.Set(set.TokensJSON, confPath, confidence)
	if err != nil {
		writeFault(w, err)
		return
	}
	if err := s.deps.DB.UpdateTokenSetJSON(ctx, set.ID, updated); err != nil {
		writeFault(w, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordVote()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tokenSetId": set.ID,
		"tokenKey":   req.TokenKey,
		"confidence": confidence,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.DB.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	body := map[string]any{"status": "ok"}
	if s.deps.Metrics != nil {
		body["metrics"] = s.deps.Metrics.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

func pageParams(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
