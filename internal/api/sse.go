package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tokenlens/tokenlens/internal/orchestrator"
	"github.com/tokenlens/tokenlens/internal/storage"
)

const sseHeartbeat = 15 * time.Second

// handleScanEvents streams scan progress as SSE. Delivery is
// at-least-once and ordered by step; `Last-Event-ID` resumes after the
// acknowledged step. Subscribers arriving within the replay retention
// of a finished scan get the full history.
func (s *Server) handleScanEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	after := 0
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			after = n
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	bus := s.deps.Orchestrator.Bus()
	replay, live, cancel, ok := bus.Subscribe(id, after)
	if !ok {
		s.replayFromScanRow(w, r, id, flusher)
		return
	}
	defer cancel()

	sseHeaders(w)
	lastStep := after
	for _, ev := range replay {
		writeSSE(w, ev)
		lastStep = ev.Step
		if ev.Terminal() {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev, open := <-live:
			if !open {
				// The stream ended; whatever this subscriber missed is
				// still in the retained history.
				for _, ev := range bus.Events(id, lastStep) {
					writeSSE(w, ev)
				}
				flusher.Flush()
				return
			}
			if ev.Step > lastStep+1 {
				// The subscriber buffer dropped something; the bus keeps
				// full history, so recover the gap before this event.
				catchUp(w, bus, id, lastStep, ev.Step)
			}
			writeSSE(w, ev)
			lastStep = ev.Step
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// replayFromScanRow answers for scans whose progress stream has been
// reaped: terminal scans get one synthetic terminal event.
func (s *Server) replayFromScanRow(w http.ResponseWriter, r *http.Request, id string, flusher http.Flusher) {
	scan, err := s.deps.DB.GetScan(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}
	if !storage.ScanTerminal(scan.Status) {
		writeError(w, http.StatusNotFound, "not_found", "no progress stream for scan")
		return
	}

	ev := orchestrator.Event{
		Type:    orchestrator.EventCompleted,
		ScanID:  scan.ID,
		Step:    1,
		Phase:   scan.Status,
		Message: "scan " + scan.Status,
		Time:    time.Now(),
	}
	if scan.Status != storage.ScanCompleted {
		ev.Type = orchestrator.EventFailed
		if scan.ErrorMessage != "" {
			ev.Message = scan.ErrorMessage
		}
	}

	sseHeaders(w)
	writeSSE(w, ev)
	flusher.Flush()
}

// catchUp writes retained events between the acknowledged step and the
// next delivered one, keeping the stream step-ordered with no holes.
func catchUp(w http.ResponseWriter, bus *orchestrator.Bus, scanID string, afterStep, nextStep int) {
	for _, missed := range bus.Events(scanID, afterStep) {
		if missed.Step >= nextStep {
			return
		}
		writeSSE(w, missed)
	}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeSSE(w http.ResponseWriter, ev orchestrator.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Step, ev.Type, data)
}
