package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	applog "salesrecord/internal/log"
	"salesrecord/internal/projection"
)

// dashboardResponse is the full presentation state for one year.
type dashboardResponse struct {
	projection.View
	Years    []int  `json:"availableYears"`
	Revision uint64 `json:"revision"`
}

func (s *Server) dashboardBody(v projection.View, rev uint64) dashboardResponse {
	return dashboardResponse{
		View:     v,
		Years:    displayYears(v.Years, s.now()),
		Revision: rev,
	}
}

// viewForRequest honours ?year= and otherwise uses the selected year.
func (s *Server) viewForRequest(r *http.Request) (projection.View, uint64) {
	if year, ok := yearParam(r.URL.Query()); ok {
		return s.view.ViewFor(year)
	}
	return s.view.Current()
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	v, rev := s.viewForRequest(r)
	NewJSONResponse().Body(s.dashboardBody(v, rev)).Write(w)
}

// handleSelectYear changes the year the dashboard follows.
func (s *Server) handleSelectYear(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Year int `json:"year"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil || body.Year < 1 || body.Year > 9999 {
		BadRequestError("A valid year is required.").Write(w)
		return
	}

	v := s.view.SelectYear(body.Year)
	_, rev := s.view.Current()
	applog.FromContext(r.Context()).DebugContext(r.Context(), "Year selected", applog.FieldYear, body.Year)
	NewJSONResponse().Body(s.dashboardBody(v, rev)).Write(w)
}

const sseKeepAlive = 25 * time.Second

// handleEvents streams one "view" event per recomputation. ?year= pins the
// stream to a year; without it the stream follows the selected year.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		InternalServerError("streaming unsupported").Write(w)
		return
	}

	year, _ := yearParam(r.URL.Query())
	updates, stop := s.view.Watch(year)
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	logger := applog.FromContext(r.Context())
	logger.DebugContext(r.Context(), "Event stream opened", applog.FieldYear, year)
	defer logger.DebugContext(r.Context(), "Event stream closed")

	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case u, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(s.dashboardBody(u.View, u.Revision))
			if err != nil {
				logger.ErrorContext(r.Context(), "Failed to encode view event", applog.FieldError, err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: view\nid: %s\ndata: %s\n\n", strconv.FormatUint(u.Revision, 10), data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
