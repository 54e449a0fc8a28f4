package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"salesrecord/internal/core"
	applog "salesrecord/internal/log"
)

// salesResponse is the filtered list of one year with its totals.
type salesResponse struct {
	SelectedYear int                `json:"selectedYear"`
	Records      []core.SalesRecord `json:"records"`
	Summary      core.YearlySummary `json:"summary"`
	Revision     uint64             `json:"revision"`
}

func (s *Server) handleListSales(w http.ResponseWriter, r *http.Request) {
	v, rev := s.viewForRequest(r)
	records := v.Filtered
	if records == nil {
		records = []core.SalesRecord{}
	}
	NewJSONResponse().Body(salesResponse{
		SelectedYear: v.SelectedYear,
		Records:      records,
		Summary:      v.Summary,
		Revision:     rev,
	}).Write(w)
}

// handleGetSale returns one record, as the edit dialog pre-fills from it.
func (s *Server) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.view.Record(id)
	if !ok {
		NotFoundError("Sales record not found.").Write(w)
		return
	}
	NewJSONResponse().Body(rec).Write(w)
}

func (s *Server) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readForm(w, r)
	if !ok {
		return
	}
	rec, err := s.entries.Create(r.Context(), in)
	if err != nil {
		writeMutationError(w, r, applog.OpCreate, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/sales/"+rec.ID).
		Body(rec).
		Write(w)
}

func (s *Server) handleUpdateSale(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readForm(w, r)
	if !ok {
		return
	}
	rec, err := s.entries.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeMutationError(w, r, applog.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(rec).Write(w)
}

// handleDeleteSale deletes without further confirmation; clients confirm
// before calling.
func (s *Server) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	if err := s.entries.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeMutationError(w, r, applog.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) readForm(w http.ResponseWriter, r *http.Request) (core.FormInput, bool) {
	in, err := parseFormInput(w, r)
	if err == nil {
		return in, true
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		ErrorResponse(http.StatusRequestEntityTooLarge, "Request body too large.").Write(w)
	case errors.Is(err, errEmptyBody):
		BadRequestError("Request body is required.").Write(w)
	default:
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Invalid request body", applog.FieldError, err)
		BadRequestError("Invalid request format.").Write(w)
	}
	return core.FormInput{}, false
}
