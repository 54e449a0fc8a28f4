package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"salesrecord/internal/export"
	applog "salesrecord/internal/log"
)

// handleExport downloads the filtered view of a year as CSV (default) or XLSX.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	v, _ := s.viewForRequest(r)

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "csv"
	}

	var (
		buf       bytes.Buffer
		mediaType string
		err       error
	)
	switch format {
	case "csv":
		mediaType = export.MediaTypeCSV
		err = export.WriteDelimited(&buf, v.Filtered)
	case "xlsx":
		mediaType = export.MediaTypeXLSX
		err = export.WriteXLSX(&buf, v.SelectedYear, v.Filtered)
	default:
		BadRequestError("Unsupported export format; use csv or xlsx.").Write(w)
		return
	}
	if err != nil {
		applog.LogError(r.Context(), "Export failed", err, applog.OpExport, nil)
		InternalServerError("Could not export sales records.").Write(w)
		return
	}

	filename := export.Filename(v.SelectedYear, format)
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Sales exported",
		applog.FieldOperation, applog.OpExport,
		applog.FieldYear, v.SelectedYear,
		"format", format,
		"rows", len(v.Filtered))
}
