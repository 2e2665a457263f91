package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"cellguard/internal/audit"
	"cellguard/internal/auth"
	"cellguard/internal/eventlog"
	"cellguard/internal/observability/metrics"
	"cellguard/internal/reports"
)

// ExportsHandler serves intervention history downloads.
type ExportsHandler struct {
	cell        string
	store       eventlog.Store
	auditLogger audit.Logger
}

// NewExportsHandler constructs an exports handler.
func NewExportsHandler(cell string, store eventlog.Store, auditLogger audit.Logger) (*ExportsHandler, error) {
	if store == nil {
		return nil, errors.New("exports handler: nil store")
	}
	return &ExportsHandler{cell: cell, store: store, auditLogger: auditLogger}, nil
}

// ServeHTTP handles GET /api/v1/exports/interventions.{xlsx,pdf}.
func (h *ExportsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var format string
	switch r.URL.Path {
	case "/api/v1/exports/interventions.xlsx":
		format = "xlsx"
	case "/api/v1/exports/interventions.pdf":
		format = "pdf"
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filter.Limit = 10000

	started := time.Now()
	events, err := h.store.List(r.Context(), filter)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var payload []byte
	switch format {
	case "xlsx":
		payload, err = reports.BuildInterventionsXLSX(h.cell, events, time.Now().UTC())
	case "pdf":
		payload, err = reports.BuildInterventionsPDF(h.cell, events, time.Now().UTC())
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(started))

	switch format {
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="interventions.xlsx"`)
	case "pdf":
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="interventions.pdf"`)
	}
	_, _ = w.Write(payload)

	h.logAudit(r, format, len(events))
}

func (h *ExportsHandler) logAudit(r *http.Request, format string, count int) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{"format": format, "events": count})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "export.interventions",
		ResourceType: "report",
		ResourceID:   format,
		Metadata:     meta,
		IP:           r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	})
}
