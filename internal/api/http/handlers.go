package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"cellguard/internal/auth"
	"cellguard/internal/eventlog"
	"cellguard/internal/rules"
	"cellguard/internal/safety"
	"cellguard/internal/signals"
	"cellguard/internal/supervisor"
)

// StatusHandler serves the cell-wide safety view.
type StatusHandler struct {
	supervisor *supervisor.Supervisor
	bus        *signals.Bus
}

// NewStatusHandler constructs a status handler.
func NewStatusHandler(sup *supervisor.Supervisor, bus *signals.Bus) (*StatusHandler, error) {
	if sup == nil || bus == nil {
		return nil, errors.New("status handler: nil dependency")
	}
	return &StatusHandler{supervisor: sup, bus: bus}, nil
}

// StatusResponse is the GET /api/v1/status payload.
type StatusResponse struct {
	State        safety.State `json:"state"`
	EnteredAt    time.Time    `json:"entered_at"`
	ManualStop   bool         `json:"manual_stop"`
	RiskScore    float64      `json:"risk_score"`
	StaleSources []string     `json:"stale_sources"`
}

// ServeHTTP handles GET /api/v1/status.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap := h.bus.Snapshot()
	var stale []string
	for id, health := range snap.Health {
		if health.Stale {
			stale = append(stale, id)
		}
	}
	resp := StatusResponse{
		State:        h.supervisor.State(),
		EnteredAt:    h.supervisor.StateEnteredAt(),
		ManualStop:   h.supervisor.ManualStop(),
		RiskScore:    h.supervisor.LastAssessment().Score,
		StaleSources: stale,
	}
	writeJSON(w, resp)
}

// SignalsHandler serves the latest bus snapshot.
type SignalsHandler struct {
	bus *signals.Bus
}

// NewSignalsHandler constructs a signals handler.
func NewSignalsHandler(bus *signals.Bus) (*SignalsHandler, error) {
	if bus == nil {
		return nil, errors.New("signals handler: nil bus")
	}
	return &SignalsHandler{bus: bus}, nil
}

// ServeHTTP handles GET /api/v1/signals.
func (h *SignalsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.bus.Snapshot())
}

// RiskHandler serves the latest risk assessment.
type RiskHandler struct {
	supervisor *supervisor.Supervisor
}

// NewRiskHandler constructs a risk handler.
func NewRiskHandler(sup *supervisor.Supervisor) (*RiskHandler, error) {
	if sup == nil {
		return nil, errors.New("risk handler: nil supervisor")
	}
	return &RiskHandler{supervisor: sup}, nil
}

// ServeHTTP handles GET /api/v1/risk.
func (h *RiskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.supervisor.LastAssessment())
}

// RulesHandler lists rules and toggles them.
type RulesHandler struct {
	engine *rules.Engine
}

// NewRulesHandler constructs a rules handler.
func NewRulesHandler(engine *rules.Engine) (*RulesHandler, error) {
	if engine == nil {
		return nil, errors.New("rules handler: nil engine")
	}
	return &RulesHandler{engine: engine}, nil
}

// ServeHTTP handles GET /api/v1/rules and
// POST /api/v1/rules/{id}/enable|disable.
func (h *RulesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/rules" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, h.engine.Rules())
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/rules/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	id := parts[0]
	var enabled bool
	switch parts[1] {
	case "enable":
		enabled = true
	case "disable":
		enabled = false
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	actor := auth.SubjectFromContext(r.Context())
	role := string(auth.RoleFromContext(r.Context()))
	err := h.engine.SetEnabled(r.Context(), id, enabled, actor, role)
	if errors.Is(err, rules.ErrUnknownRule) {
		http.Error(w, "unknown rule", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rule, _ := h.engine.Rule(id)
	writeJSON(w, rule)
}

// CommandsHandler accepts operator commands.
type CommandsHandler struct {
	supervisor *supervisor.Supervisor
}

// NewCommandsHandler constructs a commands handler.
func NewCommandsHandler(sup *supervisor.Supervisor) (*CommandsHandler, error) {
	if sup == nil {
		return nil, errors.New("commands handler: nil supervisor")
	}
	return &CommandsHandler{supervisor: sup}, nil
}

// CommandRequest is the POST /api/v1/commands payload.
type CommandRequest struct {
	Command string `json:"command"`
}

// ServeHTTP handles POST /api/v1/commands.
func (h *CommandsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req CommandRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	actor := auth.SubjectFromContext(r.Context())
	role := string(auth.RoleFromContext(r.Context()))

	switch req.Command {
	case "stop":
		err = h.supervisor.Stop(r.Context(), actor, role)
	case "resume":
		err = h.supervisor.Resume(r.Context(), actor, role)
	case "reset-estop":
		err = h.supervisor.ResetEStop(r.Context(), actor, role)
		if errors.Is(err, safety.ErrNotSticky) {
			http.Error(w, "not in ESTOP", http.StatusConflict)
			return
		}
	default:
		http.Error(w, "unknown command", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{
		"command": req.Command,
		"state":   string(h.supervisor.State()),
	})
}

// InterventionsHandler lists persisted intervention events.
type InterventionsHandler struct {
	store eventlog.Store
}

// NewInterventionsHandler constructs an interventions handler.
func NewInterventionsHandler(store eventlog.Store) (*InterventionsHandler, error) {
	if store == nil {
		return nil, errors.New("interventions handler: nil store")
	}
	return &InterventionsHandler{store: store}, nil
}

// ServeHTTP handles GET /api/v1/interventions.
func (h *InterventionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	events, err := h.store.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []safety.InterventionEvent{}
	}
	writeJSON(w, events)
}

func filterFromQuery(r *http.Request) (eventlog.Filter, error) {
	filter := eventlog.Filter{Limit: 100}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("since must be RFC3339")
		}
		filter.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("until must be RFC3339")
		}
		filter.Until = t
	}
	if v := r.URL.Query().Get("state"); v != "" {
		state := safety.State(v)
		if !state.Valid() {
			return filter, errors.New("unknown state")
		}
		filter.State = state
	}
	if v := r.URL.Query().Get("rule"); v != "" {
		filter.RuleID = v
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
