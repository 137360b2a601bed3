package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alejandrodnm/arbfleet/internal/application/control"
	"github.com/alejandrodnm/arbfleet/internal/application/executor"
	"github.com/alejandrodnm/arbfleet/internal/application/recovery"
	"github.com/alejandrodnm/arbfleet/internal/application/supervisor"
	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 64 << 10

// Dispatcher ejecuta comandos de operador.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd domain.Command) (any, error)
}

// Check es una comprobación de dependencia para /healthz.
type Check func(ctx context.Context) error

type submitRequest struct {
	SymbolPair string          `json:"symbol_pair"`
	Amount     decimal.Decimal `json:"amount"`
	Execute    bool            `json:"execute"`
}

type recoverRequest struct {
	Kind   domain.ActionKind `json:"kind"`
	Reason string            `json:"reason"`
}

type reregisterRequest struct {
	Start bool `json:"start"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	d      Dispatcher
	checks map[string]Check
}

// NewHandler construye el mux con todas las rutas.
func NewHandler(d Dispatcher, gatherer prometheus.Gatherer, checks map[string]Check) http.Handler {
	h := &handler{d: d, checks: checks}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", h.query(func(*http.Request) domain.Command { return domain.StatusQuery{} }))
	mux.HandleFunc("GET /opportunities", h.query(func(*http.Request) domain.Command { return domain.OpportunitiesQuery{} }))
	mux.HandleFunc("GET /trades", h.query(func(*http.Request) domain.Command { return domain.TradesQuery{} }))
	mux.HandleFunc("GET /trades/{id}", h.query(func(r *http.Request) domain.Command {
		return domain.TradeQuery{ID: r.PathValue("id")}
	}))
	mux.HandleFunc("POST /trades", h.submit)
	mux.HandleFunc("POST /trades/{id}/cancel", h.query(func(r *http.Request) domain.Command {
		return domain.CancelCommand{ID: r.PathValue("id")}
	}))
	mux.HandleFunc("PUT /risk/limits", h.updateLimits)
	mux.HandleFunc("POST /workers/{name}/recover", h.recoverWorker)
	mux.HandleFunc("POST /workers/{name}/reregister", h.reregisterWorker)
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.Handle("GET /metrics", metricsHandler(gatherer))

	return mux
}

// query despacha un comando sin cuerpo.
func (h *handler) query(build func(*http.Request) domain.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.dispatch(w, r, build(r), http.StatusOK)
	}
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SymbolPair == "" {
		writeError(w, http.StatusBadRequest, "symbol_pair is required")
		return
	}
	h.dispatch(w, r, domain.SubmitCommand{
		SymbolPair: req.SymbolPair,
		Amount:     req.Amount,
		Execute:    req.Execute,
	}, http.StatusCreated)
}

func (h *handler) updateLimits(w http.ResponseWriter, r *http.Request) {
	var limits domain.RiskLimits
	if !decode(w, r, &limits) {
		return
	}
	h.dispatch(w, r, domain.UpdateRiskLimitsCommand{Limits: limits}, http.StatusOK)
}

func (h *handler) recoverWorker(w http.ResponseWriter, r *http.Request) {
	req := recoverRequest{Kind: domain.ActionRestart}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if req.Kind == "" {
		req.Kind = domain.ActionRestart
	}
	h.dispatch(w, r, domain.RecoverWorkerCommand{
		Worker: r.PathValue("name"),
		Kind:   req.Kind,
		Reason: req.Reason,
	}, http.StatusAccepted)
}

func (h *handler) reregisterWorker(w http.ResponseWriter, r *http.Request) {
	var req reregisterRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	h.dispatch(w, r, domain.ReregisterWorkerCommand{
		Worker: r.PathValue("name"),
		Start:  req.Start,
	}, http.StatusOK)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			results[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "healthy"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": results})
}

func (h *handler) dispatch(w http.ResponseWriter, r *http.Request, cmd domain.Command, okStatus int) {
	out, err := h.d.Dispatch(r.Context(), cmd)
	if err != nil {
		status := statusFor(err)
		if status >= 500 {
			slog.Error("httpapi: command failed", "command", fmt.Sprintf("%T", cmd), "err", err)
		}
		writeError(w, status, err.Error())
		return
	}
	// un rechazo del RiskGate es una respuesta válida, no un error
	if res, ok := out.(control.SubmitResult); ok && !res.Approved {
		okStatus = http.StatusUnprocessableEntity
	}
	writeJSON(w, okStatus, out)
}

// statusFor traduce los errores de dominio a códigos HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, executor.ErrOrderNotFound),
		errors.Is(err, control.ErrNoCandidate),
		errors.Is(err, recovery.ErrUnknownWorker),
		errors.Is(err, supervisor.ErrUnknownWorker):
		return http.StatusNotFound
	case errors.Is(err, control.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidLimits),
		errors.Is(err, recovery.ErrUnsupportedAction):
		return http.StatusBadRequest
	case errors.Is(err, executor.ErrNotCancellable),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, recovery.ErrBudgetExhausted):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("httpapi: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
