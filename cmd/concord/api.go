package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/concordhq/concord/pkg/contracts"
	"github.com/concordhq/concord/pkg/coordination"
	"github.com/concordhq/concord/pkg/escalation"
	"github.com/concordhq/concord/pkg/learning"
	"github.com/concordhq/concord/pkg/store"
)

func openPostgres(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// adminAPI is the thin HTTP surface in front of the engine. It only maps
// requests to engine calls and engine errors to status codes; all
// governance logic lives in the packages.
type adminAPI struct {
	window  *coordination.Service
	gateway *escalation.Gateway
	learner *learning.Service
	idem    store.IdempotencyStore
	logger  *slog.Logger
}

func (a *adminAPI) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/proposals", a.handlePropose)
	mux.HandleFunc("GET /v1/escalations", a.handleListEscalations)
	mux.HandleFunc("POST /v1/escalations/{id}/approve", a.handleApprove)
	mux.HandleFunc("POST /v1/escalations/{id}/reject", a.handleReject)
	mux.HandleFunc("POST /v1/agents/{agent}/feedback", a.handleFeedback)
	mux.HandleFunc("POST /v1/agents/{agent}/rollback/{change}", a.handleRollback)
	return mux
}

type proposeRequest struct {
	AgentName     string               `json:"agent_name"`
	ActionType    contracts.ActionType `json:"action_type"`
	Target        contracts.TargetRef  `json:"target"`
	Value         any                  `json:"value"`
	Confidence    float64              `json:"confidence"`
	Cost          float64              `json:"cost"`
	Risk          contracts.RiskLevel  `json:"risk"`
	SourceEventID string               `json:"source_event_id"`
}

func (a *adminAPI) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := a.window.ProposeAction(r.Context(), req.AgentName, coordination.Action{
		Type:       req.ActionType,
		Target:     req.Target,
		Value:      req.Value,
		Confidence: req.Confidence,
		Cost:       req.Cost,
		Risk:       req.Risk,
	}, req.SourceEventID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.writeJSON(w, http.StatusAccepted, res)
}

func (a *adminAPI) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	pending, err := a.gateway.PendingEscalations(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, http.StatusOK, pending)
}

func (a *adminAPI) handleApprove(w http.ResponseWriter, r *http.Request) {
	if !a.reserveIdempotency(w, r) {
		return
	}
	var req struct {
		ApprovedBy         string `json:"approved_by"`
		SelectedProposalID string `json:"selected_proposal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, err := a.gateway.Approve(r.Context(), r.PathValue("id"), req.ApprovedBy, req.SelectedProposalID)
	if err != nil {
		httpError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, d)
}

func (a *adminAPI) handleReject(w http.ResponseWriter, r *http.Request) {
	if !a.reserveIdempotency(w, r) {
		return
	}
	var req struct {
		RejectedBy string `json:"rejected_by"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, err := a.gateway.Reject(r.Context(), r.PathValue("id"), req.Reason, req.RejectedBy)
	if err != nil {
		httpError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, d)
}

func (a *adminAPI) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb contracts.FeedbackEntry
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := a.learner.AddFeedback(r.Context(), r.PathValue("agent"), fb)
	if err != nil {
		httpError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, p)
}

func (a *adminAPI) handleRollback(w http.ResponseWriter, r *http.Request) {
	p, err := a.learner.RollbackToChange(r.Context(), r.PathValue("agent"), r.PathValue("change"))
	if err != nil {
		httpError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, p)
}

// reserveIdempotency enforces the Idempotency-Key contract for settlement
// endpoints: a duplicate key short-circuits with 409 before the gateway is
// ever reached.
func (a *adminAPI) reserveIdempotency(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		return true
	}
	ok, err := a.idem.Reserve(r.Context(), key, time.Hour)
	if err != nil {
		a.logger.Error("idempotency reservation failed", "error", err)
		return true // advisory: never block the admin on a cache failure
	}
	if !ok {
		http.Error(w, "duplicate request", http.StatusConflict)
		return false
	}
	return true
}

func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escalation.ErrDecisionNotFound),
		errors.Is(err, learning.ErrChangeNotFound),
		errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, escalation.ErrAlreadyExecuted),
		errors.Is(err, escalation.ErrNotEscalated):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (a *adminAPI) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encode response failed", "error", err)
	}
}
