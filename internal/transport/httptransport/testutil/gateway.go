// Package testutil implements an in-memory fixture gateway exercising the
// HTTP surface described in spec §6, for use by httptransport's and the
// sync engine's tests. It is not a production server.
package testutil

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/lakesync/internal/hlc"
	"github.com/hyperengineering/lakesync/internal/model"
)

// Problem is a minimal RFC 7807 response body, mirroring the shape used
// across lakesync's HTTP surfaces.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Problem{
		Type:   "https://lakesync.dev/errors/" + http.StatusText(status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
}

// ActionHandler computes the response to a batch of submitted actions.
type ActionHandler func(model.ActionPush) model.ActionResponse

// Gateway is an in-memory stand-in for a lakesync sync gateway. It accepts
// pushed deltas, serves them back on pull, and optionally serves a
// checkpoint and executes actions via an injected ActionHandler.
type Gateway struct {
	mu sync.Mutex

	clock  *hlc.Clock
	token  string
	deltas []model.RowDelta

	checkpoint *model.CheckpointResponse
	onAction   ActionHandler

	// UnauthorizedOnce, when true, makes the next authenticated request
	// fail with 401 once (then clears itself), exercising a transport's
	// refresh-and-retry path.
	UnauthorizedOnce bool
}

// New builds a Gateway that accepts requests bearing token as the bearer
// credential.
func New(token string) *Gateway {
	return &Gateway{
		clock: hlc.NewSystemClock(),
		token: token,
	}
}

// SetCheckpoint configures the snapshot returned by GET .../checkpoint. A
// nil resp makes the endpoint answer 204, per spec §6.
func (g *Gateway) SetCheckpoint(resp *model.CheckpointResponse) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkpoint = resp
}

// SetActionHandler installs the function used to answer POST .../action.
func (g *Gateway) SetActionHandler(h ActionHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onAction = h
}

// Deltas returns a snapshot of every delta accepted so far, for test
// assertions.
func (g *Gateway) Deltas() []model.RowDelta {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.RowDelta, len(g.deltas))
	copy(out, g.deltas)
	return out
}

// NewServer starts an httptest.Server routing the HTTP surface from
// spec §6 to gw.
func NewServer(gw *Gateway) *httptest.Server {
	r := chi.NewRouter()
	r.Route("/sync/{gateway_id}", func(r chi.Router) {
		r.Post("/push", gw.handlePush)
		r.Get("/pull", gw.handlePull)
		r.Get("/checkpoint", gw.handleCheckpoint)
		r.Post("/action", gw.handleAction)
		r.Get("/actions", gw.handleDescribeActions)
		r.Get("/connectors", gw.handleListConnectors)
	})
	return httptest.NewServer(r)
}

func (g *Gateway) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	g.mu.Lock()
	forceUnauthorized := g.UnauthorizedOnce
	if forceUnauthorized {
		g.UnauthorizedOnce = false
	}
	g.mu.Unlock()

	if forceUnauthorized {
		writeProblem(w, http.StatusUnauthorized, "token expired")
		return false
	}
	auth := r.Header.Get("Authorization")
	if auth != "Bearer "+g.token {
		writeProblem(w, http.StatusUnauthorized, "invalid bearer token")
		return false
	}
	return true
}

func (g *Gateway) handlePush(w http.ResponseWriter, r *http.Request) {
	if !g.requireAuth(w, r) {
		return
	}
	var req model.SyncPush
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	g.mu.Lock()
	now := g.clock.Now()
	for i := range req.Deltas {
		req.Deltas[i].HLC = now
	}
	g.deltas = append(g.deltas, req.Deltas...)
	g.mu.Unlock()

	slog.Info("fixture gateway accepted push", "client_id", req.ClientID, "count", len(req.Deltas))
	writeJSON(w, http.StatusOK, model.SyncPushResult{ServerHLC: now, Accepted: len(req.Deltas)})
}

func (g *Gateway) handlePull(w http.ResponseWriter, r *http.Request) {
	if !g.requireAuth(w, r) {
		return
	}
	since, err := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid since parameter")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	var matched []model.RowDelta
	for _, d := range g.deltas {
		if uint64(d.HLC) > since {
			matched = append(matched, d)
		}
	}
	if matched == nil {
		matched = []model.RowDelta{}
	}
	writeJSON(w, http.StatusOK, model.SyncResponse{Deltas: matched, ServerHLC: g.clock.Now(), HasMore: false})
}

func (g *Gateway) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if !g.requireAuth(w, r) {
		return
	}
	g.mu.Lock()
	cp := g.checkpoint
	g.mu.Unlock()
	if cp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, *cp)
}

func (g *Gateway) handleAction(w http.ResponseWriter, r *http.Request) {
	if !g.requireAuth(w, r) {
		return
	}
	var req model.ActionPush
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	g.mu.Lock()
	handler := g.onAction
	now := g.clock.Now()
	g.mu.Unlock()

	if handler == nil {
		results := make([]model.ActionOutcome, len(req.Actions))
		for i, a := range req.Actions {
			results[i] = model.ActionOutcome{Result: &model.ActionResult{ActionID: a.ActionID, Data: nil, ServerHLC: now}}
		}
		writeJSON(w, http.StatusOK, model.ActionResponse{Results: results, ServerHLC: now})
		return
	}
	writeJSON(w, http.StatusOK, handler(req))
}

func (g *Gateway) handleDescribeActions(w http.ResponseWriter, r *http.Request) {
	if !g.requireAuth(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, model.DescribeActionsResult{Connectors: map[string][]model.ActionDescriptor{}})
}

func (g *Gateway) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	if !g.requireAuth(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, []model.ConnectorDescriptor{})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
