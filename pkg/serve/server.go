// Package serve exposes the run store over HTTP: plan submission,
// validation, run inspection, and cancellation.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/calegria/roboplan/pkg/plan"
	"github.com/calegria/roboplan/pkg/store"
)

// maxPlanBytes bounds a submitted plan document. Plans are small; anything
// near this limit is malformed or hostile.
const maxPlanBytes = 1 << 20

// Server handles the REST surface. Tool dispatch stays behind the engine;
// nothing here can invoke a tool directly.
type Server struct {
	store        *store.Store
	allowedTools map[string]bool
	log          zerolog.Logger
	http         *http.Server
}

// ToolNamer is the slice of the tool registry the server needs: the
// invocable names used for fail-fast validation of submitted plans.
type ToolNamer interface {
	Names() []string
}

// New builds a server around the run store. tools may be nil, which skips
// the tool-existence check in /plan/validate responses.
func New(addr string, st *store.Store, tools ToolNamer, log zerolog.Logger) *Server {
	s := &Server{store: st, log: log}
	if tools != nil {
		s.allowedTools = make(map[string]bool)
		for _, n := range tools.Names() {
			s.allowedTools[n] = true
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /plan/execute", s.handleExecute)
	mux.HandleFunc("POST /plan/validate", s.handleValidate)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.logging(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("rest listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests. Runs keep executing; only the HTTP
// surface goes away.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type executeRequest struct {
	Plan *plan.Plan `json:"plan"`
	Wait bool       `json:"wait"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if req.Plan == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "plan is required"})
		return
	}

	if errs := plan.Validate(req.Plan, s.allowedTools); plan.HasErrors(errs) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "errors": errs})
		return
	}

	id := s.store.Start(r.Context(), req.Plan)
	if !req.Wait {
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "run_id": id})
		return
	}

	run, err := s.store.Wait(r.Context(), id)
	if err != nil {
		// The client went away; the run itself keeps going.
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "run_id": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": run.OK, "run_id": id, "run": run})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if req.Plan == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "plan is required"})
		return
	}

	errs := plan.Validate(req.Plan, s.allowedTools)
	if errs == nil {
		errs = []*plan.ValidationError{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": !plan.HasErrors(errs), "errors": errs})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "runs": s.store.List(limit)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "run": run})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Cancel(r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "roboplan"})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxPlanBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
