package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"lifeauto/internal/automation"
	"lifeauto/internal/automation/engine"
	"lifeauto/internal/storage"
	logx "lifeauto/pkg/logx"
)

const maxBodyBytes = 1 << 20

// Engine is the part of the routine orchestrator the API drives.
type Engine interface {
	ProcessScheduled(ctx context.Context, now time.Time) (engine.TickReport, error)
	Notify(ctx context.Context, ev automation.Event) (int, error)

	SaveRoutine(ctx context.Context, rec automation.RoutineRecord) (automation.Routine, error)
	Routine(ctx context.Context, userID, id string) (automation.Routine, error)
	Routines(ctx context.Context, userID string) ([]automation.Routine, error)
	DeleteRoutine(ctx context.Context, userID, id string) error
	SetEnabled(ctx context.Context, userID, id string, enabled bool) error
	Runs(ctx context.Context, userID, routineID string, limit int) ([]automation.Run, error)

	Snapshot() engine.Snapshot
}

type Deps struct {
	Engine  Engine
	Effects storage.EffectStore
	Log     logx.Logger
	Now     func() time.Time

	// CronSecret authorizes the scheduler endpoint. Empty rejects every call.
	CronSecret string
	// Pprof mounts net/http/pprof under /debug/pprof/, gated by CronSecret.
	Pprof bool
}

type api struct {
	eng     Engine
	effects storage.EffectStore
	log     logx.Logger
	now     func() time.Time
	secret  string
}

// NewHandler returns the lifeauto HTTP API.
func NewHandler(deps Deps) http.Handler {
	a := &api{
		eng:     deps.Engine,
		effects: deps.Effects,
		log:     deps.Log,
		now:     deps.Now,
		secret:  strings.TrimSpace(deps.CronSecret),
	}
	if a.now == nil {
		a.now = time.Now
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.health)
	mux.HandleFunc("POST /api/cron/routines", a.withSecret(a.cron))
	mux.HandleFunc("POST /api/events", a.ingest)

	mux.HandleFunc("GET /api/users/{userID}/routines", a.listRoutines)
	mux.HandleFunc("POST /api/users/{userID}/routines", a.saveRoutine)
	mux.HandleFunc("GET /api/users/{userID}/routines/{id}", a.getRoutine)
	mux.HandleFunc("DELETE /api/users/{userID}/routines/{id}", a.deleteRoutine)
	mux.HandleFunc("POST /api/users/{userID}/routines/{id}/enable", a.setEnabled(true))
	mux.HandleFunc("POST /api/users/{userID}/routines/{id}/disable", a.setEnabled(false))
	mux.HandleFunc("GET /api/users/{userID}/routines/{id}/runs", a.listRuns)
	mux.HandleFunc("GET /api/users/{userID}/effects", a.listEffects)

	if deps.Pprof {
		mux.HandleFunc("GET /debug/pprof/", a.withSecret(hpprof.Index))
		mux.HandleFunc("GET /debug/pprof/cmdline", a.withSecret(hpprof.Cmdline))
		mux.HandleFunc("GET /debug/pprof/profile", a.withSecret(hpprof.Profile))
		mux.HandleFunc("GET /debug/pprof/symbol", a.withSecret(hpprof.Symbol))
		mux.HandleFunc("GET /debug/pprof/trace", a.withSecret(hpprof.Trace))
	}
	return a.logged(mux)
}

// withSecret requires "Authorization: Bearer <secret>". With no secret
// configured nothing gets through.
func (a *api) withSecret(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if a.secret == "" || !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(tok)), []byte(a.secret)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *api) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Debug("http.request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rec.status),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	snap := a.eng.Snapshot()
	snap.History = nil
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "engine": snap})
}

func (a *api) cron(w http.ResponseWriter, r *http.Request) {
	rep, err := a.eng.ProcessScheduled(r.Context(), a.now())
	if err != nil {
		a.log.Error("cron.failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "scheduled pass failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type eventRequest struct {
	Type    string         `json:"type"`
	UserID  string         `json:"userId"`
	Payload map[string]any `json:"payload"`
}

func (a *api) ingest(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	typ, err := automation.ParseEventType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := a.eng.Notify(r.Context(), automation.Event{Type: typ, UserID: req.UserID, Payload: req.Payload})
	if err != nil && n == 0 {
		a.fail(w, err)
		return
	}
	if err != nil {
		// Some routines fired; the rest are already logged by the engine.
		a.log.Warn("event.partial", logx.Int("firings", n), logx.Err(err))
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"firings": n})
}

func (a *api) listRoutines(w http.ResponseWriter, r *http.Request) {
	rs, err := a.eng.Routines(r.Context(), r.PathValue("userID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	out := make([]automation.RoutineRecord, 0, len(rs))
	for _, rt := range rs {
		out = append(out, automation.EncodeRoutine(rt))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) saveRoutine(w http.ResponseWriter, r *http.Request) {
	var rec automation.RoutineRecord
	if !decodeBody(w, r, &rec) {
		return
	}
	rec.UserID = r.PathValue("userID")
	rt, err := a.eng.SaveRoutine(r.Context(), rec)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, automation.EncodeRoutine(rt))
}

func (a *api) getRoutine(w http.ResponseWriter, r *http.Request) {
	rt, err := a.eng.Routine(r.Context(), r.PathValue("userID"), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, automation.EncodeRoutine(rt))
}

func (a *api) deleteRoutine(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.DeleteRoutine(r.Context(), r.PathValue("userID"), r.PathValue("id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) setEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, id := r.PathValue("userID"), r.PathValue("id")
		if err := a.eng.SetEnabled(r.Context(), userID, id, enabled); err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
	}
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	runs, err := a.eng.Runs(r.Context(), r.PathValue("userID"), r.PathValue("id"), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	if runs == nil {
		runs = []automation.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *api) listEffects(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	out, err := a.effects.ListEffects(r.Context(), r.PathValue("userID"), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	if out == nil {
		out = []storage.Effect{}
	}
	writeJSON(w, http.StatusOK, out)
}

// fail maps domain errors to status codes.
func (a *api) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, automation.ErrInvalidRoutine), errors.Is(err, automation.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, automation.ErrNotFound):
		writeError(w, http.StatusNotFound, "routine not found")
	case errors.Is(err, engine.ErrStopped), errors.Is(err, engine.ErrStopping):
		writeError(w, http.StatusServiceUnavailable, "engine is not running")
	default:
		a.log.Error("http.internal_error", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
