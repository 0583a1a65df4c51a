package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/ctxsync/kit"
	"github.com/hazyhaar/ctxsync/runlog"
	"github.com/hazyhaar/ctxsync/shield"
	"github.com/hazyhaar/ctxsync/snapshot"
)

// statusClientClosed is the non-standard status for a run aborted because
// the caller went away.
const statusClientClosed = 499

// Handler returns the local control API.
//
//	POST /save              run a save
//	POST /restore           run a restore
//	GET  /scripts           report whether scripts load
//	POST /scripts/enable
//	POST /scripts/disable
//	GET  /runs?kind=&limit= list recorded runs
//	GET  /runs/{id}
//	GET  /healthz
func (s *Service) Handler() http.Handler {
	ep := s.Endpoints()

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(s.logger) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/save", serve(ep.Save, func(*http.Request) any { return &saveReq{} }))
	r.Post("/restore", serve(ep.Restore, func(*http.Request) any { return &restoreReq{} }))

	r.Route("/scripts", func(r chi.Router) {
		r.Get("/", serve(ep.Scripts, func(*http.Request) any { return &scriptsReq{} }))
		r.Post("/enable", serve(ep.Scripts, func(*http.Request) any {
			on := true
			return &scriptsReq{Enabled: &on}
		}))
		r.Post("/disable", serve(ep.Scripts, func(*http.Request) any {
			off := false
			return &scriptsReq{Enabled: &off}
		}))
	})

	r.Get("/runs", serve(ep.History, func(r *http.Request) any {
		return &historyReq{Kind: r.URL.Query().Get("kind"), Limit: queryInt(r, "limit", 0)}
	}))
	r.Get("/runs/{id}", serve(ep.Run, func(r *http.Request) any {
		return &runReq{ID: chi.URLParam(r, "id")}
	}))

	return r
}

func serve(ep kit.Endpoint, decode func(*http.Request) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := ep(r.Context(), decode(r))
		if err != nil {
			writeRunError(w, err, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// writeRunError writes the classified error, with the partial report when
// the run produced one.
func writeRunError(w http.ResponseWriter, err error, resp any) {
	body := map[string]any{"error": err.Error()}
	if kind := snapshot.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	if resp != nil {
		body["report"] = resp
	}
	writeJSON(w, statusFor(err), body)
}

func statusFor(err error) int {
	if errors.Is(err, runlog.ErrNoRun) {
		return http.StatusNotFound
	}
	switch snapshot.KindOf(err) {
	case snapshot.KindConfig:
		return http.StatusPreconditionFailed
	case snapshot.KindNotFound:
		return http.StatusNotFound
	case snapshot.KindRemote, snapshot.KindCodec:
		return http.StatusBadGateway
	case snapshot.KindTimeout:
		return http.StatusGatewayTimeout
	case snapshot.KindCanceled:
		return statusClientClosed
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
