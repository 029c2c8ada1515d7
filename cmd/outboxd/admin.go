package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	outbox "github.com/velmie/mutation-outbox"
)

type admin struct {
	outbox   *outbox.Outbox
	identity *outbox.IdentityHolder
}

// newAdminRouter exposes /metrics, /healthz and the operator endpoints under /v1/outbox.
func newAdminRouter(ob *outbox.Outbox, identity *outbox.IdentityHolder, gatherer prometheus.Gatherer) http.Handler {
	a := &admin{outbox: ob, identity: identity}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Route("/v1/outbox", func(r chi.Router) {
		r.Get("/pending", a.pending)
		r.Get("/telemetry", a.telemetry)
		r.Delete("/telemetry", a.resetTelemetry)
		r.Post("/flush", a.flush)
		r.Put("/actor", a.setActor)
		r.Delete("/actor", a.signOut)
	})

	return r
}

func (a *admin) pending(w http.ResponseWriter, r *http.Request) {
	state, err := a.outbox.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *admin) telemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.outbox.Telemetry())
}

func (a *admin) resetTelemetry(w http.ResponseWriter, r *http.Request) {
	if err := a.outbox.ResetTelemetry(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}
	writeJSON(w, http.StatusOK, a.outbox.Telemetry())
}

func (a *admin) flush(w http.ResponseWriter, r *http.Request) {
	res, err := a.outbox.Flush(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)

		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *admin) setActor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActorUID string `json:"actorUid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.ActorUID) == "" {
		writeError(w, http.StatusBadRequest, outbox.ErrActorRequired)

		return
	}
	a.identity.SetActor(body.ActorUID)
	w.WriteHeader(http.StatusNoContent)
}

// signOut clears the actor; ?purge=true also drops the queued records of the previous actor.
func (a *admin) signOut(w http.ResponseWriter, r *http.Request) {
	previous := a.identity.CurrentActor()
	a.identity.SetActor("")
	if previous != "" && r.URL.Query().Get("purge") == "true" {
		removed, err := a.outbox.Purge(r.Context(), previous)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)

			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})

		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
