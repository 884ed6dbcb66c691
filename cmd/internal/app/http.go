package app

import (
	"net/http"
)

func registerHTTP(mux *http.ServeMux, a *App) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && !a.cfg.durable() {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if a.backend.ping != nil {
			if err := a.backend.ping(r.Context()); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.db.not_ready", "backend", a.backend.name, "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", a.metrics.Handler())

	// The websocket applies its own origin policy; CORS covers the REST surface only.
	api := http.NewServeMux()
	a.api.register(api)
	mux.Handle("/api/", WithCORS(api, a.cfg, a.log))

	mux.HandleFunc("/ws", a.ws.HandleWS)
}
