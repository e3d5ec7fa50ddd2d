package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kreso975/homebridge-http-sensors-switches/internal/accessory"
)

// defaultWSPath is used when websocket.path is unset.
const defaultWSPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWSPath
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/accessories", func(r chi.Router) {
				r.Get("/", s.handleListAccessories)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetAccessory)
					r.Get("/services/{service}/characteristics/{characteristic}", s.handleGetCharacteristic)
					r.Put("/services/{service}/characteristics/{characteristic}", s.handleSetCharacteristic)
				})
			})

			r.Get(wsPath, s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
//
// Accessories are counted by lifecycle phase so ones that never left
// uninitialized (unknown device type) show up even though the host has no
// entry for them.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.registry != nil {
		statuses := s.registry.Statuses()
		phases := make(map[accessory.Phase]int)
		var inert []string
		for _, st := range statuses {
			phases[st.Phase]++
			if st.Phase == accessory.PhaseUninitialized {
				inert = append(inert, st.Identity.Name)
			}
		}
		body["accessories"] = map[string]any{
			"total":  len(statuses),
			"phases": phases,
			"inert":  inert,
		}
	}
	if s.hub != nil {
		body["websocket_clients"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, body)
}
