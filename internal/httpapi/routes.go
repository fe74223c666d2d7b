package httpapi

import (
	"github.com/go-chi/chi/v5"
)

func registerRoutes(r chi.Router, s Simulator) {
	r.Get("/healthz", handleHealthz())
	r.Get("/snapshot", handleSnapshot(s))
	r.Get("/events", handleEvents(s))
	r.Get("/ws", handleStream(s))

	r.Post("/pause", handleCommand(s.Pause))
	r.Post("/resume", handleCommand(s.Resume))
	r.Post("/step", handleCommand(s.Step))
	r.Post("/reset", handleCommand(s.Reset))
	r.Put("/speed", handleSetSpeed(s))
	r.Post("/client-request", handleClientRequest(s))

	r.Route("/nodes/{id}", func(r chi.Router) {
		r.Post("/kill", handleNodeCommand(s.KillNode))
		r.Post("/revive", handleNodeCommand(s.ReviveNode))
	})
}
