package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Session routes
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Patch("/", s.updateSession)
			r.Delete("/", s.deleteSession)

			// Messages
			r.Get("/message", s.getMessages)
			r.Post("/message", s.sendMessage)

			// Turn control
			r.Post("/abort", s.abortSession)
			r.Get("/queue", s.getQueue)
		})
	})

	// Event streaming (SSE)
	r.Get("/event", s.sessionEvents)
	r.Get("/global/event", s.globalEvents)

	// Workspace
	r.Route("/file", func(r chi.Router) {
		r.Get("/", s.listFiles)
		r.Get("/content", s.readFile)
	})
	r.Get("/find/file", s.searchFiles)

	// Attachments
	r.Route("/attachment", func(r chi.Router) {
		r.Post("/", s.uploadAttachments)
		r.Get("/content", s.readAttachment)
	})

	// Terminal
	r.Post("/shell", s.runShell)
}
