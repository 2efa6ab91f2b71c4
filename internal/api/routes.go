package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// websocket 长连接不能套超时中间件
	r.Get("/ws/{topic}", s.HandleWebsocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Health check
		r.Get("/health", s.HandleHealth)

		// Devices
		r.Get("/devices", s.HandleListDevices)

		// Campaigns
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.HandleStartCampaign)
			r.Get("/active", s.HandleActiveCampaign)
			r.Post("/active/stop", s.HandleStopActiveCampaign)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetCampaign)
				r.Post("/stop", s.HandleStopCampaign)
				r.Get("/crawls", s.HandleListCrawls)
			})
		})

		// Targets
		r.Route("/targets", func(r chi.Router) {
			r.Get("/", s.HandleListTargets)
			r.Post("/", s.HandleAddTarget)
		})

		// Sniffer
		r.Route("/sniffer", func(r chi.Router) {
			r.Post("/start", s.HandleStartSniffer)
			r.Get("/progress", s.HandleSnifferProgress)
		})
	})
}
