package server

import "github.com/gin-gonic/gin"

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthz)
	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	s.router.POST("/ingest-url", s.ingestURL)
	s.router.GET("/ingestions", s.listIngestions)
	s.router.GET("/ingestions/:id", s.getIngestion)
	s.router.POST("/query", s.query)
}
