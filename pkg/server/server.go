// Package server exposes the prescription archive over a REST API.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sukeesh/drcopilot/internal/manager"
	"github.com/sukeesh/drcopilot/pkg/ingest"
	"github.com/sukeesh/drcopilot/pkg/record"
)

// SummaryService produces natural-language output from aggregated records.
type SummaryService interface {
	Summarize(ctx context.Context, patientID string, records []record.PrescriptionRecord) (string, error)
	Suggest(ctx context.Context, patientID, complaint string, records []record.PrescriptionRecord) (string, error)
}

// Server holds the state for the REST API server.
type Server struct {
	manager   *manager.ArchiveManager
	summary   SummaryService
	extractor ingest.Extractor
	imageRoot string
	router    *gin.Engine
}

// NewServer creates a new Server instance. summary may be nil when no API
// key is configured; extractor and imageRoot may be empty when ingestion
// over HTTP is not enabled.
func NewServer(mgr *manager.ArchiveManager, summary SummaryService, extractor ingest.Extractor, imageRoot string) *Server {
	r := gin.Default()
	s := &Server{
		manager:   mgr,
		summary:   summary,
		extractor: extractor,
		imageRoot: imageRoot,
		router:    r,
	}
	s.setupRoutes()
	return s
}

// Run starts the server on the specified address.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/v1/sites", s.handleSites)
	s.router.GET("/v1/patients", s.handlePatients)
	s.router.GET("/v1/patients/:id/prescriptions", s.handlePrescriptions)
	s.router.POST("/v1/patients/:id/summary", s.handleSummary)
	s.router.POST("/v1/patients/:id/suggest", s.handleSuggest)
	s.router.POST("/v1/ingest", s.handleIngest)
}

// Health check
func (s *Server) healthCheck(c *gin.Context) {
	c.Status(http.StatusOK)
}
