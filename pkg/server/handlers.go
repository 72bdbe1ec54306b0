package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sukeesh/drcopilot/pkg/aggregate"
	"github.com/sukeesh/drcopilot/pkg/common/errors"
	"github.com/sukeesh/drcopilot/pkg/ingest"
	"github.com/sukeesh/drcopilot/pkg/store"
)

const defaultSite = "default"

func handleError(c *gin.Context, err error) {
	appErr := errors.MapError(err)
	c.JSON(appErr.Code, gin.H{"error": appErr.Message})
}

// siteStore resolves the ?site= query parameter to an open archive.
func (s *Server) siteStore(c *gin.Context) (*store.RecordStore, bool) {
	site := c.Query("site")
	if site == "" {
		site = defaultSite
	}
	st, err := s.manager.GetArchive(site)
	if err != nil {
		handleError(c, err)
		return nil, false
	}
	return st, true
}

// handleSites returns the available site archives.
func (s *Server) handleSites(c *gin.Context) {
	sites, err := s.manager.ListSites()
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sites": sites})
}

// handlePatients returns all patient identifiers with records.
func (s *Server) handlePatients(c *gin.Context) {
	st, ok := s.siteStore(c)
	if !ok {
		return
	}
	patients, err := st.ListPatients()
	if err != nil {
		handleError(c, err)
		return
	}
	if patients == nil {
		patients = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"patients": patients})
}

// handlePrescriptions returns a patient's full record history. An unknown
// patient is a normal empty result, not an error.
func (s *Server) handlePrescriptions(c *gin.Context) {
	st, ok := s.siteStore(c)
	if !ok {
		return
	}
	patientID := c.Param("id")

	records, err := aggregate.NewReader(st).Aggregate(patientID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"patient_id":    patientID,
		"count":         len(records),
		"prescriptions": records,
	})
}

// handleSummary generates a history summary for a patient.
func (s *Server) handleSummary(c *gin.Context) {
	if s.summary == nil {
		handleError(c, errors.NewAppError(http.StatusServiceUnavailable, "Summarization not configured", nil))
		return
	}
	st, ok := s.siteStore(c)
	if !ok {
		return
	}
	patientID := c.Param("id")

	records, err := aggregate.NewReader(st).Aggregate(patientID)
	if err != nil {
		handleError(c, err)
		return
	}

	summary, err := s.summary.Summarize(c.Request.Context(), patientID, records)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patient_id": patientID, "summary": summary})
}

// handleSuggest asks for possible causes and drug suggestions for a current
// complaint given the patient's history.
func (s *Server) handleSuggest(c *gin.Context) {
	if s.summary == nil {
		handleError(c, errors.NewAppError(http.StatusServiceUnavailable, "Summarization not configured", nil))
		return
	}
	st, ok := s.siteStore(c)
	if !ok {
		return
	}
	patientID := c.Param("id")

	var req struct {
		Complaint string `json:"complaint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, errors.NewAppError(http.StatusBadRequest, "Invalid request body", err))
		return
	}

	records, err := aggregate.NewReader(st).Aggregate(patientID)
	if err != nil {
		handleError(c, err)
		return
	}

	suggestion, err := s.summary.Suggest(c.Request.Context(), patientID, req.Complaint, records)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patient_id": patientID, "suggestion": suggestion})
}

// handleIngest runs an ingestion pass over the configured image root.
func (s *Server) handleIngest(c *gin.Context) {
	if s.extractor == nil || s.imageRoot == "" {
		handleError(c, errors.NewAppError(http.StatusServiceUnavailable, "Ingestion not configured", nil))
		return
	}
	st, ok := s.siteStore(c)
	if !ok {
		return
	}

	stats, err := ingest.Run(c.Request.Context(), st, s.extractor, s.imageRoot)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed": stats.Processed,
		"skipped":   stats.Skipped,
		"failed":    stats.Failed,
	})
}
