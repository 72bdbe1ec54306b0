package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sukeesh/drcopilot/internal/manager"
	cerrors "github.com/sukeesh/drcopilot/pkg/common/errors"
	"github.com/sukeesh/drcopilot/pkg/record"
	"github.com/sukeesh/drcopilot/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSummary struct{}

func (fakeSummary) Summarize(ctx context.Context, patientID string, records []record.PrescriptionRecord) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("no prescriptions recorded for patient %q: %w", patientID, cerrors.ErrNotFound)
	}
	return "summary for " + patientID, nil
}

func (fakeSummary) Suggest(ctx context.Context, patientID, complaint string, records []record.PrescriptionRecord) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("no prescriptions recorded for patient %q: %w", patientID, cerrors.ErrNotFound)
	}
	return "suggestion about " + complaint, nil
}

// setupSite creates a base dir with one populated "default" site archive.
func setupSite(t *testing.T) string {
	t.Helper()
	baseDir := t.TempDir()
	siteDir := filepath.Join(baseDir, "default")
	require.NoError(t, os.MkdirAll(siteDir, 0o755))

	s, err := store.Open(store.DefaultConfig(siteDir))
	require.NoError(t, err)

	require.NoError(t, s.PutRecord("h1", record.Fields{
		Filename:    "rx1.jpg",
		Hash:        "h1",
		PatientName: "john_smith",
		Details:     `{"drug":"amoxicillin"}`,
	}))
	require.NoError(t, s.AddToPatientIndex("john_smith", "h1"))
	require.NoError(t, s.Close())

	return baseDir
}

func newTestServer(t *testing.T, withSummary bool) *Server {
	t.Helper()
	mgr := manager.NewArchiveManager(setupSite(t), false, false)
	t.Cleanup(mgr.CloseAll)

	var summary SummaryService
	if withSummary {
		summary = fakeSummary{}
	}
	return NewServer(mgr, summary, nil, "")
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, false)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListPatients(t *testing.T) {
	srv := newTestServer(t, false)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/patients", nil)
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Patients []string `json:"patients"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"john_smith"}, resp.Patients)
}

func TestUnknownSite(t *testing.T) {
	srv := newTestServer(t, false)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/patients?site=other_clinic", nil)
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrescriptions(t *testing.T) {
	srv := newTestServer(t, false)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/patients/john_smith/prescriptions", nil)
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		PatientID     string                      `json:"patient_id"`
		Count         int                         `json:"count"`
		Prescriptions []record.PrescriptionRecord `json:"prescriptions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "john_smith", resp.PatientID)
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Prescriptions, 1)
	assert.Equal(t, "rx1.jpg", resp.Prescriptions[0].Filename)
}

func TestPrescriptionsUnknownPatient(t *testing.T) {
	srv := newTestServer(t, false)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/patients/nobody/prescriptions", nil)
	srv.router.ServeHTTP(w, req)

	// Unknown patient is a normal empty history, not an error.
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
}

func TestSummary(t *testing.T) {
	srv := newTestServer(t, true)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/patients/john_smith/summary", nil)
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "summary for john_smith")
}

// A patient with no history gets "not found", not an empty summary.
func TestSummaryUnknownPatient(t *testing.T) {
	srv := newTestServer(t, true)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/patients/nobody/summary", nil)
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSummaryUnconfigured(t *testing.T) {
	srv := newTestServer(t, false)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/patients/john_smith/summary", nil)
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSuggest(t *testing.T) {
	srv := newTestServer(t, true)

	w := httptest.NewRecorder()
	body := `{"complaint": "persistent cough"}`
	req, _ := http.NewRequest("POST", "/v1/patients/john_smith/suggest", strings.NewReader(body))
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "persistent cough")
}

func TestIngestUnconfigured(t *testing.T) {
	srv := newTestServer(t, false)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/ingest", nil)
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
