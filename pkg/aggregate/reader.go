// Package aggregate reconstructs a patient's full prescription history from
// the record store for downstream summarization.
package aggregate

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	cerrors "github.com/sukeesh/drcopilot/pkg/common/errors"
	"github.com/sukeesh/drcopilot/pkg/record"
	"github.com/sukeesh/drcopilot/pkg/store"
)

// Reader resolves patient indexes into typed records.
type Reader struct {
	store *store.RecordStore
}

// NewReader creates a Reader over the given store.
func NewReader(s *store.RecordStore) *Reader {
	return &Reader{store: s}
}

// Aggregate returns all of a patient's records, ordered by content hash for
// deterministic output. An unknown patient yields an empty slice, not an
// error. Records whose details are not well-formed JSON come back as raw
// text rather than failing.
func (r *Reader) Aggregate(patientID string) ([]record.PrescriptionRecord, error) {
	hashes, err := r.store.HashesForPatient(patientID)
	if err != nil {
		return nil, err
	}

	records := make([]record.PrescriptionRecord, 0, len(hashes))
	for _, hash := range hashes {
		fields, err := r.store.GetRecord(hash)
		if err != nil {
			if errors.Is(err, cerrors.ErrNotFound) {
				// An indexed hash without a record should not happen; keep
				// serving the rest of the history.
				slog.Warn("patient index references missing record",
					"patient", patientID, "hash", hash)
				continue
			}
			return nil, err
		}
		records = append(records, record.FromFields(fields))
	}
	return records, nil
}

// RenderPromptText produces the complete, deterministic rendering of a
// patient's records consumed by the summarization prompts. Structured
// details render as indented JSON (keys sorted by the encoder), raw details
// render unchanged.
func RenderPromptText(records []record.PrescriptionRecord) string {
	texts := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.Details.IsStructured() {
			b, err := json.MarshalIndent(rec.Details.Structured, "", "  ")
			if err == nil {
				texts = append(texts, string(b))
				continue
			}
		}
		texts = append(texts, rec.Details.Raw)
	}
	return strings.Join(texts, "\n\n")
}
