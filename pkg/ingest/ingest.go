// Package ingest walks a directory tree of per-patient prescription scans
// and loads new images into the record store.
//
// Layout: <root>/<patient-id>/*.jpg. Each immediate subdirectory of the root
// is one patient; only .jpg and .jpeg files directly inside it are read
// (shallow, case-exact, matching the upstream scan cadence).
//
// Images are deduplicated by content hash. A single image's read or
// extraction failure is logged and skipped; store failures abort the run.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	cerrors "github.com/sukeesh/drcopilot/pkg/common/errors"
	"github.com/sukeesh/drcopilot/pkg/record"
	"github.com/sukeesh/drcopilot/pkg/store"
)

// MaxWorkers caps the number of concurrent extraction calls.
const MaxWorkers = 8

// Extractor converts image bytes into extracted prescription text.
type Extractor interface {
	Extract(ctx context.Context, imageBytes []byte) (string, error)
}

// Stats summarizes one ingestion run.
type Stats struct {
	Processed uint64 // new records written
	Skipped   uint64 // already-known content hashes
	Failed    uint64 // per-image read or extraction failures
}

type job struct {
	patientID string
	filename  string
	path      string
}

// Run ingests all new images under rootDir. Per-image failures are absorbed
// into Stats; a store failure cancels the remaining batch and is returned.
func Run(ctx context.Context, s *store.RecordStore, ext Extractor, rootDir string) (*Stats, error) {
	runID := uuid.NewString()
	slog.Info("starting ingestion run", "runID", runID, "root", rootDir)

	patients, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, fmt.Errorf("read root directory %s: %w", rootDir, err)
	}

	var (
		processed, skipped, failed atomic.Uint64
		seen                       sync.Map // content hashes claimed in this run
		fatalOnce                  sync.Once
		fatalErr                   error
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	abort := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	jobs := make(chan job, 100)
	var wg sync.WaitGroup

	workerCount := runtime.NumCPU()
	if workerCount > MaxWorkers {
		workerCount = MaxWorkers
	}

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if runCtx.Err() != nil {
					continue // drain remaining jobs after cancellation
				}
				outcome, err := processImage(runCtx, s, ext, &seen, j)
				switch {
				case err != nil:
					// Only store-level failures propagate here.
					abort(err)
				case outcome == outcomeProcessed:
					processed.Add(1)
				case outcome == outcomeSkipped:
					skipped.Add(1)
				case outcome == outcomeFailed:
					failed.Add(1)
				}
			}
		}()
	}

	for _, entry := range patients {
		if !entry.IsDir() {
			continue
		}
		patientID := entry.Name()
		patientDir := filepath.Join(rootDir, patientID)

		images, err := os.ReadDir(patientDir)
		if err != nil {
			slog.Error("cannot read patient directory, skipping",
				"runID", runID, "patient", patientID, "error", err)
			failed.Add(1)
			continue
		}

		for _, img := range images {
			if img.IsDir() || !isImageFile(img.Name()) {
				continue
			}
			select {
			case jobs <- job{patientID: patientID, filename: img.Name(), path: filepath.Join(patientDir, img.Name())}:
			case <-runCtx.Done():
			}
		}
	}
	close(jobs)
	wg.Wait()

	stats := &Stats{
		Processed: processed.Load(),
		Skipped:   skipped.Load(),
		Failed:    failed.Load(),
	}

	if fatalErr != nil {
		slog.Error("ingestion run aborted", "runID", runID, "error", fatalErr)
		return stats, fmt.Errorf("%w: %v", cerrors.ErrStoreUnavailable, fatalErr)
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	slog.Info("ingestion run complete",
		"runID", runID,
		"processed", stats.Processed,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
	return stats, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
)

// processImage handles one image end to end. A non-nil error means the store
// itself failed and the batch must stop; per-image problems return
// outcomeFailed with a nil error.
func processImage(ctx context.Context, s *store.RecordStore, ext Extractor, seen *sync.Map, j job) (outcome, error) {
	hash, err := HashFile(j.path)
	if err != nil {
		slog.Error("cannot hash image, skipping",
			"patient", j.patientID, "file", j.filename, "error", err)
		return outcomeFailed, nil
	}

	// Claim the hash for this run so a byte-identical copy enqueued
	// concurrently cannot trigger a second extraction call.
	if _, loaded := seen.LoadOrStore(hash, struct{}{}); loaded {
		slog.Info("image already processed",
			"patient", j.patientID, "file", j.filename, "hash", hash)
		return outcomeSkipped, nil
	}

	exists, err := s.Exists(hash)
	if err != nil {
		return outcomeFailed, err
	}
	if exists {
		// A crash between PutRecord and AddToPatientIndex can leave a record
		// no index entry points at. Reruns repair it here: the add is
		// idempotent and only the record's own patient is touched.
		fields, err := s.GetRecord(hash)
		if err != nil {
			return outcomeFailed, err
		}
		if fields.PatientName == j.patientID {
			if err := s.AddToPatientIndex(j.patientID, hash); err != nil {
				return outcomeFailed, err
			}
		}
		slog.Info("image already processed",
			"patient", j.patientID, "file", j.filename, "hash", hash)
		return outcomeSkipped, nil
	}

	imageBytes, err := os.ReadFile(j.path)
	if err != nil {
		slog.Error("cannot read image, skipping",
			"patient", j.patientID, "file", j.filename, "error", err)
		seen.Delete(hash)
		return outcomeFailed, nil
	}

	details, err := ext.Extract(ctx, imageBytes)
	if err != nil {
		slog.Error("extraction failed, skipping image",
			"patient", j.patientID, "file", j.filename, "error", err)
		seen.Delete(hash)
		return outcomeFailed, nil
	}

	rec := record.PrescriptionRecord{
		ContentHash: hash,
		Filename:    j.filename,
		PatientID:   j.patientID,
		Details:     record.DecodeDetails(details),
	}

	// The record must be resolvable before the index points at it.
	if err := s.PutRecord(hash, record.ToFields(rec)); err != nil {
		return outcomeFailed, err
	}
	if err := s.AddToPatientIndex(j.patientID, hash); err != nil {
		return outcomeFailed, err
	}

	slog.Info("processed image",
		"patient", j.patientID, "file", j.filename, "hash", hash)
	return outcomeProcessed, nil
}

// isImageFile applies the extension allow-list. Matching is case-exact and
// shallow on purpose; the scan layout upstream produces lowercase names.
func isImageFile(name string) bool {
	return strings.HasSuffix(name, ".jpg") || strings.HasSuffix(name, ".jpeg")
}
