package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sukeesh/drcopilot/pkg/record"
	"github.com/sukeesh/drcopilot/pkg/store"
)

// fakeExtractor counts calls and can fail on selected inputs.
type fakeExtractor struct {
	calls  atomic.Int64
	result string
	failOn string // image content that triggers an error
}

func (f *fakeExtractor) Extract(ctx context.Context, imageBytes []byte) (string, error) {
	f.calls.Add(1)
	if f.failOn != "" && string(imageBytes) == f.failOn {
		return "", errors.New("vision model unavailable")
	}
	if f.result != "" {
		return f.result, nil
	}
	return "extracted: " + string(imageBytes), nil
}

func newTestStore(t *testing.T) *store.RecordStore {
	t.Helper()
	s, err := store.Open(&store.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeImage(t *testing.T, root, patient, name, content string) {
	t.Helper()
	dir := filepath.Join(root, patient)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRunIngestsNewImages(t *testing.T) {
	root := t.TempDir()
	writeImage(t, root, "john_smith", "rx1.jpg", "image-a")
	writeImage(t, root, "john_smith", "rx2.jpeg", "image-b")
	writeImage(t, root, "mary_jones", "rx1.jpg", "image-c")

	s := newTestStore(t)
	ext := &fakeExtractor{}

	stats, err := Run(context.Background(), s, ext, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.Processed)
	assert.Equal(t, uint64(0), stats.Skipped)
	assert.Equal(t, uint64(0), stats.Failed)
	assert.Equal(t, int64(3), ext.calls.Load())

	patients, err := s.ListPatients()
	require.NoError(t, err)
	assert.Equal(t, []string{"john_smith", "mary_jones"}, patients)

	hashes, err := s.HashesForPatient("john_smith")
	require.NoError(t, err)
	assert.Len(t, hashes, 2)

	fields, err := s.GetRecord(hashes[0])
	require.NoError(t, err)
	assert.Equal(t, "john_smith", fields.PatientName)
}

func TestRunIdempotent(t *testing.T) {
	root := t.TempDir()
	writeImage(t, root, "john_smith", "rx1.jpg", "image-a")

	s := newTestStore(t)
	ext := &fakeExtractor{}

	_, err := Run(context.Background(), s, ext, root)
	require.NoError(t, err)

	stats, err := Run(context.Background(), s, ext, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.Processed)
	assert.Equal(t, uint64(1), stats.Skipped)
	assert.Equal(t, int64(1), ext.calls.Load(), "second run must not call the extractor")
}

func TestRunDeduplicatesIdenticalCopies(t *testing.T) {
	root := t.TempDir()
	// Same bytes under two patients and twice under one.
	writeImage(t, root, "john_smith", "rx1.jpg", "same-bytes")
	writeImage(t, root, "john_smith", "rx1_copy.jpg", "same-bytes")
	writeImage(t, root, "mary_jones", "scan.jpg", "same-bytes")

	s := newTestStore(t)
	ext := &fakeExtractor{}

	stats, err := Run(context.Background(), s, ext, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Processed)
	assert.Equal(t, uint64(2), stats.Skipped)
	assert.Equal(t, int64(1), ext.calls.Load(), "identical bytes must be extracted once")
}

func TestRunIsolatesExtractionFailures(t *testing.T) {
	root := t.TempDir()
	writeImage(t, root, "john_smith", "good.jpg", "image-a")
	writeImage(t, root, "john_smith", "bad.jpg", "poison")
	writeImage(t, root, "mary_jones", "good.jpg", "image-b")

	s := newTestStore(t)
	ext := &fakeExtractor{failOn: "poison"}

	stats, err := Run(context.Background(), s, ext, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Processed)
	assert.Equal(t, uint64(1), stats.Failed)

	hashes, err := s.HashesForPatient("john_smith")
	require.NoError(t, err)
	assert.Len(t, hashes, 1, "failed image must not be indexed")
}

func TestRunIsolatesUnreadableImage(t *testing.T) {
	root := t.TempDir()
	writeImage(t, root, "john_smith", "good.jpg", "image-a")
	// A dangling symlink is listed by the scan but fails on open.
	require.NoError(t, os.Symlink(
		filepath.Join(root, "nowhere"),
		filepath.Join(root, "john_smith", "bad.jpg"),
	))

	s := newTestStore(t)
	ext := &fakeExtractor{}

	stats, err := Run(context.Background(), s, ext, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Processed)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, int64(1), ext.calls.Load())

	hashes, err := s.HashesForPatient("john_smith")
	require.NoError(t, err)
	assert.Len(t, hashes, 1, "unreadable image must not block its siblings")
}

func TestRunRepairsUnindexedRecord(t *testing.T) {
	root := t.TempDir()
	writeImage(t, root, "john_smith", "rx1.jpg", "image-a")

	s := newTestStore(t)
	hash, err := HashFile(filepath.Join(root, "john_smith", "rx1.jpg"))
	require.NoError(t, err)

	// Record stored but never indexed, as left by a crash mid-write.
	require.NoError(t, s.PutRecord(hash, record.Fields{
		Filename:    "rx1.jpg",
		Hash:        hash,
		PatientName: "john_smith",
		Details:     `{"drug":"amoxicillin"}`,
	}))

	ext := &fakeExtractor{}
	stats, err := Run(context.Background(), s, ext, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Skipped)
	assert.Equal(t, int64(0), ext.calls.Load(), "known bytes must not be re-extracted")

	hashes, err := s.HashesForPatient("john_smith")
	require.NoError(t, err)
	assert.Equal(t, []string{hash}, hashes, "rerun must restore the missing index entry")
}

func TestRunIgnoresNonImageFiles(t *testing.T) {
	root := t.TempDir()
	writeImage(t, root, "john_smith", "rx1.jpg", "image-a")
	writeImage(t, root, "john_smith", "notes.txt", "not an image")
	writeImage(t, root, "john_smith", "rx2.PNG", "not a jpg")
	writeImage(t, root, "john_smith", "rx3.JPG", "uppercase is excluded")

	s := newTestStore(t)
	ext := &fakeExtractor{}

	stats, err := Run(context.Background(), s, ext, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Processed)
	assert.Equal(t, int64(1), ext.calls.Load())
}

func TestRunMissingRoot(t *testing.T) {
	s := newTestStore(t)
	ext := &fakeExtractor{}

	_, err := Run(context.Background(), s, ext, filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.jpg")
	p2 := filepath.Join(dir, "b.jpg")
	require.NoError(t, os.WriteFile(p1, []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(p2, []byte("same"), 0o644))

	h1, err := HashFile(p1)
	require.NoError(t, err)
	h2, err := HashFile(p2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, isImageFile("a.jpg"))
	assert.True(t, isImageFile("a.jpeg"))
	assert.False(t, isImageFile("a.JPG"))
	assert.False(t, isImageFile("a.png"))
	assert.False(t, isImageFile("jpg"))
}
