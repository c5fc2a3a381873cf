package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/salography/fast-alpr/internal/model"
)

func newArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := New(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func observation(plate string, ts time.Time) model.Observation {
	return model.Observation{
		Timestamp:           ts,
		Plate:               plate,
		OCRConfidence:       0.8815,
		DetectionConfidence: 0.9321,
		Session:             "20260825_143000",
		FrameSeq:            45,
		Source:              "webcam",
	}
}

func TestWriteAndRecentDetections(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	plates := []string{"ABC1234", "XYZ789", "DEF5678"}
	for i, plate := range plates {
		if err := a.Write(ctx, observation(plate, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	got, err := a.RecentDetections(ctx, 10)
	if err != nil {
		t.Fatalf("RecentDetections failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d detections, want 3", len(got))
	}
	// Newest first.
	if got[0].Plate != "DEF5678" || got[2].Plate != "ABC1234" {
		t.Errorf("wrong order: got %s first, %s last", got[0].Plate, got[2].Plate)
	}

	d := got[0]
	if d.ID == "" {
		t.Error("expected generated detection id")
	}
	if d.SessionID != "20260825_143000" {
		t.Errorf("session id = %q, want 20260825_143000", d.SessionID)
	}
	if d.DetectionConfidence != 0.9321 || d.OCRConfidence != 0.8815 {
		t.Errorf("confidences = %v/%v, want 0.9321/0.8815", d.DetectionConfidence, d.OCRConfidence)
	}
	if d.FrameSeq != 45 {
		t.Errorf("frame seq = %d, want 45", d.FrameSeq)
	}
	if d.Source != "webcam" {
		t.Errorf("source = %q, want webcam", d.Source)
	}
	if !d.Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Errorf("timestamp = %v, want %v", d.Timestamp, base.Add(2*time.Second))
	}
}

func TestRecentDetectionsLimit(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if err := a.Write(ctx, observation("ABC1234", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	got, err := a.RecentDetections(ctx, 2)
	if err != nil {
		t.Fatalf("RecentDetections failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d detections, want 2", len(got))
	}
}

func TestSubsecondOrdering(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	// A second-aligned timestamp must sort before a fractional one
	// within the same second.
	if err := a.Write(ctx, observation("FIRST11", base)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := a.Write(ctx, observation("SECOND2", base.Add(500*time.Millisecond))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := a.RecentDetections(ctx, 10)
	if err != nil {
		t.Fatalf("RecentDetections failed: %v", err)
	}
	if got[0].Plate != "SECOND2" {
		t.Errorf("got %s first, want SECOND2", got[0].Plate)
	}
}

func TestPlateHistory(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := a.Write(ctx, observation("ABC1234", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := a.Write(ctx, observation("XYZ789", base)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := a.PlateHistory(ctx, "ABC1234", 10)
	if err != nil {
		t.Fatalf("PlateHistory failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d detections, want 3", len(got))
	}
	for _, d := range got {
		if d.Plate != "ABC1234" {
			t.Errorf("unexpected plate %s in history", d.Plate)
		}
	}
	if !got[0].Timestamp.After(got[2].Timestamp) {
		t.Error("history not newest first")
	}
}

func TestPlateHistoryUnknownPlate(t *testing.T) {
	a := newArchive(t)

	got, err := a.PlateHistory(context.Background(), "NOSUCH1", 10)
	if err != nil {
		t.Fatalf("PlateHistory failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d detections, want 0", len(got))
	}
}

func TestDistinctPlates(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := a.Write(ctx, observation("ABC1234", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := a.Write(ctx, observation("XYZ789", base.Add(10*time.Second))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := a.DistinctPlates(ctx, time.Time{})
	if err != nil {
		t.Fatalf("DistinctPlates failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d plates, want 2", len(got))
	}
	if got[0].Plate != "ABC1234" || got[0].Count != 3 {
		t.Errorf("got %s x%d first, want ABC1234 x3", got[0].Plate, got[0].Count)
	}
	if !got[0].LastSeen.Equal(base.Add(2 * time.Second)) {
		t.Errorf("last seen = %v, want %v", got[0].LastSeen, base.Add(2*time.Second))
	}
}

func TestDistinctPlatesSince(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	if err := a.Write(ctx, observation("OLD0001", base.Add(-time.Hour))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := a.Write(ctx, observation("NEW0001", base)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := a.DistinctPlates(ctx, base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("DistinctPlates failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d plates, want 1", len(got))
	}
	if got[0].Plate != "NEW0001" {
		t.Errorf("got %s, want NEW0001", got[0].Plate)
	}
}

func TestSessionLifecycle(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()
	started := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	if err := a.StartSession("20260825_143000", started); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	sessions, err := a.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].EndedAt != nil {
		t.Error("expected nil EndedAt for running session")
	}

	ended := started.Add(5 * time.Minute)
	if err := a.FinishSession("20260825_143000", ended, 17); err != nil {
		t.Fatalf("FinishSession failed: %v", err)
	}

	sessions, err = a.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	s := sessions[0]
	if s.ID != "20260825_143000" {
		t.Errorf("session id = %q, want 20260825_143000", s.ID)
	}
	if !s.StartedAt.Equal(started) {
		t.Errorf("started at = %v, want %v", s.StartedAt, started)
	}
	if s.EndedAt == nil || !s.EndedAt.Equal(ended) {
		t.Errorf("ended at = %v, want %v", s.EndedAt, ended)
	}
	if s.Total != 17 {
		t.Errorf("total = %d, want 17", s.Total)
	}
}

func TestStartSessionIdempotent(t *testing.T) {
	a := newArchive(t)
	started := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	if err := a.StartSession("20260825_143000", started); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if err := a.StartSession("20260825_143000", started.Add(time.Hour)); err != nil {
		t.Fatalf("second StartSession failed: %v", err)
	}

	sessions, err := a.Sessions(context.Background(), 10)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	// First start wins.
	if !sessions[0].StartedAt.Equal(started) {
		t.Errorf("started at = %v, want %v", sessions[0].StartedAt, started)
	}
}

func TestWriteAssignsUniqueIDs(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := a.Write(ctx, observation("ABC1234", base)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	got, err := a.RecentDetections(ctx, 10)
	if err != nil {
		t.Fatalf("RecentDetections failed: %v", err)
	}
	seen := make(map[string]bool)
	for _, d := range got {
		if seen[d.ID] {
			t.Fatalf("duplicate detection id %s", d.ID)
		}
		seen[d.ID] = true
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.db")
	ctx := context.Background()

	a, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Write(ctx, observation("ABC1234", time.Now())); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	a, err = New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer a.Close()

	got, err := a.RecentDetections(ctx, 10)
	if err != nil {
		t.Fatalf("RecentDetections failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d detections after reopen, want 1", len(got))
	}
}
