package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"image-compressor/internal/blobstore"
	"image-compressor/internal/compressor"
	"image-compressor/internal/logger"
	"image-compressor/internal/orchestrator"
	"image-compressor/internal/prober"
	"image-compressor/internal/state"
	"image-compressor/internal/statistics"
)

func newManager(ttl time.Duration) (*Manager, *blobstore.Store, *statistics.Statistics) {
	log := logger.Discard()
	blobs := blobstore.New()
	stats := statistics.NewStatistics()
	p := prober.NewImageProber(log, true)
	engine := compressor.NewImagingEngine(log, compressor.DefaultOptions())
	factory := func() *orchestrator.Orchestrator {
		return orchestrator.New(p, engine, blobs, log, stats, orchestrator.Options{
			Params: state.Parameters{Quality: 0.8, SizeRatio: 0.8},
		})
	}
	return NewManager(factory, ttl, log, stats), blobs, stats
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestCreateGetDelete(t *testing.T) {
	m, _, stats := newManager(time.Minute)

	s := m.Create()
	if s.ID == "" {
		t.Fatal("Expected a session id")
	}
	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if m.Len() != 1 || stats.Snapshot().SessionsCreated != 1 {
		t.Errorf("Expected one session, got %d", m.Len())
	}

	if err := m.Delete(s.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := m.Delete(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
	if err := s.Orchestrator.Compress(context.Background()); !errors.Is(err, orchestrator.ErrClosed) {
		t.Errorf("Expected deleted session to be closed, got %v", err)
	}
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	m, blobs, stats := newManager(time.Minute)

	idle := m.Create()
	active := m.Create()
	if err := idle.Orchestrator.SelectImage(orchestrator.File{Name: "x.png", MediaType: "image/png", Data: tinyPNG(t)}); err != nil {
		t.Fatalf("SelectImage() error = %v", err)
	}
	idle.Orchestrator.Wait()
	if blobs.Len() != 1 {
		t.Fatalf("Expected the source preview to be live, got %d", blobs.Len())
	}

	later := time.Now().Add(90 * time.Second)
	active.mutex.Lock()
	active.lastSeen = later
	active.mutex.Unlock()

	if n := m.Sweep(later); n != 1 {
		t.Fatalf("Expected 1 expired session, got %d", n)
	}
	if _, err := m.Get(idle.ID); !errors.Is(err, ErrNotFound) {
		t.Error("Expected idle session to be gone")
	}
	if _, err := m.Get(active.ID); err != nil {
		t.Errorf("Expected active session to survive, got %v", err)
	}
	if blobs.Len() != 0 {
		t.Errorf("Expected expired session handles released, got %d", blobs.Len())
	}
	if stats.Snapshot().SessionsExpired != 1 {
		t.Errorf("Expected 1 expired session counted, got %d", stats.Snapshot().SessionsExpired)
	}
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	m, _, _ := newManager(time.Nanosecond)
	m.Create()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for m.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never expired the session")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestCloseAll(t *testing.T) {
	m, _, _ := newManager(time.Minute)
	a := m.Create()
	m.Create()

	m.CloseAll()
	if m.Len() != 0 {
		t.Errorf("Expected no sessions, got %d", m.Len())
	}
	if err := a.Orchestrator.Compress(context.Background()); !errors.Is(err, orchestrator.ErrClosed) {
		t.Errorf("Expected closed orchestrator, got %v", err)
	}
}
