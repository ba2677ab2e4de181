package stream

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSource は決められた順に結果を返す FrameSource
type fakeSource struct {
	mu        sync.Mutex
	available bool
	results   []error
	calls     int
	frame     []byte
	block     bool
}

func (f *fakeSource) Available() bool {
	return f.available
}

func (f *fakeSource) CaptureFrame(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if i < len(f.results) && f.results[i] != nil {
		return nil, f.results[i]
	}
	return f.frame, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recorder は書き込まれたパートを保持する
type recorder struct {
	mu    sync.Mutex
	parts []Part
	limit int
	fail  error
	done  chan struct{}
}

func newRecorder(limit int) *recorder {
	return &recorder{limit: limit, done: make(chan struct{})}
}

func (r *recorder) WritePart(p Part) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.parts = append(r.parts, p)
	if len(r.parts) == r.limit {
		close(r.done)
	}
	return nil
}

func (r *recorder) Parts() []Part {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Part(nil), r.parts...)
}

func testOptions() Options {
	return Options{FrameInterval: 2 * time.Millisecond, ErrorBackoff: 20 * time.Millisecond}
}

func TestSession_Frames(t *testing.T) {
	src := &fakeSource{available: true, frame: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
	s := NewSession(src, testOptions())

	if s.ID() == "" {
		t.Error("Expected session ID")
	}
	if s.ErrorOnly() {
		t.Error("Expected normal session")
	}

	for i := 0; i < 3; i++ {
		part, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if part.ContentType != ContentTypeJPEG || !bytes.Equal(part.Body, src.frame) {
			t.Errorf("Unexpected part %q %v", part.ContentType, part.Body)
		}
	}

	if got := s.Stats(); got.Frames != 3 || got.Errors != 0 {
		t.Errorf("Unexpected stats %+v", got)
	}
}

func TestSession_FramePacing(t *testing.T) {
	src := &fakeSource{available: true, frame: []byte{1}}
	opts := Options{FrameInterval: 15 * time.Millisecond, ErrorBackoff: time.Second}
	s := NewSession(src, opts)

	ctx := context.Background()
	if _, err := s.Next(ctx); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if _, err := s.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Expected pacing between frames, got %v", elapsed)
	}
}

func TestSession_ErrorPartAndRecovery(t *testing.T) {
	src := &fakeSource{
		available: true,
		frame:     []byte{1, 2, 3},
		results:   []error{errors.New("Failed to capture image"), errors.New("Failed to capture image")},
	}
	s := NewSession(src, testOptions())
	ctx := context.Background()

	// エラーが続いた後、フレームに戻る
	var prev time.Time
	for i := 0; i < 2; i++ {
		part, err := s.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !part.IsError() {
			t.Fatalf("Expected error part %d, got %q", i, part.ContentType)
		}
		if string(part.Body) != "Camera error: Failed to capture image" {
			t.Errorf("Unexpected error body %q", part.Body)
		}
		if !prev.IsZero() && time.Since(prev) < 15*time.Millisecond {
			t.Errorf("Expected backoff after error part, got %v", time.Since(prev))
		}
		prev = time.Now()
	}

	part, err := s.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if part.IsError() {
		t.Errorf("Expected recovery to frames, got %q", part.Body)
	}
	if time.Since(prev) < 15*time.Millisecond {
		t.Error("Expected backoff before retry")
	}

	if got := s.Stats(); got.Frames != 1 || got.Errors != 2 {
		t.Errorf("Unexpected stats %+v", got)
	}
}

func TestSession_UnavailableAtStart(t *testing.T) {
	src := &fakeSource{available: false}
	s := NewSession(src, testOptions())

	if !s.ErrorOnly() {
		t.Fatal("Expected error-only session")
	}

	for i := 0; i < 2; i++ {
		part, err := s.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !part.IsError() || string(part.Body) != "Camera not available" {
			t.Errorf("Unexpected part %q %q", part.ContentType, part.Body)
		}
	}

	// デバイスには一度も触れない
	if src.Calls() != 0 {
		t.Errorf("Expected no capture calls, got %d", src.Calls())
	}
}

func TestSession_CancelDuringBackoff(t *testing.T) {
	src := &fakeSource{available: true, results: []error{errors.New("boom")}}
	s := NewSession(src, Options{FrameInterval: time.Millisecond, ErrorBackoff: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := s.Next(ctx); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := s.Next(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Expected Next to return promptly after cancel")
	}
}

func TestSession_CancelWhileWaitingForDevice(t *testing.T) {
	src := &fakeSource{available: true, block: true}
	s := NewSession(src, testOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
	// 切断はエラーパートとして数えない
	if got := s.Stats(); got.Errors != 0 {
		t.Errorf("Expected no error parts, got %+v", got)
	}
}

func TestSession_Run(t *testing.T) {
	src := &fakeSource{available: true, frame: []byte{9}}
	s := NewSession(src, testOptions())
	rec := newRecorder(5)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx, rec) }()

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for parts")
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected nil on client disconnect, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if len(rec.Parts()) < 5 {
		t.Errorf("Expected at least 5 parts, got %d", len(rec.Parts()))
	}
}

func TestSession_RunWriteFailure(t *testing.T) {
	src := &fakeSource{available: true, frame: []byte{9}}
	s := NewSession(src, testOptions())
	rec := newRecorder(1)
	rec.fail = errors.New("broken pipe")

	err := s.Run(context.Background(), rec)
	if err == nil || err.Error() != "broken pipe" {
		t.Errorf("Expected write error, got %v", err)
	}
}
