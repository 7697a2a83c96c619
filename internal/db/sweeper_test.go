package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type fakeSweeper struct {
	calls atomic.Int32
	res   map[string]int64
	err   error
}

func (f *fakeSweeper) SweepAll(ctx context.Context) (map[string]int64, error) {
	f.calls.Add(1)
	return f.res, f.err
}

type fakeCleaner struct {
	mu     sync.Mutex
	before []time.Time
	err    error
}

func (f *fakeCleaner) CleanSessions(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before = append(f.before, before)
	return 2, f.err
}

func (f *fakeCleaner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.before)
}

// syncBuffer guards the log buffer written by the sweeper goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func bufferLogger(buf *syncBuffer, level zapcore.Level) *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(buf),
		level,
	)
	return zap.New(core)
}

func TestStartSweeper_Success(t *testing.T) {
	records := &fakeSweeper{res: map[string]int64{"widget": 3}}
	sessions := &fakeCleaner{}

	var buf syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartSweeper(ctx, records, sessions, 10*time.Millisecond, time.Hour, bufferLogger(&buf, zapcore.InfoLevel))

	time.Sleep(200 * time.Millisecond)
	cancel()

	if records.calls.Load() == 0 {
		t.Fatalf("SweepAll was never called")
	}
	if sessions.count() == 0 {
		t.Fatalf("CleanSessions was never called")
	}
	sessions.mu.Lock()
	cutoff := sessions.before[0]
	sessions.mu.Unlock()
	if time.Until(cutoff) > -59*time.Minute {
		t.Errorf("session cutoff %v is not an hour in the past", cutoff)
	}
	if out := buf.String(); !strings.Contains(out, "swept soft-deleted records") {
		t.Errorf("expected sweep log, got:\n%s", out)
	}
}

func TestStartSweeper_ErrorLogged(t *testing.T) {
	records := &fakeSweeper{err: errors.New("store fail")}
	sessions := &fakeCleaner{err: errors.New("store fail")}

	var buf syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartSweeper(ctx, records, sessions, 10*time.Millisecond, time.Hour, bufferLogger(&buf, zapcore.ErrorLevel))

	time.Sleep(200 * time.Millisecond)
	cancel()

	out := buf.String()
	if !strings.Contains(out, "failed to sweep soft-deleted records") {
		t.Errorf("expected record sweep error log, got:\n%s", out)
	}
	if !strings.Contains(out, "failed to clean expired sessions") {
		t.Errorf("expected session error log, got:\n%s", out)
	}
}

func TestStartSweeper_CancelBeforeTicker(t *testing.T) {
	records := &fakeSweeper{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	StartSweeper(ctx, records, nil, 50*time.Millisecond, time.Hour, zap.NewNop())

	time.Sleep(100 * time.Millisecond)
	if n := records.calls.Load(); n != 0 {
		t.Errorf("SweepAll called %d times after cancel", n)
	}
}

func TestSweepOnce_ReturnsFirstError(t *testing.T) {
	recErr := errors.New("records down")
	err := SweepOnce(context.Background(),
		&fakeSweeper{err: recErr},
		&fakeCleaner{err: errors.New("sessions down")},
		0, zap.NewNop())
	if !errors.Is(err, recErr) {
		t.Fatalf("SweepOnce error = %v; want %v", err, recErr)
	}

	if err := SweepOnce(context.Background(), nil, nil, 0, zap.NewNop()); err != nil {
		t.Fatalf("SweepOnce with no dependencies = %v", err)
	}
}
