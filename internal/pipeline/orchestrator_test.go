package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type exportCall struct {
	kind     string
	from, to time.Time
}

type recordingExporter struct {
	mu    sync.Mutex
	calls []exportCall
	fail  string
}

func (r *recordingExporter) record(kind string, from, to time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == r.fail {
		return 0, errors.New("bucket gone")
	}
	r.calls = append(r.calls, exportCall{kind, from, to})
	return int64(len(r.calls)), nil
}

func (r *recordingExporter) ExportAuctions(_ context.Context, from, to time.Time) (int64, error) {
	return r.record("auctions", from, to)
}

func (r *recordingExporter) ExportLedger(_ context.Context, from, to time.Time) (int64, error) {
	return r.record("ledger", from, to)
}

func (r *recordingExporter) ExportAudit(_ context.Context, from, to time.Time) (int64, error) {
	return r.record("audit", from, to)
}

func TestArchiver_RunExportsPreviousDay(t *testing.T) {
	exp := &recordingExporter{}
	a := NewArchiver(exp, discardLogger())
	a.now = func() time.Time { return time.Date(2026, 10, 19, 3, 0, 12, 0, time.UTC) }

	rep, err := a.Run(context.Background())
	require.NoError(t, err)

	from := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, from, rep.From)
	assert.Equal(t, to, rep.To)
	assert.Equal(t, int64(1), rep.Auctions)
	assert.Equal(t, int64(2), rep.Ledger)
	assert.Equal(t, int64(3), rep.Audit)
	require.Len(t, exp.calls, 3)
	for _, c := range exp.calls {
		assert.Equal(t, from, c.from)
		assert.Equal(t, to, c.to)
	}
}

func TestArchiver_StopsOnExportFailure(t *testing.T) {
	exp := &recordingExporter{fail: "ledger"}
	a := NewArchiver(exp, discardLogger())

	_, err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archiving ledger")
	assert.Len(t, exp.calls, 1)
}

func TestArchiver_RunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&recordingExporter{}, discardLogger())
	err := a.RunCron(context.Background(), "every day")
	assert.Error(t, err)
}

func TestOrchestrator_RunsJobsUntilCancelled(t *testing.T) {
	var fast, failing, disabled atomic.Int32
	jobs := []Job{
		{Name: "close-expired", Interval: 10 * time.Millisecond, Run: func(context.Context) (domain.ScanResult, error) {
			fast.Add(1)
			return domain.ScanResult{Scanned: 1, Processed: 1}, nil
		}},
		{Name: "reconcile", Interval: 10 * time.Millisecond, Run: func(context.Context) (domain.ScanResult, error) {
			failing.Add(1)
			return domain.ScanResult{}, errors.New("store unavailable")
		}},
		{Name: "off", Interval: 0, Run: func(context.Context) (domain.ScanResult, error) {
			disabled.Add(1)
			return domain.ScanResult{}, nil
		}},
	}
	o := NewOrchestrator(jobs, nil, "", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	assert.Eventually(t, func() bool { return fast.Load() >= 3 && failing.Load() >= 3 },
		2*time.Second, 5*time.Millisecond, "a failing job keeps its schedule")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
	assert.Zero(t, disabled.Load())
}

func TestOrchestrator_BadArchiveCronFails(t *testing.T) {
	o := NewOrchestrator(nil, NewArchiver(&recordingExporter{}, discardLogger()), "61 * * * *", discardLogger())
	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archiver")
}
