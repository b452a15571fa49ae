package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/PStewardYUL/receipt-ai/internal/extraction"
)

// ErrBatchRunning is returned when a batch is triggered while one is running.
var ErrBatchRunning = errors.New("batch already running")

// BatchRunner processes every file in the inbox. At most one batch runs at a
// time.
type BatchRunner struct {
	service *Service
	sem     *semaphore.Weighted
	// Pause is the delay between documents.
	Pause time.Duration

	mu     sync.Mutex
	status BatchRun
}

// NewBatchRunner creates a runner over the service's storage.
func NewBatchRunner(service *Service) *BatchRunner {
	return &BatchRunner{
		service: service,
		sem:     semaphore.NewWeighted(1),
		Pause:   150 * time.Millisecond,
	}
}

// Status returns a copy of the current or last batch status.
func (b *BatchRunner) Status() BatchRun {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// History returns the stored batch runs, newest first.
func (b *BatchRunner) History() ([]*BatchRun, error) {
	runs, err := b.service.db.ListBatchRuns()
	if err != nil {
		return nil, fmt.Errorf("listing batch runs: %w", err)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Started.After(runs[j].Started)
	})
	return runs, nil
}

// Start launches a batch in the background and returns its initial status.
// The batch outlives ctx's cancellation but keeps its values.
func (b *BatchRunner) Start(ctx context.Context, force bool) (BatchRun, error) {
	run, names, err := b.begin(force)
	if err != nil {
		return run, err
	}
	go func() {
		defer b.sem.Release(1)
		b.run(context.WithoutCancel(ctx), run, names)
	}()
	return run, nil
}

// Run processes the inbox and returns the final status.
func (b *BatchRunner) Run(ctx context.Context, force bool) (BatchRun, error) {
	run, names, err := b.begin(force)
	if err != nil {
		return run, err
	}
	defer b.sem.Release(1)
	b.run(ctx, run, names)
	return b.Status(), nil
}

// begin takes the permit and lists the inbox. The permit is held on success.
func (b *BatchRunner) begin(force bool) (BatchRun, []string, error) {
	if !b.sem.TryAcquire(1) {
		return b.Status(), nil, ErrBatchRunning
	}
	names, err := b.service.storage.List()
	if err != nil {
		b.sem.Release(1)
		return BatchRun{}, nil, fmt.Errorf("listing inbox: %w", err)
	}

	run := BatchRun{
		ID:      b.service.idGenerator.Generate(),
		Running: true,
		Force:   force,
		Started: b.service.timeSource.Now(),
	}
	b.update(run)
	slog.Info("Batch started", "id", run.ID, "documents", len(names), "force", force)
	return run, names, nil
}

func (b *BatchRunner) run(ctx context.Context, run BatchRun, names []string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Batch panic", "id", run.ID, "panic", r)
			run.Error = fmt.Sprintf("panic: %v", r)
		}
		run.Running = false
		run.Finished = b.service.timeSource.Now()
		b.update(run)
		slog.Info("Batch complete", "id", run.ID,
			"processed", run.Stats.Processed,
			"receipts", run.Stats.Receipts,
			"errors", run.Stats.Errors,
			"skipped", run.Stats.Skipped,
			"flagged", run.Stats.Flagged,
		)
	}()

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			run.Error = err.Error()
			return
		}
		if i > 0 && b.Pause > 0 {
			select {
			case <-ctx.Done():
				run.Error = ctx.Err().Error()
				return
			case <-time.After(b.Pause):
			}
		}

		run.Stats.Processed++
		data, err := b.service.storage.Get(name)
		if err != nil {
			slog.Error("Failed to read inbox file", "name", name, "error", err)
			run.Stats.Errors++
			b.update(run)
			continue
		}

		contentType := contentTypeFromName(name)
		out := b.service.Process(ctx, extraction.Document{
			ID:          name,
			Name:        name,
			Data:        data,
			Kind:        extraction.KindFromContentType(contentType),
			ContentType: contentType,
		}, run.Force)
		run.Stats.count(out)
		b.update(run)
	}
}

func (st *Stats) count(out extraction.Outcome) {
	switch {
	case out.Status == extraction.StatusError:
		st.Errors++
	case out.Status == extraction.StatusSkipped:
		st.Skipped++
	case out.Result != nil && out.Result.IsReceipt:
		st.Receipts++
		if len(out.Result.Warnings) > 0 {
			st.Flagged++
		}
	}
}

// update publishes the status and persists it.
func (b *BatchRunner) update(run BatchRun) {
	b.mu.Lock()
	b.status = run
	b.mu.Unlock()
	if err := b.service.db.SaveBatchRun(&run); err != nil {
		slog.Warn("Failed to save batch status", "id", run.ID, "error", err)
	}
}
