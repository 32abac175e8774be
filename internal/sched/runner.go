// Package sched runs periodic background scans over all configured
// mailboxes on a single worker, so no two scans ever overlap.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bouncer/internal/model"
)

// RunState represents the current state of a mailbox scan.
type RunState int

const (
	RunIdle RunState = iota
	RunRunning
	RunFailed
)

// RunStatus holds the last observed scan state for one mailbox.
type RunStatus struct {
	MailboxID int64
	Name      string
	State     RunState
	LastRun   time.Time
	LastErr   string
	Processed int
}

// Scanner performs one scan pass over one mailbox.
type Scanner interface {
	Run(ctx context.Context, mailboxID int64) model.ScanResult
}

// MailboxLister enumerates the mailboxes to watch.
type MailboxLister interface {
	ListMailboxes(ctx context.Context) ([]model.Mailbox, error)
}

// scanTimeout is the maximum time allowed for a single scan pass.
const scanTimeout = 5 * time.Minute

// Runner drives periodic sweeps of all mailboxes plus on-demand
// triggers. All scans run on one worker goroutine, serialized.
type Runner struct {
	scanner  Scanner
	lister   MailboxLister
	interval time.Duration
	log      *slog.Logger

	triggerCh chan int64
	stopCh    chan struct{}
	doneCh    chan struct{}

	mu       sync.Mutex
	statuses map[int64]*RunStatus
	running  bool
}

// New creates a Runner. A non-positive interval defaults to two
// minutes.
func New(scanner Scanner, lister MailboxLister, interval time.Duration, log *slog.Logger) *Runner {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		scanner:   scanner,
		lister:    lister,
		interval:  interval,
		log:       log,
		triggerCh: make(chan int64, 16),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		statuses:  make(map[int64]*RunStatus),
	}
}

// Start launches the worker goroutine. Calling Start twice is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go r.loop(ctx)
}

// Stop halts the worker and waits for an in-flight scan to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// Trigger requests an immediate scan of one mailbox. The request is
// dropped if the queue is full.
func (r *Runner) Trigger(mailboxID int64) {
	select {
	case r.triggerCh <- mailboxID:
	default:
	}
}

// Statuses returns a snapshot of the last observed state per mailbox.
func (r *Runner) Statuses() []RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RunStatus, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, *s)
	}
	return out
}

// loop is the single worker: an initial sweep, then ticked sweeps
// interleaved with on-demand triggers.
func (r *Runner) loop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep(ctx)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		case id := <-r.triggerCh:
			r.runOne(ctx, id, "")
		}
	}
}

// sweep scans every configured mailbox in turn.
func (r *Runner) sweep(ctx context.Context) {
	boxes, err := r.lister.ListMailboxes(ctx)
	if err != nil {
		r.log.Error("listing mailboxes", "error", err)
		return
	}

	for _, mb := range boxes {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		r.runOne(ctx, mb.ID, mb.Name)
	}
}

// runOne performs one scan pass and records its outcome.
func (r *Runner) runOne(ctx context.Context, mailboxID int64, name string) {
	r.setStatus(mailboxID, name, RunRunning, model.ScanResult{}, false)

	runCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	res := r.scanner.Run(runCtx, mailboxID)
	cancel()

	if res.Err != "" {
		r.log.Warn("scan failed", "mailbox_id", mailboxID, "error", res.Err)
		r.setStatus(mailboxID, name, RunFailed, res, true)
		return
	}

	r.log.Info("scan complete", "mailbox_id", mailboxID, "processed", res.Processed)
	r.setStatus(mailboxID, name, RunIdle, res, true)
}

func (r *Runner) setStatus(mailboxID int64, name string, state RunState, res model.ScanResult, finished bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.statuses[mailboxID]
	if !ok {
		status = &RunStatus{MailboxID: mailboxID}
		r.statuses[mailboxID] = status
	}
	if name != "" {
		status.Name = name
	}
	status.State = state
	if finished {
		status.LastRun = time.Now()
		status.LastErr = res.Err
		status.Processed = res.Processed
	}
}
