package sched

import (
	"context"
	"testing"
	"time"

	"bouncer/internal/model"
)

// fakeScanner records scan requests on a channel.
type fakeScanner struct {
	calls   chan int64
	results map[int64]model.ScanResult
}

func (f *fakeScanner) Run(_ context.Context, mailboxID int64) model.ScanResult {
	f.calls <- mailboxID
	return f.results[mailboxID]
}

type fakeLister struct {
	boxes []model.Mailbox
}

func (f *fakeLister) ListMailboxes(context.Context) ([]model.Mailbox, error) {
	return f.boxes, nil
}

func waitForCall(t *testing.T, ch chan int64) int64 {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for scan")
		return 0
	}
}

func TestRunnerInitialSweepScansAllMailboxes(t *testing.T) {
	scanner := &fakeScanner{
		calls:   make(chan int64, 16),
		results: map[int64]model.ScanResult{1: {Processed: 2}, 2: {}},
	}
	lister := &fakeLister{boxes: []model.Mailbox{
		{ID: 1, Name: "support"},
		{ID: 2, Name: "billing"},
	}}

	r := New(scanner, lister, time.Hour, nil)
	r.Start(context.Background())
	defer r.Stop()

	if got := waitForCall(t, scanner.calls); got != 1 {
		t.Errorf("first scan = %d, want 1", got)
	}
	if got := waitForCall(t, scanner.calls); got != 2 {
		t.Errorf("second scan = %d, want 2", got)
	}
}

func TestRunnerTrigger(t *testing.T) {
	scanner := &fakeScanner{
		calls:   make(chan int64, 16),
		results: map[int64]model.ScanResult{7: {Processed: 1}},
	}
	r := New(scanner, &fakeLister{}, time.Hour, nil)
	r.Start(context.Background())
	defer r.Stop()

	r.Trigger(7)

	if got := waitForCall(t, scanner.calls); got != 7 {
		t.Errorf("scan = %d, want 7", got)
	}
}

func TestRunnerRecordsFailureStatus(t *testing.T) {
	scanner := &fakeScanner{
		calls:   make(chan int64, 16),
		results: map[int64]model.ScanResult{1: {Err: "IMAP connection failed: refused"}},
	}
	lister := &fakeLister{boxes: []model.Mailbox{{ID: 1, Name: "support"}}}

	r := New(scanner, lister, time.Hour, nil)
	r.Start(context.Background())
	waitForCall(t, scanner.calls)
	r.Stop()

	statuses := r.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("got %d statuses, want 1", len(statuses))
	}
	st := statuses[0]
	if st.State != RunFailed {
		t.Errorf("State = %v, want RunFailed", st.State)
	}
	if st.LastErr != "IMAP connection failed: refused" {
		t.Errorf("LastErr = %q", st.LastErr)
	}
	if st.Name != "support" {
		t.Errorf("Name = %q", st.Name)
	}
}

func TestRunnerStartTwiceIsNoop(t *testing.T) {
	scanner := &fakeScanner{calls: make(chan int64, 16), results: map[int64]model.ScanResult{}}
	r := New(scanner, &fakeLister{}, time.Hour, nil)
	r.Start(context.Background())
	r.Start(context.Background())
	r.Stop()
}
