package models

import (
	"errors"
	"testing"
	"time"
)

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 1 * time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{4, 16 * time.Minute},
		{5, 32 * time.Minute},
		{6, 60 * time.Minute},
		{7, 60 * time.Minute},
		{10, 60 * time.Minute},
		{-1, 1 * time.Minute},
	}
	for _, c := range cases {
		if got := RetryDelay(c.retryCount); got != c.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", c.retryCount, got, c.want)
		}
	}
}

func TestMutationLifecycleSuccess(t *testing.T) {
	now := time.Now()
	m := NewMutationRecord(EntityCustomer, 42, OpCreate, []byte(`{"name":"U Ba"}`), PriorityNormal)

	if m.Status != MutationPending {
		t.Fatalf("new record status = %q, want pending", m.Status)
	}
	if !m.Eligible(now) {
		t.Fatal("fresh pending record should be eligible")
	}
	if err := m.MarkSyncing(now); err != nil {
		t.Fatalf("MarkSyncing: %v", err)
	}
	if m.LastAttemptAt == nil {
		t.Fatal("MarkSyncing should record the attempt time")
	}
	if err := m.MarkSynced(900, now); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	if m.Status != MutationSynced {
		t.Fatalf("status = %q, want synced", m.Status)
	}
	if m.EntityServerID == nil || *m.EntityServerID != 900 {
		t.Fatalf("EntityServerID = %v, want 900", m.EntityServerID)
	}
	if !m.IsTerminal() {
		t.Fatal("synced record should be terminal")
	}
}

func TestMarkSyncedIsIdempotent(t *testing.T) {
	now := time.Now()
	m := NewMutationRecord(EntityCustomer, 1, OpCreate, nil, PriorityNormal)
	if err := m.MarkSyncing(now); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkSynced(5, now); err != nil {
		t.Fatal(err)
	}
	// A duplicate success ack must not error or change anything.
	if err := m.MarkSynced(5, now); err != nil {
		t.Fatalf("duplicate MarkSynced: %v", err)
	}
	if *m.EntityServerID != 5 {
		t.Fatalf("EntityServerID changed to %d", *m.EntityServerID)
	}
}

func TestMarkRetryBackoffAndBudget(t *testing.T) {
	now := time.Now()
	m := NewMutationRecord(EntityTransaction, 7, OpCreate, nil, PriorityHigh)
	cause := errors.New("connection refused")

	// First two transient failures reschedule with growing backoff.
	for attempt := 1; attempt < DefaultMaxRetries; attempt++ {
		if err := m.MarkSyncing(now); err != nil {
			t.Fatalf("attempt %d MarkSyncing: %v", attempt, err)
		}
		if err := m.MarkRetry(cause, now); err != nil {
			t.Fatalf("attempt %d MarkRetry: %v", attempt, err)
		}
		if m.Status != MutationPending {
			t.Fatalf("attempt %d: status = %q, want pending", attempt, m.Status)
		}
		if m.RetryCount != attempt {
			t.Fatalf("attempt %d: RetryCount = %d", attempt, m.RetryCount)
		}
		wantNext := now.Add(RetryDelay(attempt))
		if m.NextRetryAt == nil || !m.NextRetryAt.Equal(wantNext) {
			t.Fatalf("attempt %d: NextRetryAt = %v, want %v", attempt, m.NextRetryAt, wantNext)
		}
		if m.Eligible(now) {
			t.Fatalf("attempt %d: record should not be eligible before NextRetryAt", attempt)
		}
		if !m.Eligible(wantNext) {
			t.Fatalf("attempt %d: record should be eligible at NextRetryAt", attempt)
		}
		// Fast-forward past the backoff window.
		now = wantNext
	}

	// The final failure exhausts the budget.
	if err := m.MarkSyncing(now); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkRetry(cause, now); err != nil {
		t.Fatal(err)
	}
	if m.Status != MutationFailed {
		t.Fatalf("status = %q, want failed", m.Status)
	}
	if m.NextRetryAt != nil {
		t.Fatal("failed record must not carry a retry schedule")
	}
	if !m.IsTerminal() {
		t.Fatal("failed record should be terminal")
	}
	if m.ErrorMessage == nil || *m.ErrorMessage != "connection refused" {
		t.Fatalf("ErrorMessage = %v", m.ErrorMessage)
	}
}

func TestMarkConflictKeepsRetryBudget(t *testing.T) {
	now := time.Now()
	m := NewMutationRecord(EntityCustomer, 3, OpUpdate, nil, PriorityNormal)
	if err := m.MarkSyncing(now); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkConflict(errors.New("phone already exists"), now); err != nil {
		t.Fatal(err)
	}
	if m.Status != MutationConflict {
		t.Fatalf("status = %q, want conflict", m.Status)
	}
	if m.RetryCount != 0 {
		t.Fatalf("conflict consumed retry budget: RetryCount = %d", m.RetryCount)
	}
	if !m.IsTerminal() {
		t.Fatal("conflict record should be terminal")
	}
}

func TestTerminalStatesAreSticky(t *testing.T) {
	now := time.Now()
	for _, status := range []MutationStatus{MutationSynced, MutationFailed, MutationConflict} {
		m := NewMutationRecord(EntityCustomer, 1, OpCreate, nil, PriorityNormal)
		m.Status = status
		if err := m.MarkSyncing(now); err == nil {
			t.Errorf("%s: MarkSyncing should fail", status)
		}
		if m.Eligible(now) {
			t.Errorf("%s: terminal record must never be eligible", status)
		}
	}
	// Failed/Conflict must also reject completion.
	m := NewMutationRecord(EntityCustomer, 1, OpCreate, nil, PriorityNormal)
	m.Status = MutationFailed
	if err := m.MarkSynced(1, now); err == nil {
		t.Error("MarkSynced from failed should error")
	}
}

func TestMarkInterruptedReturnsToPendingWithoutBackoff(t *testing.T) {
	now := time.Now()
	m := NewMutationRecord(EntityPayment, 9, OpCreate, nil, PriorityCritical)
	if err := m.MarkSyncing(now); err != nil {
		t.Fatal(err)
	}
	m.MarkInterrupted()
	if m.Status != MutationPending {
		t.Fatalf("status = %q, want pending", m.Status)
	}
	if m.RetryCount != 0 {
		t.Fatalf("interruption consumed retry budget: %d", m.RetryCount)
	}
	if !m.Eligible(now) {
		t.Fatal("interrupted record must be immediately eligible")
	}

	// No-op on anything other than syncing.
	m.MarkInterrupted()
	if m.Status != MutationPending {
		t.Fatalf("status = %q after second interrupt", m.Status)
	}
}

func TestResetForRetry(t *testing.T) {
	now := time.Now()
	m := NewMutationRecord(EntityCustomer, 2, OpUpdate, nil, PriorityNormal)
	m.Status = MutationFailed
	m.RetryCount = 3
	msg := "server error"
	m.ErrorMessage = &msg

	if err := m.ResetForRetry(); err != nil {
		t.Fatalf("ResetForRetry: %v", err)
	}
	if m.Status != MutationPending || m.RetryCount != 0 || m.ErrorMessage != nil {
		t.Fatalf("reset left record dirty: status=%q retries=%d err=%v", m.Status, m.RetryCount, m.ErrorMessage)
	}
	if !m.Eligible(now) {
		t.Fatal("reset record should be eligible")
	}

	// Reset only applies to parked records.
	fresh := NewMutationRecord(EntityCustomer, 2, OpUpdate, nil, PriorityNormal)
	if err := fresh.ResetForRetry(); err == nil {
		t.Error("ResetForRetry on a pending record should error")
	}
}
