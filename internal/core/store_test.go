package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/3cpo-dev/stackroll/pkg/api"
)

func TestStoreRecordAndRecent(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	runs := []Run{
		{Operation: "update", Operator: "alice", Stack: "pdf", Detail: "InstanceType=m5.large", Status: api.RunSucceeded, StartedAt: base, FinishedAt: base.Add(time.Second)},
		{Operation: "redeploy", Operator: "alice", Stack: "pdf", Status: api.RunFailed, Error: "boom", StartedAt: base.Add(time.Minute), FinishedAt: base.Add(2 * time.Minute)},
		{Operation: "exec", Operator: "bob", Stack: "pdf", Detail: "uptime", Status: api.RunSucceeded, StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour)},
	}
	for _, r := range runs {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(got))
	}
	if got[0].Operation != "exec" || got[1].Operation != "redeploy" {
		t.Fatalf("unexpected order: %s, %s", got[0].Operation, got[1].Operation)
	}
	if got[1].Status != api.RunFailed || got[1].Error != "boom" {
		t.Fatalf("failure not preserved: %+v", got[1])
	}
	if !got[1].StartedAt.Equal(runs[1].StartedAt) {
		t.Fatalf("started_at = %v", got[1].StartedAt)
	}

	all, err := s.Recent(ctx, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("default limit: %d runs, %v", len(all), err)
	}
}

func TestStoreReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	now := time.Now()
	if err := s.Record(context.Background(), Run{Operation: "resize", Stack: "pdf", Status: api.RunSucceeded, StartedAt: now, FinishedAt: now}); err != nil {
		t.Fatalf("record: %v", err)
	}
	s.Close()

	s, err = NewStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s.Close()
	got, err := s.Recent(context.Background(), 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected 1 run after reopen, got %d (%v)", len(got), err)
	}
}
