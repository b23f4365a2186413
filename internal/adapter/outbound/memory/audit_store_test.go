package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/actionbridge/actionbridge/internal/domain/audit"
)

func TestAuditAppendAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()

	e := &audit.Entry{AccountID: "acct", ToolName: "tracker_issues_list", Success: true}
	if err := s.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.ID == "" {
		t.Fatal("id not stamped")
	}

	got, err := s.Get(ctx, "acct", e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ToolName != "tracker_issues_list" {
		t.Errorf("tool = %q", got.ToolName)
	}
	if _, err := s.Get(ctx, "other", e.ID); !errors.Is(err, audit.ErrNotFound) {
		t.Errorf("cross-account Get err = %v", err)
	}
}

func TestAuditListByCorrelationOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()

	base := time.Now().UTC()
	for i := 3; i >= 1; i-- {
		if err := s.Append(ctx, &audit.Entry{
			AccountID:     "acct",
			CorrelationID: "abcd1234",
			ToolName:      fmt.Sprintf("step_%d", i),
			Timestamp:     base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := s.ListByCorrelation(ctx, "acct", "abcd1234")
	if err != nil {
		t.Fatalf("ListByCorrelation: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries", len(got))
	}
	for i, e := range got {
		if want := fmt.Sprintf("step_%d", i+1); e.ToolName != want {
			t.Errorf("position %d = %q, want %q", i, e.ToolName, want)
		}
	}
}

func TestAuditQueryFilters(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()

	for i := 0; i < 150; i++ {
		ok := i%2 == 0
		if err := s.Append(ctx, &audit.Entry{AccountID: "acct", ToolName: "t", Success: ok}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := s.Query(ctx, audit.QueryFilter{AccountID: "acct"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != audit.MaxQueryLimit {
		t.Errorf("unbounded query returned %d, want clamp to %d", len(all), audit.MaxQueryLimit)
	}

	failed := false
	fails, err := s.Query(ctx, audit.QueryFilter{AccountID: "acct", Success: &failed, Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(fails) != 10 {
		t.Errorf("limited query returned %d", len(fails))
	}
	for _, e := range fails {
		if e.Success {
			t.Error("success entry in failure query")
		}
	}
}

func TestMarkRolledBackCAS(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()

	rev := &audit.Entry{
		AccountID:  "acct",
		Reversible: true,
		RollbackData: map[string]interface{}{
			"type": "http_call", "method": "DELETE", "path": "/issues/1",
		},
	}
	if err := s.Append(ctx, rev); err != nil {
		t.Fatalf("Append: %v", err)
	}
	plain := &audit.Entry{AccountID: "acct"}
	if err := s.Append(ctx, plain); err != nil {
		t.Fatalf("Append: %v", err)
	}

	at := time.Now().UTC()
	if err := s.MarkRolledBack(ctx, "acct", rev.ID, "rb-audit-1", at); err != nil {
		t.Fatalf("MarkRolledBack: %v", err)
	}
	if err := s.MarkRolledBack(ctx, "acct", rev.ID, "rb-audit-2", at); !errors.Is(err, audit.ErrAlreadyRolledBack) {
		t.Errorf("second rollback err = %v, want ErrAlreadyRolledBack", err)
	}
	if err := s.MarkRolledBack(ctx, "acct", plain.ID, "rb-audit-3", at); !errors.Is(err, audit.ErrNotReversible) {
		t.Errorf("irreversible rollback err = %v, want ErrNotReversible", err)
	}

	got, _ := s.Get(ctx, "acct", rev.ID)
	if !got.RolledBack || got.RollbackAuditID != "rb-audit-1" || got.RolledBackAt == nil {
		t.Errorf("rollback triple not persisted: %+v", got)
	}
}
