package audit_test

import (
	"context"
	"testing"

	"millops/internal/audit"
	"millops/internal/testutil"
)

func TestLogAuditAndList(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	audit.LogAudit(ctx, db, nil, "alice", audit.ActionCreate, "customers", "CUS-2026-0001", "Created customer Acme Mills")
	audit.LogAudit(ctx, db, nil, "bob", audit.ActionPost, "purchasing", "PUR-2026-0001", "Posted purchase")
	audit.LogAudit(ctx, db, nil, "", audit.ActionUpdate, "customers", "CUS-2026-0001", "Updated customer")

	all, err := audit.List(ctx, db, audit.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(all))
	}
	if all[0].Username != "system" {
		t.Errorf("Expected newest entry by system, got %s", all[0].Username)
	}

	byModule, _ := audit.List(ctx, db, audit.Filter{Module: "customers"})
	if len(byModule) != 2 {
		t.Errorf("Expected 2 customer entries, got %d", len(byModule))
	}
	byUser, _ := audit.List(ctx, db, audit.Filter{Username: "bob", Limit: 10})
	if len(byUser) != 1 || byUser[0].Action != audit.ActionPost {
		t.Errorf("Unexpected entries for bob: %+v", byUser)
	}
}

func TestListEmpty(t *testing.T) {
	db := testutil.SetupTestDB(t)
	items, err := audit.List(context.Background(), db, audit.Filter{Module: "fleet"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", items)
	}
}
