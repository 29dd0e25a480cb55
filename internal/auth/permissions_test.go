package auth_test

import (
	"context"
	"testing"

	"millops/internal/auth"
	"millops/internal/testutil"
)

func TestMapAPIPathToPermission(t *testing.T) {
	tests := []struct {
		path, method       string
		wantMod, wantActon string
	}{
		{"customers", "GET", auth.ModuleCustomers, auth.PermActionView},
		{"customers/CUS-2026-0001", "PUT", auth.ModuleCustomers, auth.PermActionEdit},
		{"invoices/INV-2026-0001/post", "POST", auth.ModuleCustomers, auth.PermActionApprove},
		{"invoices/INV-2026-0001/receipts", "POST", auth.ModuleCustomers, auth.PermActionCreate},
		{"purchases/PUR-2026-0001/void", "POST", auth.ModulePurchasing, auth.PermActionApprove},
		{"payables/aging", "GET", auth.ModulePurchasing, auth.PermActionView},
		{"journal/JE-2026-00001/reverse", "POST", auth.ModuleLedger, auth.PermActionApprove},
		{"products/PRD-2026-0001/prices", "POST", auth.ModulePricing, auth.PermActionCreate},
		{"products/PRD-2026-0001", "DELETE", auth.ModuleCatalog, auth.PermActionDelete},
		{"pricing/bulk-adjust", "POST", auth.ModulePricing, auth.PermActionApprove},
		{"stock/transfer", "POST", auth.ModuleInventory, auth.PermActionCreate},
		{"logistics/trips/TRP-2026-0001/start", "POST", auth.ModuleFleet, auth.PermActionCreate},
		{"logistics/wheat-shipments", "GET", auth.ModuleShipments, auth.PermActionView},
		{"dashboard/layout", "PUT", auth.ModuleDashboard, auth.PermActionView},
		{"exports/customers", "GET", auth.ModuleReports, auth.PermActionView},
		{"users", "POST", auth.ModuleAdmin, auth.PermActionCreate},
		{"notifications", "GET", "", ""},
	}
	for _, tt := range tests {
		mod, act := auth.MapAPIPathToPermission(tt.path, tt.method)
		if mod != tt.wantMod || act != tt.wantActon {
			t.Errorf("%s %s: got (%s, %s), want (%s, %s)", tt.method, tt.path, mod, act, tt.wantMod, tt.wantActon)
		}
	}
}

func TestDefaultRolePermissions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	pc := auth.NewPermCache()
	if err := auth.InitPermissions(context.Background(), db, pc); err != nil {
		t.Fatalf("InitPermissions: %v", err)
	}

	checks := []struct {
		role, module, action string
		want                 bool
	}{
		{"admin", auth.ModuleAdmin, auth.PermActionDelete, true},
		{"manager", auth.ModuleLedger, auth.PermActionApprove, true},
		{"manager", auth.ModuleAdmin, auth.PermActionView, false},
		{"clerk", auth.ModulePurchasing, auth.PermActionCreate, true},
		{"clerk", auth.ModulePurchasing, auth.PermActionApprove, false},
		{"clerk", auth.ModuleLedger, auth.PermActionView, true},
		{"driver", auth.ModuleFleet, auth.PermActionCreate, true},
		{"driver", auth.ModuleCustomers, auth.PermActionView, false},
		{"readonly", auth.ModuleInventory, auth.PermActionView, true},
		{"readonly", auth.ModuleInventory, auth.PermActionEdit, false},
	}
	for _, c := range checks {
		if got := pc.HasPermission(c.role, c.module, c.action); got != c.want {
			t.Errorf("HasPermission(%s, %s, %s) = %v, want %v", c.role, c.module, c.action, got, c.want)
		}
	}
}

func TestSetRolePermissions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	pc := auth.NewPermCache()
	auth.InitPermissions(ctx, db, pc)

	err := auth.SetRolePermissions(ctx, db, pc, "driver", []auth.PermissionEntry{
		{Module: auth.ModuleFleet, Action: auth.PermActionView},
	})
	if err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	perms := pc.GetRolePermissions("driver")
	if len(perms) != 1 || perms[0].Module != auth.ModuleFleet {
		t.Errorf("Unexpected driver permissions %+v", perms)
	}
	if pc.HasPermission("driver", auth.ModuleFleet, auth.PermActionCreate) {
		t.Error("Expected create permission to be removed")
	}
}
