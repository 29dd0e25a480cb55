package auth

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Permission modules correspond to major feature areas.
const (
	ModuleCustomers  = "customers"
	ModuleSuppliers  = "suppliers"
	ModulePurchasing = "purchasing"
	ModuleLedger     = "ledger"
	ModuleCatalog    = "catalog"
	ModuleInventory  = "inventory"
	ModulePricing    = "pricing"
	ModuleFleet      = "fleet"
	ModuleShipments  = "shipments"
	ModuleDashboard  = "dashboard"
	ModuleReports    = "reports"
	ModuleAdmin      = "admin"
)

// Permission actions. Approve covers posting, voiding and reversing
// financial documents.
const (
	PermActionView    = "view"
	PermActionCreate  = "create"
	PermActionEdit    = "edit"
	PermActionDelete  = "delete"
	PermActionApprove = "approve"
)

// Roles.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleClerk    = "clerk"
	RoleDriver   = "driver"
	RoleReadonly = "readonly"
)

// AllModules lists every module.
var AllModules = []string{
	ModuleCustomers, ModuleSuppliers, ModulePurchasing, ModuleLedger,
	ModuleCatalog, ModuleInventory, ModulePricing, ModuleFleet,
	ModuleShipments, ModuleDashboard, ModuleReports, ModuleAdmin,
}

// AllActions lists every action.
var AllActions = []string{PermActionView, PermActionCreate, PermActionEdit, PermActionDelete, PermActionApprove}

// PermissionEntry represents a single permission assignment.
type PermissionEntry struct {
	ID     int    `json:"id,omitempty"`
	Role   string `json:"role"`
	Module string `json:"module"`
	Action string `json:"action"`
}

// PermCache caches role→permissions for fast middleware lookups.
type PermCache struct {
	sync.RWMutex
	data    map[string]map[string]map[string]bool // role → module → action → true
	updated time.Time
}

// NewPermCache creates a new empty permission cache.
func NewPermCache() *PermCache {
	return &PermCache{
		data: make(map[string]map[string]map[string]bool),
	}
}

// Refresh loads all role_permissions into the in-memory cache.
func (pc *PermCache) Refresh(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "SELECT role, module, action FROM role_permissions")
	if err != nil {
		return err
	}
	defer rows.Close()

	data := make(map[string]map[string]map[string]bool)
	for rows.Next() {
		var role, module, action string
		if err := rows.Scan(&role, &module, &action); err != nil {
			return err
		}
		if data[role] == nil {
			data[role] = make(map[string]map[string]bool)
		}
		if data[role][module] == nil {
			data[role][module] = make(map[string]bool)
		}
		data[role][module][action] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	pc.Lock()
	pc.data = data
	pc.updated = time.Now()
	pc.Unlock()
	return nil
}

// HasPermission checks whether a role has permission for module+action.
func (pc *PermCache) HasPermission(role, module, action string) bool {
	pc.RLock()
	defer pc.RUnlock()
	return pc.data[role][module][action]
}

// GetRolePermissions returns all permissions for a role, sorted by module
// then action.
func (pc *PermCache) GetRolePermissions(role string) []PermissionEntry {
	pc.RLock()
	defer pc.RUnlock()
	perms := []PermissionEntry{}
	for mod, actions := range pc.data[role] {
		for act := range actions {
			perms = append(perms, PermissionEntry{Role: role, Module: mod, Action: act})
		}
	}
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Module != perms[j].Module {
			return perms[i].Module < perms[j].Module
		}
		return perms[i].Action < perms[j].Action
	})
	return perms
}

// InitPermissions seeds default permissions when the table is empty and
// loads the cache.
func InitPermissions(ctx context.Context, db *sql.DB, pc *PermCache) error {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM role_permissions").Scan(&count); err != nil {
		return fmt.Errorf("count permissions: %w", err)
	}
	if count == 0 {
		if err := SeedDefaultPermissions(ctx, db); err != nil {
			return fmt.Errorf("seed permissions: %w", err)
		}
	}
	return pc.Refresh(ctx, db)
}

// DefaultPermissions returns the built-in permission set for every role.
func DefaultPermissions() []PermissionEntry {
	var perms []PermissionEntry
	grant := func(role string, modules []string, actions ...string) {
		for _, mod := range modules {
			for _, act := range actions {
				perms = append(perms, PermissionEntry{Role: role, Module: mod, Action: act})
			}
		}
	}

	// Admin: everything
	grant(RoleAdmin, AllModules, AllActions...)

	// Manager: everything except the admin module
	var business []string
	for _, mod := range AllModules {
		if mod != ModuleAdmin {
			business = append(business, mod)
		}
	}
	grant(RoleManager, business, AllActions...)

	// Clerk: day-to-day data entry, read-only books
	grant(RoleClerk, []string{ModuleCustomers, ModuleSuppliers, ModulePurchasing, ModuleCatalog, ModuleInventory, ModuleShipments},
		PermActionView, PermActionCreate, PermActionEdit)
	grant(RoleClerk, []string{ModuleLedger, ModulePricing, ModuleFleet, ModuleDashboard, ModuleReports}, PermActionView)

	// Driver: fleet work and shipment status
	grant(RoleDriver, []string{ModuleFleet, ModuleShipments}, PermActionView, PermActionCreate, PermActionEdit)
	grant(RoleDriver, []string{ModuleDashboard}, PermActionView)

	// Readonly: view only on all business modules
	grant(RoleReadonly, business, PermActionView)

	return perms
}

// SeedDefaultPermissions populates the default role permissions.
func SeedDefaultPermissions(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO role_permissions (role, module, action) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range DefaultPermissions() {
		if _, err := stmt.ExecContext(ctx, p.Role, p.Module, p.Action); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetRolePermissions replaces all permissions for a role with the given set.
func SetRolePermissions(ctx context.Context, db *sql.DB, pc *PermCache, role string, perms []PermissionEntry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM role_permissions WHERE role = ?", role); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO role_permissions (role, module, action) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range perms {
		if _, err := stmt.ExecContext(ctx, role, p.Module, p.Action); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return pc.Refresh(ctx, db)
}

// approveVerbs are trailing path segments that post, void or reverse a
// financial document.
var approveVerbs = map[string]bool{
	"post": true, "void": true, "reverse": true, "bulk-adjust": true,
}

// MapAPIPathToPermission maps an API path + method to (module, action).
// Returns empty strings if no permission mapping exists (passthrough).
func MapAPIPathToPermission(apiPath, method string) (module, action string) {
	parts := strings.Split(strings.Trim(apiPath, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", ""
	}

	switch method {
	case "GET", "HEAD":
		action = PermActionView
	case "POST":
		action = PermActionCreate
	case "PUT", "PATCH":
		action = PermActionEdit
	case "DELETE":
		action = PermActionDelete
	}
	if method == "POST" && approveVerbs[parts[len(parts)-1]] {
		action = PermActionApprove
	}

	seg := parts[0]
	if seg == "logistics" && len(parts) > 1 {
		seg = parts[1]
	}

	switch seg {
	case "customers", "invoices", "receivables":
		module = ModuleCustomers
	case "suppliers":
		module = ModuleSuppliers
	case "purchases", "payables":
		module = ModulePurchasing
	case "accounts", "journal":
		module = ModuleLedger
	case "categories":
		module = ModuleCatalog
	case "products":
		module = ModuleCatalog
		if len(parts) >= 3 && parts[2] == "prices" {
			module = ModulePricing
		}
	case "prices", "pricing":
		module = ModulePricing
	case "stock":
		module = ModuleInventory
	case "vehicles", "drivers", "trips", "maintenance", "fuel":
		module = ModuleFleet
	case "shipments", "wheat-shipments":
		module = ModuleShipments
	case "dashboard", "calendar", "search":
		module = ModuleDashboard
	case "reports", "exports", "audit":
		module = ModuleReports
	case "users", "admin":
		module = ModuleAdmin
	default:
		// notifications and anything unmapped
		return "", ""
	}

	// Reads of the dashboard layout are per-user; writes to it too.
	if module == ModuleDashboard && len(parts) >= 2 && parts[1] == "layout" {
		action = PermActionView
	}
	return module, action
}
