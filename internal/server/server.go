// Package server wires every handler package into one chi router and runs
// the HTTP server.
package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"millops/internal/auth"
	"millops/internal/config"
	"millops/internal/events"
	"millops/internal/handlers/accounting"
	"millops/internal/handlers/admin"
	"millops/internal/handlers/common"
	"millops/internal/handlers/inventory"
	"millops/internal/handlers/logistics"
	"millops/internal/handlers/procurement"
	"millops/internal/handlers/sales"
	"millops/internal/logging"
	"millops/internal/response"
	"millops/internal/scraper"
	"millops/internal/websocket"
)

// App holds shared dependencies for the application.
type App struct {
	DB        *sql.DB
	Hub       *websocket.Hub
	Events    events.Publisher
	PermCache *auth.PermCache
	Scraper   *scraper.Scraper
	Config    *config.Config
	Logger    *zap.Logger
	Limiter   *RateLimiter

	// DefaultTaxRate applies to new products created without one.
	DefaultTaxRate decimal.Decimal
}

// Router builds the HTTP handler for the whole API.
func (a *App) Router() http.Handler {
	if a.Logger == nil {
		a.Logger = zap.NewNop()
	}
	if a.Hub == nil {
		a.Hub = websocket.NewHub(a.Logger.Named("ws"))
	}
	if a.PermCache == nil {
		a.PermCache = auth.NewPermCache()
	}
	base := common.Base{DB: a.DB, Hub: a.Hub, Events: a.Events}
	cmn := &common.Handler{Base: base}
	adm := &admin.Handler{Base: base, PermCache: a.PermCache,
		BackupDir: a.Config.BackupDir, BackupRetention: a.Config.BackupRetention}
	acct := &accounting.Handler{Base: base}
	inv := &inventory.Handler{Base: base, DefaultTaxRate: a.DefaultTaxRate}
	lgs := &logistics.Handler{Base: base, Scraper: a.Scraper, Sources: a.Config.Settings.ScrapeSources}
	proc := &procurement.Handler{Base: base}
	sls := &sales.Handler{Base: base}

	limiter := a.Limiter
	if limiter == nil {
		limiter = NewRateLimiter()
	}

	r := chi.NewRouter()
	if a.Config.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(logging.Middleware(a.Logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.Config.CORSOrigins))

	r.Get("/healthz", a.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, a.Config.RateLimit))

		r.Post("/auth/login", adm.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(a.DB))
			r.Post("/auth/logout", adm.HandleLogout)
			r.Get("/auth/me", adm.HandleMe)
			r.Post("/auth/password", adm.HandleChangePassword)
			r.Get("/ws", a.Hub.ServeHTTP)

			r.Group(func(r chi.Router) {
				r.Use(RequireRBAC(a.PermCache))
				r.Use(GzipMiddleware)

				mountSales(r, sls)
				mountProcurement(r, proc)
				mountAccounting(r, acct)
				mountInventory(r, inv)
				r.Route("/logistics", func(r chi.Router) { mountLogistics(r, lgs) })
				mountCommon(r, cmn)
				mountAdmin(r, adm)
			})
		})
	})
	return r
}

func mountSales(r chi.Router, h *sales.Handler) {
	r.Get("/customers", h.ListCustomers)
	r.Post("/customers", h.CreateCustomer)
	r.Get("/customers/{id}", h.GetCustomer)
	r.Put("/customers/{id}", h.UpdateCustomer)
	r.Delete("/customers/{id}", h.DeleteCustomer)
	r.Get("/customers/{id}/statement", h.CustomerStatement)

	r.Get("/invoices", h.ListInvoices)
	r.Post("/invoices", h.CreateInvoice)
	r.Get("/invoices/{id}", h.GetInvoice)
	r.Put("/invoices/{id}", h.UpdateInvoice)
	r.Delete("/invoices/{id}", h.DeleteInvoice)
	r.Post("/invoices/{id}/post", h.PostInvoice)
	r.Post("/invoices/{id}/receipts", h.RecordReceipt)
	r.Post("/invoices/{id}/void", h.VoidInvoice)
	r.Get("/receivables/aging", h.ReceivablesAging)
}

func mountProcurement(r chi.Router, h *procurement.Handler) {
	r.Get("/suppliers", h.ListSuppliers)
	r.Post("/suppliers", h.CreateSupplier)
	r.Get("/suppliers/{id}", h.GetSupplier)
	r.Put("/suppliers/{id}", h.UpdateSupplier)
	r.Delete("/suppliers/{id}", h.DeleteSupplier)
	r.Get("/suppliers/{id}/statement", h.SupplierStatement)

	r.Get("/purchases", h.ListPurchases)
	r.Post("/purchases", h.CreatePurchase)
	r.Get("/purchases/{id}", h.GetPurchase)
	r.Put("/purchases/{id}", h.UpdatePurchase)
	r.Delete("/purchases/{id}", h.DeletePurchase)
	r.Post("/purchases/{id}/post", h.PostPurchase)
	r.Post("/purchases/{id}/payments", h.RecordPayment)
	r.Post("/purchases/{id}/void", h.VoidPurchase)
	r.Get("/payables/aging", h.PayablesAging)
}

func mountAccounting(r chi.Router, h *accounting.Handler) {
	r.Get("/accounts", h.ListAccounts)
	r.Post("/accounts", h.CreateAccount)
	r.Put("/accounts/{code}", h.UpdateAccount)
	r.Get("/accounts/{code}/ledger", h.AccountLedger)
	r.Get("/accounts/{code}/balance", h.AccountBalance)

	r.Get("/journal", h.ListEntries)
	r.Post("/journal", h.PostEntry)
	r.Get("/journal/{id}", h.GetEntry)
	r.Post("/journal/{id}/reverse", h.ReverseEntry)

	r.Get("/reports/trial-balance", h.TrialBalance)
}

func mountInventory(r chi.Router, h *inventory.Handler) {
	r.Get("/categories", h.ListCategories)
	r.Post("/categories", h.CreateCategory)
	r.Delete("/categories/{id}", h.DeleteCategory)

	r.Get("/products", h.ListProducts)
	r.Post("/products", h.CreateProduct)
	r.Post("/products/import", h.ImportProducts)
	r.Get("/products/{id}", h.GetProduct)
	r.Put("/products/{id}", h.UpdateProduct)
	r.Delete("/products/{id}", h.DeleteProduct)
	r.Get("/products/{id}/prices", h.ListPriceRules)
	r.Post("/products/{id}/prices", h.CreatePriceRule)
	r.Get("/products/{id}/price", h.ResolvePrice)
	r.Get("/products/{id}/stock-history", h.StockHistory)

	r.Put("/pricing/rules/{ruleID}", h.UpdatePriceRule)
	r.Delete("/pricing/rules/{ruleID}", h.DeletePriceRule)
	r.Post("/pricing/bulk-adjust", h.BulkAdjustPrices)

	r.Get("/stock", h.ListStock)
	r.Get("/stock/low", h.LowStock)
	r.Post("/stock/adjust", h.AdjustStock)
	r.Post("/stock/transfer", h.TransferStock)
}

func mountLogistics(r chi.Router, h *logistics.Handler) {
	r.Get("/vehicles", h.ListVehicles)
	r.Post("/vehicles", h.CreateVehicle)
	r.Get("/vehicles/{id}", h.GetVehicle)
	r.Put("/vehicles/{id}", h.UpdateVehicle)
	r.Delete("/vehicles/{id}", h.DeleteVehicle)
	r.Get("/vehicles/{id}/fuel", h.ListFuel)
	r.Get("/vehicles/{id}/maintenance", h.ListMaintenance)
	r.Get("/vehicles/{id}/costs", h.VehicleCosts)

	r.Get("/drivers", h.ListDrivers)
	r.Post("/drivers", h.CreateDriver)
	r.Get("/drivers/expiring", h.ExpiringLicences)
	r.Get("/drivers/{id}", h.GetDriver)
	r.Put("/drivers/{id}", h.UpdateDriver)

	r.Post("/fuel", h.LogFuel)
	r.Post("/maintenance", h.OpenMaintenance)
	r.Post("/maintenance/{id}/close", h.CloseMaintenance)

	r.Get("/trips", h.ListTrips)
	r.Post("/trips", h.CreateTrip)
	r.Get("/trips/{id}", h.GetTrip)
	r.Post("/trips/{id}/start", h.StartTrip)
	r.Post("/trips/{id}/complete", h.CompleteTrip)
	r.Post("/trips/{id}/cancel", h.CancelTrip)

	r.Get("/shipments", h.ListShipments)
	r.Post("/shipments", h.CreateShipment)
	r.Get("/shipments/{id}", h.GetShipment)
	r.Post("/shipments/{id}/assign", h.AssignShipment)
	r.Post("/shipments/{id}/dispatch", h.DispatchShipment)
	r.Post("/shipments/{id}/deliver", h.DeliverShipment)
	r.Post("/shipments/{id}/cancel", h.CancelShipment)

	r.Get("/wheat-shipments", h.ListWheatShipments)
	r.Get("/wheat-shipments/runs", h.ListScrapeRuns)
	r.Post("/wheat-shipments/scrape", h.Scrape)
}

func mountCommon(r chi.Router, h *common.Handler) {
	r.Get("/search", h.GlobalSearch)
	r.Get("/calendar", h.Calendar)
	r.Get("/exports/{kind}", h.Export)
	r.Get("/audit", h.ListAudit)

	r.Get("/notifications", h.ListNotifications)
	r.Post("/notifications/read-all", h.MarkAllNotificationsRead)
	r.Post("/notifications/{id}/read", h.MarkNotificationRead)

	r.Get("/dashboard/widgets", h.WidgetTypes)
	r.Get("/dashboard/widgets/{type}", h.WidgetData)
	r.Get("/dashboard/layout", h.GetLayout)
	r.Put("/dashboard/layout", h.UpdateLayout)
	r.Get("/dashboard/summary", h.Summary)
}

func mountAdmin(r chi.Router, h *admin.Handler) {
	r.Get("/users", h.ListUsers)
	r.Post("/users", h.CreateUser)
	r.Put("/users/{id}", h.UpdateUser)

	r.Get("/admin/modules", h.ListModules)
	r.Get("/admin/permissions", h.ListPermissions)
	r.Put("/admin/permissions/{role}", h.SetPermissions)

	r.Get("/admin/backups", h.ListBackups)
	r.Post("/admin/backups", h.CreateBackup)
	r.Get("/admin/backups/{filename}", h.DownloadBackup)
	r.Delete("/admin/backups/{filename}", h.DeleteBackup)
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.DB.PingContext(ctx); err != nil {
		logging.FromContext(r.Context()).Error("health check", zap.Error(err))
		response.Err(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	response.JSON(w, map[string]any{
		"status":   "ok",
		"company":  a.Config.Settings.Company,
		"currency": a.Config.Settings.Currency,
		"clients":  a.Hub.Clients(),
	})
}

// Serve runs the HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}
