package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elys-network/savers/internal/config"
	"github.com/elys-network/savers/internal/logger"
	"github.com/elys-network/savers/internal/state"
	"github.com/elys-network/savers/internal/types"
	"github.com/elys-network/savers/internal/utils"
	"github.com/elys-network/savers/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

const maxRequestBytes = 1 << 16

// Funder hands out the base asset and approves the vault for it. The
// simulated network implements it.
type Funder interface {
	Fund(ctx context.Context, account common.Address, amount sdkmath.Int) error
}

// Config holds the dependencies of the web server.
type Config struct {
	Port  int
	Vault vault.VaultManager
	// Faucet enables POST /api/faucet when set.
	Faucet Funder
	// AccountWrites enables POST /api/deposit and /api/withdraw. Callers are
	// not authenticated, so any client can act for any account. Only enable it
	// against a simulated network.
	AccountWrites bool
	// MetricsHandler serves /metrics. Defaults to the default Prometheus
	// registry.
	MetricsHandler http.Handler
}

// WebServer serves the vault HTTP API.
type WebServer struct {
	router  *mux.Router
	port    string
	vault   vault.VaultManager
	faucet  Funder
	writes  bool
	metrics http.Handler
	started time.Time
	server  *http.Server
}

// NewWebServer creates a new web server instance
func NewWebServer(cfg Config) (*WebServer, error) {
	if cfg.Vault == nil {
		return nil, errors.New("vault manager cannot be nil")
	}
	port := "8080"
	if cfg.Port > 0 {
		port = strconv.Itoa(cfg.Port)
	}
	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	server := &WebServer{
		router:  mux.NewRouter(),
		port:    port,
		vault:   cfg.Vault,
		faucet:  cfg.Faucet,
		writes:  cfg.AccountWrites,
		metrics: metricsHandler,
		started: time.Now(),
	}

	server.setupRoutes()
	server.server = &http.Server{
		Addr:         ":" + port,
		Handler:      server.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server, nil
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", ws.metrics).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/vault/preview/deposit", ws.handlePreviewDeposit).Methods("GET")
	api.HandleFunc("/vault/preview/withdraw", ws.handlePreviewWithdraw).Methods("GET")
	api.HandleFunc("/accounts/{address}", ws.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/events", ws.handleGetAccountEvents).Methods("GET")
	if ws.writes {
		api.HandleFunc("/deposit", ws.handleDeposit).Methods("POST", "OPTIONS")
		api.HandleFunc("/withdraw", ws.handleWithdraw).Methods("POST", "OPTIONS")
	}
	if ws.faucet != nil {
		api.HandleFunc("/faucet", ws.handleFaucet).Methods("POST", "OPTIONS")
	}
	api.HandleFunc("/operations", ws.handleGetOperations).Methods("GET")
	api.HandleFunc("/snapshots", ws.handleGetSnapshots).Methods("GET")
	api.HandleFunc("/stats", ws.handleGetStats).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler exposes the router, mainly for tests.
func (ws *WebServer) Handler() http.Handler { return ws.router }

// Start starts the web server. It returns http.ErrServerClosed after Shutdown.
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")
	return ws.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	return ws.server.Shutdown(ctx)
}

// handleHealth reports process, vault and database health.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false
	vaultStatus := map[string]interface{}{"healthy": true}
	summary, err := ws.vault.Summary(r.Context())
	if err != nil {
		hasErrors = true
		vaultStatus["healthy"] = false
		vaultStatus["error"] = err.Error()
	} else {
		vaultStatus["total_supply"] = summary.TotalSupply
		vaultStatus["exchange_rate"] = summary.ExchangeRate
	}

	// The database is optional; only a configured but unreachable one degrades health.
	dbStatus := "disabled"
	if state.DB != nil {
		dbStatus = "healthy"
		if err := state.TestDBConnection(); err != nil {
			dbStatus = "unhealthy"
			hasErrors = true
		}
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if hasErrors {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.started).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "savers-vault",
			"version": "1.0.0",
		},
		"vault":    vaultStatus,
		"database": dbStatus,
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetVaultSummary returns supply, pooled balance and exchange rate
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := ws.vault.Summary(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get vault summary")
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, summary)
}

func (ws *WebServer) handlePreviewDeposit(w http.ResponseWriter, r *http.Request) {
	amount, err := utils.ParseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid amount: "+err.Error())
		return
	}
	shares, err := ws.vault.PreviewDeposit(r.Context(), amount)
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"amount": amount, "shares": shares})
}

func (ws *WebServer) handlePreviewWithdraw(w http.ResponseWriter, r *http.Request) {
	shares, err := utils.ParseAmount(r.URL.Query().Get("shares"))
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid shares: "+err.Error())
		return
	}
	amount, err := ws.vault.PreviewWithdraw(r.Context(), shares)
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"shares": shares, "amount": amount})
}

// handleGetAccount returns one holder's shares and underlying claim
func (ws *WebServer) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := utils.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid account address")
		return
	}
	position, err := ws.vault.BalanceOfUnderlying(r.Context(), account)
	if err != nil {
		webLogger.Error().Err(err).Str("account", account.Hex()).Msg("Failed to get account position")
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, position)
}

func (ws *WebServer) handleGetAccountEvents(w http.ResponseWriter, r *http.Request) {
	account, err := utils.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid account address")
		return
	}
	limit := parseLimit(r)
	events, err := state.GetLedgerEvents(r.Context(), account, limit)
	if err != nil {
		ws.writeStateError(w, err, "Failed to retrieve ledger events")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  limit,
	})
}

// operationRequest is the body of deposit, withdraw and faucet requests.
// Amounts are integer strings in base units.
type operationRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
	Shares  string `json:"shares"`
}

func (ws *WebServer) decodeOperation(w http.ResponseWriter, r *http.Request, field string) (common.Address, sdkmath.Int, bool) {
	var req operationRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return common.Address{}, sdkmath.Int{}, false
	}
	account, err := utils.ParseAddress(req.Account)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid account address")
		return common.Address{}, sdkmath.Int{}, false
	}
	raw := req.Amount
	if field == "shares" {
		raw = req.Shares
	}
	value, err := utils.ParseAmount(raw)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid "+field+": "+err.Error())
		return common.Address{}, sdkmath.Int{}, false
	}
	return account, value, true
}

func (ws *WebServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	account, amount, ok := ws.decodeOperation(w, r, "amount")
	if !ok {
		return
	}
	shares, err := ws.vault.Deposit(r.Context(), account, amount)
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"account": account.Hex(),
		"amount":  amount,
		"shares":  shares,
	})
}

func (ws *WebServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	account, shares, ok := ws.decodeOperation(w, r, "shares")
	if !ok {
		return
	}
	amount, err := ws.vault.Withdraw(r.Context(), account, shares)
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"account": account.Hex(),
		"shares":  shares,
		"amount":  amount,
	})
}

func (ws *WebServer) handleFaucet(w http.ResponseWriter, r *http.Request) {
	account, amount, ok := ws.decodeOperation(w, r, "amount")
	if !ok {
		return
	}
	if !amount.IsPositive() {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid amount: must be greater than zero")
		return
	}
	if err := ws.faucet.Fund(r.Context(), account, amount); err != nil {
		webLogger.Error().Err(err).Str("account", account.Hex()).Msg("Faucet request failed")
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"account": account.Hex(),
		"amount":  amount,
	})
}

// handleGetOperations returns recent receipts, optionally for one account
func (ws *WebServer) handleGetOperations(w http.ResponseWriter, r *http.Request) {
	account := ""
	if raw := r.URL.Query().Get("account"); raw != "" {
		addr, err := utils.ParseAddress(raw)
		if err != nil {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid account address")
			return
		}
		account = addr.Hex()
	}
	limit := parseLimit(r)
	receipts, err := state.GetRecentOperations(r.Context(), account, limit)
	if err != nil {
		ws.writeStateError(w, err, "Failed to retrieve operations")
		return
	}
	if receipts == nil {
		receipts = []types.OperationReceipt{}
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"operations": receipts,
		"count":      len(receipts),
		"limit":      limit,
	})
}

// handleGetSnapshots returns paginated keeper snapshots
func (ws *WebServer) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	snapshots, err := state.GetRecentSnapshots(r.Context(), limit)
	if err != nil {
		ws.writeStateError(w, err, "Failed to retrieve snapshots")
		return
	}
	if snapshots == nil {
		snapshots = []types.VaultSnapshot{}
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	})
}

func (ws *WebServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := state.GetVaultStats(r.Context())
	if err != nil {
		ws.writeStateError(w, err, "Failed to retrieve vault stats")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, stats)
}

func parseLimit(r *http.Request) int {
	limit := config.DefaultHistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= config.MaxHistoryLimit {
			limit = parsedLimit
		}
	}
	return limit
}

// statusForReason maps a vault failure to an HTTP status.
func statusForReason(reason types.FailureReason) int {
	switch reason {
	case types.FailureInvalidAmount, types.FailureZeroResult:
		return http.StatusBadRequest
	case types.FailureUnauthorized:
		return http.StatusForbidden
	case types.FailureReentrant:
		return http.StatusConflict
	case types.FailureInsufficientBalance, types.FailureAllowanceOrBalance, types.FailureOverflow:
		return http.StatusUnprocessableEntity
	case types.FailurePoolDeposit, types.FailurePoolWithdraw, types.FailurePoolDepleted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (ws *WebServer) writeVaultError(w http.ResponseWriter, err error) {
	reason := vault.FailureReason(err)
	ws.writeJSONResponse(w, statusForReason(reason), map[string]interface{}{
		"error":     true,
		"reason":    reason,
		"message":   err.Error(),
		"timestamp": time.Now().UTC(),
	})
}

func (ws *WebServer) writeStateError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, state.ErrDBNotInitialized) {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "History is unavailable: database not configured")
		return
	}
	webLogger.Error().Err(err).Msg(message)
	ws.writeErrorResponse(w, http.StatusInternalServerError, message)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
