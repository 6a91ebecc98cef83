package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rwalend/native/lending"
	"rwalend/observability"
	"rwalend/observability/logging"
	"rwalend/services/lendingd/auth"
	"rwalend/services/lendingd/journal"
)

// Pool is the lending engine surface served over HTTP.
type Pool interface {
	Deposit(caller common.Address, amount *uint256.Int) (*uint256.Int, error)
	Withdraw(caller common.Address, amount *uint256.Int) (*uint256.Int, error)
	DepositCollateral(caller common.Address, id *uint256.Int) error
	WithdrawCollateral(caller common.Address, id *uint256.Int) error
	Borrow(caller common.Address, amount *uint256.Int) (*uint256.Int, error)
	RepayOnBehalfOf(caller, account common.Address, amount *uint256.Int) (*uint256.Int, error)
	RefreshReserveState() error
	InitiateLiquidation(account common.Address) (*uint256.Int, error)
	CloseLiquidation(caller common.Address) error
	FinalizeLiquidation(caller, account common.Address) (*uint256.Int, error)
	SetPrimeRate(caller common.Address, rate *uint256.Int) error
	SetProtocolFeeRate(caller common.Address, rate *uint256.Int) error
	SetActionPauses(p lending.ActionPauses)
	ActionPauses() lending.ActionPauses

	NormalizedIncome() (*uint256.Int, error)
	NormalizedDebt() (*uint256.Int, error)
	Utilization() (*uint256.Int, error)
	Reserve() (*lending.ReserveState, error)
	Rates() (*lending.RateState, error)
	HealthFactor(account common.Address) (*uint256.Int, error)
	CollateralValue(account common.Address) (*uint256.Int, error)
	Position(account common.Address) (*lending.UserPosition, error)
	Liquidation(account common.Address) (lending.LiquidationPhase, *lending.LiquidationRecord, error)
	DebtOf(account common.Address) (*uint256.Int, error)
	ReceiptBalanceOf(account common.Address) (*uint256.Int, error)
}

// PriceFeed accepts operator supplied collateral prices.
type PriceFeed interface {
	SetPrice(id, value *uint256.Int, updatedAt int64)
}

// Minter registers collateral tokens bridged into custody.
type Minter interface {
	Mint(id *uint256.Int, owner common.Address) error
}

// EventLog serves journaled events.
type EventLog interface {
	List(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Pool      Pool
	Prices    PriceFeed
	Custody   Minter
	Events    EventLog
	Verifier  *auth.Verifier
	RateLimit RateLimit
	Logger    *slog.Logger
	Now       func() time.Time
}

// Server exposes the lending pool as a JSON API.
type Server struct {
	pool     Pool
	prices   PriceFeed
	custody  Minter
	events   EventLog
	verifier *auth.Verifier
	limiter  *rateLimiter
	logger   *slog.Logger
	now      func() time.Time

	router http.Handler
}

// New constructs the HTTP router.
func New(cfg Config) (*Server, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("server: pool required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("server: token verifier required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	srv := &Server{
		pool:     cfg.Pool,
		prices:   cfg.Prices,
		custody:  cfg.Custody,
		events:   cfg.Events,
		verifier: cfg.Verifier,
		limiter:  newRateLimiter(cfg.RateLimit),
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router wrapped in tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "lendingd")
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.verifier.Authenticate)
		api.Use(s.limiter.middleware)

		api.Get("/reserve", s.getReserve)
		api.Post("/reserve/refresh", s.refreshReserve)
		api.Get("/accounts/{account}", s.getAccount)
		api.Get("/events", s.listEvents)

		api.Post("/deposit", s.deposit)
		api.Post("/withdraw", s.withdraw)
		api.Post("/borrow", s.borrow)
		api.Post("/repay", s.repay)
		api.Post("/collateral/deposit", s.depositCollateral)
		api.Post("/collateral/withdraw", s.withdrawCollateral)

		api.Post("/liquidations/{account}/initiate", s.initiateLiquidation)
		api.Post("/liquidations/close", s.closeLiquidation)
		api.Post("/liquidations/{account}/finalize", s.finalizeLiquidation)

		api.With(auth.RequireRole(auth.RoleOracle, auth.RoleAdmin)).Post("/oracle/prices", s.setPrice)
		api.Group(func(admin chi.Router) {
			admin.Use(auth.RequireRole(auth.RoleAdmin))
			admin.Post("/admin/prime-rate", s.setPrimeRate)
			admin.Post("/admin/protocol-fee", s.setProtocolFee)
			admin.Get("/admin/pauses", s.getPauses)
			admin.Put("/admin/pauses", s.setPauses)
			admin.Post("/admin/custody/mint", s.mintCollateral)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			logging.MaskField("request_id", chimw.GetReqID(r.Context())),
			logging.MaskField("method", r.Method),
			logging.MaskField("path", r.URL.Path),
			logging.MaskField("remote_addr", r.RemoteAddr),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// observe records an operation outcome and logs failures that are not plain
// client errors.
func (s *Server) observe(op string, start time.Time, err error) {
	observability.Lending().Observe(op, kindOf(err), time.Since(start))
	if err == nil {
		return
	}
	if status, _ := statusFor(err); status == http.StatusInternalServerError {
		s.logger.Error("lending operation failed", "op", op, "error", err)
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code, RequestID: chimw.GetReqID(r.Context())})
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeError(w, r, status, code, message)
}

const maxBodyBytes = 1 << 16

func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}
