package validatord

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fraudproof/core/events"
	"fraudproof/gateway/middleware"
	"fraudproof/native/bond"
	"fraudproof/native/epoch"
	"fraudproof/native/validation"
	"fraudproof/observability"
)

const (
	scopeChallenger = "challenger"
	scopeResolver   = "resolver"
	scopeAdmin      = "admin"

	maxBodyBytes = 4 << 20
)

// ServerConfig captures the dependencies required to construct the server.
type ServerConfig struct {
	Engine  *validation.Engine
	Vault   *bond.Vault
	Oracle  *epoch.Oracle
	Archive *Archive
	Stream  *events.Stream

	Auth        middleware.AuthConfig
	RateLimits  map[string]middleware.RateLimit
	CORS        middleware.CORSConfig
	LogRequests bool
	Logger      *slog.Logger
}

// Server exposes the dispute engine over HTTP.
type Server struct {
	engine  *validation.Engine
	vault   *bond.Vault
	oracle  *epoch.Oracle
	archive *Archive
	stream  *events.Stream
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
	logger  *slog.Logger

	router http.Handler
}

// NewServer wires the router. Engine and Vault are required.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("validatord: engine required")
	}
	if cfg.Vault == nil {
		return nil, errors.New("validatord: vault required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:  cfg.Engine,
		vault:   cfg.Vault,
		oracle:  cfg.Oracle,
		archive: cfg.Archive,
		stream:  cfg.Stream,
		auth:    middleware.NewAuthenticator(cfg.Auth, logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimits, logger),
		obs:     middleware.NewObservability(middleware.ObservabilityConfig{LogRequests: cfg.LogRequests}, observability.ModuleMetrics(), logger),
		logger:  logger,
	}
	srv.router = srv.buildRouter(cfg.CORS)
	return srv, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter(cors middleware.CORSConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cors))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(read chi.Router) {
			read.Use(s.limiter.Middleware("read"))
			read.With(s.obs.Middleware("disputes.list")).Get("/disputes", s.listDisputes)
			read.With(s.obs.Middleware("disputes.get")).Get("/disputes/{id}", s.getDispute)
			read.With(s.obs.Middleware("epochs.get")).Get("/epochs/{epoch}", s.getEpoch)
			read.With(s.obs.Middleware("outcomes.list")).Get("/outcomes", s.listOutcomes)
			read.With(s.obs.Middleware("vault.balance")).Get("/vault/{address}", s.getBalance)
		})
		api.Get("/events", s.streamEvents)
		if !s.auth.Enabled() {
			s.logger.Warn("validatord: auth disabled, serving read-only routes")
			return
		}
		api.Group(func(write chi.Router) {
			write.Use(s.limiter.Middleware("verify"))
			write.With(s.obs.Middleware("disputes.open"), s.auth.Middleware(scopeChallenger)).Post("/disputes", s.openDispute)
			write.With(s.obs.Middleware("disputes.verify"), s.auth.Middleware(scopeChallenger)).Post("/disputes/{id}/verify", s.verifyDispute)
			write.With(s.obs.Middleware("disputes.reject"), s.auth.Middleware(scopeResolver)).Post("/disputes/{id}/reject", s.rejectDispute)
			write.With(s.obs.Middleware("vault.deposit"), s.auth.Middleware(scopeAdmin)).Post("/vault/deposit", s.deposit)
		})
	})
	return r
}

func (s *Server) openDispute(w http.ResponseWriter, r *http.Request) {
	var body openRequestJSON
	if !s.decode(w, r, &body) {
		return
	}
	challenger, err := principal(r, "challenger", body.Challenger)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := body.toOpenRequest(challenger)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := s.engine.Open(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeJSON(record))
}

func (s *Server) listDisputes(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.engine.List(limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]disputeJSON, len(records))
	for i, record := range records {
		out[i] = toDisputeJSON(record)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getDispute(w http.ResponseWriter, r *http.Request) {
	id, err := parseDisputeID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := s.engine.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeJSON(record))
}

func (s *Server) verifyDispute(w http.ResponseWriter, r *http.Request) {
	id, err := parseDisputeID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body verifyRequestJSON
	if !s.decode(w, r, &body) {
		return
	}
	caller, err := principal(r, "caller", body.Caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Only the challenger who posted the bond may close its dispute.
	record, err := s.engine.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if record.Challenger != caller {
		s.writeError(w, r, fmt.Errorf("%w: %s did not open this dispute", validation.ErrUnauthorized, caller.Hex()))
		return
	}
	if err := s.engine.VerifyAndFinalize(r.Context(), caller, id, body.TrustedSegmentDigest, body.Evidence.toEvidence()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":      common.Hash(id).Hex(),
		"outcome": validation.PhaseConfirmed.String(),
	})
}

func (s *Server) rejectDispute(w http.ResponseWriter, r *http.Request) {
	id, err := parseDisputeID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resolver, err := principal(r, "resolver", "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.Reject(r.Context(), resolver, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":      common.Hash(id).Hex(),
		"outcome": validation.PhaseRejected.String(),
	})
}

// principal returns the account named by the token subject. A claimed
// address from the request body must name the same account.
func principal(r *http.Request, field, claimed string) (common.Address, error) {
	subject, _ := middleware.SubjectFromContext(r.Context())
	if !common.IsHexAddress(strings.TrimSpace(subject)) {
		return common.Address{}, fmt.Errorf("%w: token subject is not an address", validation.ErrUnauthorized)
	}
	addr := common.HexToAddress(strings.TrimSpace(subject))
	if strings.TrimSpace(claimed) == "" {
		return addr, nil
	}
	want, err := parseAddress(field, claimed)
	if err != nil {
		return common.Address{}, err
	}
	if want != addr {
		return common.Address{}, fmt.Errorf("%w: %s %s is not the token subject", validation.ErrUnauthorized, field, want.Hex())
	}
	return addr, nil
}

func (s *Server) getEpoch(w http.ResponseWriter, r *http.Request) {
	if s.oracle == nil {
		http.Error(w, "epoch oracle not configured", http.StatusServiceUnavailable)
		return
	}
	e, err := strconv.ParseUint(chi.URLParam(r, "epoch"), 10, 64)
	if err != nil {
		s.writeError(w, r, errors.Join(validation.ErrInvalidRequest, err))
		return
	}
	ts, err := s.oracle.TimestampOf(e)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	root, err := s.oracle.ConsensusRootAt(r.Context(), e)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, epochJSON{Epoch: e, Timestamp: ts, ConsensusRoot: root})
}

func (s *Server) listOutcomes(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "outcome archive disabled", http.StatusServiceUnavailable)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	outcome := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("outcome")))
	rows, err := s.archive.List(r.Context(), outcome, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.vault.Balance(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceJSON{Address: addr, Balance: balance.Dec()})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var body depositRequestJSON
	if !s.decode(w, r, &body) {
		return
	}
	addr, err := parseAddress("address", body.Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.vault.Deposit(addr, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.vault.Balance(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "validatord: vault deposit",
		slog.String("address", addr.Hex()),
		slog.String("amount", amount.Dec()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())))
	writeJSON(w, http.StatusOK, balanceJSON{Address: addr, Balance: balance.Dec()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, errors.Join(validation.ErrInvalidRequest, err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "validatord: request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.Any("error", err))
	}
	writeJSON(w, status, errorJSON{
		Error:     err.Error(),
		Category:  string(validation.Classify(err)),
		RequestID: middleware.RequestIDFromContext(r.Context()),
	})
}

func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.Join(validation.ErrInvalidRequest, errors.New("limit must be a non-negative integer"))
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
