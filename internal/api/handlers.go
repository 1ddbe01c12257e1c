package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/satyaveer/txnledger/internal/domain"
	"github.com/satyaveer/txnledger/internal/kv"
	"github.com/satyaveer/txnledger/internal/service"
	"github.com/satyaveer/txnledger/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

var userIDPattern = regexp.MustCompile(`^u_[A-Za-z0-9]+$`)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type Handler struct {
	accounts *store.AccountStore
	ledger   *store.LedgerStore
	service  *service.TransactionService
	kv       kv.Store
	logger   *slog.Logger
}

func NewHandler(accounts *store.AccountStore, ledger *store.LedgerStore, svc *service.TransactionService, s kv.Store, logger *slog.Logger) *Handler {
	return &Handler{accounts: accounts, ledger: ledger, service: svc, kv: s, logger: logger}
}

// Router wires all routes, including the prometheus endpoint.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logMiddleware)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods("GET")

	t := r.PathPrefix("/transactions").Subrouter()
	t.HandleFunc("/transact", h.Transact).Methods("POST")
	t.HandleFunc("/initCrDr", h.InitCrDr).Methods("POST")
	t.HandleFunc("/users/{userId}", h.GetUser).Methods("GET")
	t.HandleFunc("/users/{userId}/transactions", h.ListUserTransactions).Methods("GET")
	return r
}

type transactRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	UserID         string `json:"userId"`
	Amount         int64  `json:"amount"`
	Type           string `json:"type"`
}

type transactResponse struct {
	TransactionID string `json:"transactionId"`
	NewBalance    int64  `json:"newBalance"`
	Message       string `json:"message"`
}

func (h *Handler) Transact(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transactions/transact"))
	defer timer.ObserveDuration()
	respond := func(code int, payload any) {
		h.respondJSON(w, code, payload, "POST", "/transactions/transact")
	}

	var req transactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(http.StatusBadRequest, errorBody("malformed JSON body"))
		return
	}

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		respond(http.StatusBadRequest, errorBody("idempotencyKey is required"))
		return
	}
	if !userIDPattern.MatchString(req.UserID) {
		respond(http.StatusBadRequest, errorBody("userId must match ^u_[A-Za-z0-9]+$"))
		return
	}
	txnType, err := domain.ParseTransactionType(req.Type)
	if err != nil {
		respond(http.StatusBadRequest, errorBody("type must be credit or debit"))
		return
	}

	result, err := h.service.Transact(r.Context(), service.TransactInput{
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		Amount:         req.Amount,
		Type:           txnType,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound),
			errors.Is(err, service.ErrInvalidAmount),
			errors.Is(err, service.ErrInsufficientFunds):
			respond(http.StatusBadRequest, errorBody(err.Error()))
		case errors.Is(err, service.ErrConflict):
			respond(http.StatusConflict, errorBody("concurrent update, retry with the same idempotency key"))
		default:
			respond(http.StatusInternalServerError, errorBody("transaction processing failed"))
		}
		return
	}

	respond(http.StatusOK, transactResponse{
		TransactionID: result.TransactionID,
		NewBalance:    result.NewBalance,
		Message:       result.Message,
	})
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !userIDPattern.MatchString(userID) {
		h.respondJSON(w, http.StatusBadRequest, errorBody("userId must match ^u_[A-Za-z0-9]+$"), "GET", "/transactions/users/{userId}")
		return
	}

	acc, err := h.accounts.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			h.respondJSON(w, http.StatusNotFound, errorBody("user not found"), "GET", "/transactions/users/{userId}")
			return
		}
		h.logger.Error("account fetch failed", "userId", userID, "error", err)
		h.respondJSON(w, http.StatusInternalServerError, errorBody("internal server error"), "GET", "/transactions/users/{userId}")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"data": acc}, "GET", "/transactions/users/{userId}")
}

type listResponse struct {
	Items     []domain.Transaction `json:"items"`
	NextToken string               `json:"nextToken,omitempty"`
}

func (h *Handler) ListUserTransactions(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transactions/users/{userId}/transactions"
	userID := mux.Vars(r)["userId"]
	if !userIDPattern.MatchString(userID) {
		h.respondJSON(w, http.StatusBadRequest, errorBody("userId must match ^u_[A-Za-z0-9]+$"), "GET", endpoint)
		return
	}

	limit := int64(defaultListLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		limit, err = strconv.ParseInt(raw, 10, 32)
		if err != nil || limit < 1 || limit > maxListLimit {
			h.respondJSON(w, http.StatusBadRequest, errorBody("limit must be 1-100"), "GET", endpoint)
			return
		}
	}

	items, next, err := h.ledger.ListByUser(r.Context(), userID, int32(limit), r.URL.Query().Get("nextToken"))
	if err != nil {
		if errors.Is(err, kv.ErrBadCursor) {
			h.respondJSON(w, http.StatusBadRequest, errorBody("invalid nextToken"), "GET", endpoint)
			return
		}
		h.logger.Error("transaction listing failed", "userId", userID, "error", err)
		h.respondJSON(w, http.StatusInternalServerError, errorBody("internal server error"), "GET", endpoint)
		return
	}

	h.respondJSON(w, http.StatusOK, listResponse{Items: items, NextToken: next}, "GET", endpoint)
}

type initCrDrRequest struct {
	Type          string `json:"type"`
	UserID        string `json:"userId"`
	Amount        int64  `json:"amount"`
	AccountNumber string `json:"accountNumber,omitempty"`
	IFSC          string `json:"ifsc,omitempty"`
}

// InitCrDr validates and echoes an external credit/debit initiation. The
// external transfer leg itself settles out-of-band; no store effects here.
func (h *Handler) InitCrDr(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transactions/initCrDr"
	var req initCrDrRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondJSON(w, http.StatusBadRequest, errorBody("malformed JSON body"), "POST", endpoint)
		return
	}

	if req.Type != "CR" && req.Type != "DR" {
		h.respondJSON(w, http.StatusBadRequest, errorBody("type must be CR or DR"), "POST", endpoint)
		return
	}
	if !userIDPattern.MatchString(req.UserID) {
		h.respondJSON(w, http.StatusBadRequest, errorBody("userId must match ^u_[A-Za-z0-9]+$"), "POST", endpoint)
		return
	}
	if req.Amount <= 0 {
		h.respondJSON(w, http.StatusBadRequest, errorBody("amount must be greater than 0"), "POST", endpoint)
		return
	}
	if req.Type == "DR" && (strings.TrimSpace(req.AccountNumber) == "" || strings.TrimSpace(req.IFSC) == "") {
		h.respondJSON(w, http.StatusBadRequest, errorBody("accountNumber and ifsc are required for DR"), "POST", endpoint)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"action": "initCrDr",
		"data":   req,
	}, "POST", endpoint)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.kv.Ping(r.Context()); err != nil {
		h.logger.Error("health probe failed", "error", err)
		h.respondJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "store not reachable"}, "GET", "/health")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func (h *Handler) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
