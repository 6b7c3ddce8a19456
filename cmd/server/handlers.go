package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/moneyflow/transfer-engine/internal/config"
	"github.com/moneyflow/transfer-engine/internal/engine"
	"github.com/moneyflow/transfer-engine/internal/interfaces"
	"github.com/moneyflow/transfer-engine/internal/logging"
	"github.com/moneyflow/transfer-engine/internal/models"
	"github.com/moneyflow/transfer-engine/internal/models/events"
)

type server struct {
	engine *engine.Engine
	store  interfaces.LedgerStore
	logger *logging.Logger
}

func newServer(cfg config.Config, eng *engine.Engine, store interfaces.LedgerStore, registry *prometheus.Registry, logger *logging.Logger) *http.Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &server{
		engine: eng,
		store:  store,
		logger: logger.Named("http"),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	router.HandleFunc("/accounts", s.handleCreateAccount).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}/balance", s.handleBalance).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/transactions", s.handleListTransactions).Methods(http.MethodGet)

	router.HandleFunc("/transfers", s.handleTransfer).Methods(http.MethodPost)
	router.HandleFunc("/transfers/{id}", s.handleGetTransaction).Methods(http.MethodGet)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get("X-Actor-ID")
	if actorID == "" {
		writeError(w, http.StatusUnauthorized, "X-Actor-ID header is required")
		return
	}

	var req struct {
		SenderID   string          `json:"sender_id"`
		ReceiverID string          `json:"receiver_id"`
		Amount     decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.engine.Transfer(r.Context(), engine.TransferRequest{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		ActorID:    actorID,
		Amount:     req.Amount,
		Provenance: provenanceFrom(r),
	})
	if err != nil {
		s.writeTransferError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// writeTransferError maps each rejection kind to its own HTTP status so
// clients can distinguish them without parsing messages.
func (s *server) writeTransferError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrSelfTransfer),
		errors.Is(err, engine.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("transfer failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	tx, err := s.store.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrTransactionNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		s.logger.Error("transaction lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, viewOf(tx))
}

// transactionView is the wire shape of a transaction in API responses.
type transactionView struct {
	ID         string                   `json:"id"`
	SenderID   string                   `json:"sender_id"`
	ReceiverID string                   `json:"receiver_id"`
	Amount     decimal.Decimal          `json:"amount"`
	Status     models.TransactionStatus `json:"status"`
	Flagged    bool                     `json:"flagged"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

func viewOf(tx models.Transaction) transactionView {
	return transactionView{
		ID:         tx.ID,
		SenderID:   tx.SenderID,
		ReceiverID: tx.ReceiverID,
		Amount:     tx.Amount,
		Status:     tx.Status,
		Flagged:    tx.Flagged,
		CreatedAt:  tx.CreatedAt,
		UpdatedAt:  tx.UpdatedAt,
	}
}

func (s *server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string          `json:"name"`
		Balance decimal.Decimal `json:"balance"`
		Role    string          `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Balance.IsNegative() {
		writeError(w, http.StatusBadRequest, "balance must not be negative")
		return
	}

	role := models.RoleOrdinary
	if req.Role == string(models.RoleAdmin) {
		role = models.RoleAdmin
	}

	account := models.Account{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Balance:   req.Balance,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		s.logger.Error("account creation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      account.ID,
		"name":    account.Name,
		"balance": account.Balance,
		"role":    account.Role,
	})
}

func (s *server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.logger.Error("account lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": account.ID,
		"balance":    account.Balance,
	})
}

func (s *server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	filter, err := filterFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.engine.ListTransactions(r.Context(), id, filter, pageFrom(r))
	if err != nil {
		if errors.Is(err, interfaces.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.logger.Error("transaction listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]transactionView, 0, len(page.Items))
	for _, tx := range page.Items {
		items = append(items, viewOf(tx))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": items,
		"total":        page.Total,
		"page":         page.Page,
		"size":         page.Size,
	})
}

func filterFrom(r *http.Request) (interfaces.TransactionFilter, error) {
	var filter interfaces.TransactionFilter
	query := r.URL.Query()

	if raw := query.Get("status"); raw != "" {
		status := models.TransactionStatus(raw)
		switch status {
		case models.StatusSubmitted, models.StatusFlagged, models.StatusCompleted, models.StatusFailed:
			filter.Status = &status
		default:
			return filter, errors.New("unknown status " + raw)
		}
	}
	if raw := query.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("from must be RFC3339")
		}
		filter.From = &from
	}
	if raw := query.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("to must be RFC3339")
		}
		filter.To = &to
	}

	return filter, nil
}

func pageFrom(r *http.Request) interfaces.PageRequest {
	page := interfaces.PageRequest{Number: 1, Size: 20}
	query := r.URL.Query()

	if n, err := strconv.Atoi(query.Get("page")); err == nil && n > 0 {
		page.Number = n
	}
	if n, err := strconv.Atoi(query.Get("size")); err == nil && n > 0 && n <= 100 {
		page.Size = n
	}
	return page
}

func provenanceFrom(r *http.Request) events.Provenance {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}
	return events.Provenance{
		SenderIP:          ip,
		DeviceFingerprint: r.Header.Get("X-Device-Fingerprint"),
		Location:          r.Header.Get("X-Location"),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
