package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/satyaveer/txnledger/internal/domain"
	"github.com/satyaveer/txnledger/internal/kv"
	"github.com/satyaveer/txnledger/internal/store"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidAmount     = errors.New("amount must be greater than 0")
	ErrInsufficientFunds = errors.New("insufficient balance")

	// ErrConflict is a precondition race with no matching idempotency
	// record: an unrelated concurrent transaction moved the balance between
	// our snapshot read and the commit. Retryable by the caller with the
	// same idempotency key.
	ErrConflict = errors.New("concurrent balance update")

	// ErrTransactionFailed collapses store/infrastructure failures. The
	// underlying cause is logged, never returned to the caller.
	ErrTransactionFailed = errors.New("transaction processing failed")
)

var (
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transactions_total",
		Help: "Committed transactions by type",
	}, []string{"type"})

	replaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_idempotent_replays_total",
		Help: "Requests resolved from a prior idempotency record",
	})

	commitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_commit_conflicts_total",
		Help: "Atomic commits rejected by a precondition check",
	})
)

// TransactInput is one logical credit/debit request.
type TransactInput struct {
	IdempotencyKey string
	UserID         string
	Amount         int64
	Type           domain.TransactionType
}

// TransactResult is the success shape for both fresh commits and idempotent
// replays. Replayed carries the prior transaction id and the account's
// current balance, not the balance at original commit time.
type TransactResult struct {
	TransactionID string
	NewBalance    int64
	Replayed      bool
	Message       string
}

// TransactionService is the transaction engine: the sole writer of balance
// mutations. It is stateless; all cross-request coordination is delegated
// to the store's conditional multi-item transaction, so any number of
// instances may run concurrently.
type TransactionService struct {
	accounts *store.AccountStore
	ledger   *store.LedgerStore
	kv       kv.Store
	logger   *slog.Logger
}

func NewTransactionService(accounts *store.AccountStore, ledger *store.LedgerStore, s kv.Store, logger *slog.Logger) *TransactionService {
	return &TransactionService{accounts: accounts, ledger: ledger, kv: s, logger: logger}
}

// Transact applies one credit/debit exactly once per idempotency key.
//
// The balance snapshot read up front doubles as the compare-and-swap
// precondition of the commit; it is never re-read mid-flight. A commit
// rejected on a precondition is either a same-key race (resolved as a
// replay) or an unrelated balance race (surfaced as ErrConflict).
func (s *TransactionService) Transact(ctx context.Context, in TransactInput) (*TransactResult, error) {
	acc, err := s.accounts.Get(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		s.logger.Error("account load failed", "userId", in.UserID, "error", err)
		return nil, ErrTransactionFailed
	}

	if rec := s.lookupIdempotency(ctx, in.IdempotencyKey); rec != nil {
		replaysTotal.Inc()
		return &TransactResult{
			TransactionID: rec.TransactionID,
			NewBalance:    acc.Balance,
			Replayed:      true,
			Message:       "transaction already processed",
		}, nil
	}

	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if in.Type == domain.TypeDebit && acc.Balance < in.Amount {
		return nil, ErrInsufficientFunds
	}

	txnID := uuid.NewString()
	newBalance := acc.Balance + in.Amount
	if in.Type == domain.TypeDebit {
		newBalance = acc.Balance - in.Amount
	}

	txn := &domain.Transaction{
		ID:             txnID,
		UserID:         in.UserID,
		Type:           in.Type,
		Status:         domain.StatusSucceeded,
		Amount:         in.Amount,
		IdempotencyKey: in.IdempotencyKey,
	}
	rec := &domain.IdempotencyRecord{
		Key:           in.IdempotencyKey,
		TransactionID: txnID,
		UserID:        in.UserID,
		Type:          in.Type,
		Amount:        in.Amount,
		Status:        domain.StatusSucceeded,
	}

	err = s.kv.TransactWrite(ctx, []kv.Write{
		s.ledger.TransactionWrite(txn),
		s.ledger.IdempotencyWrite(rec),
		s.accounts.BalanceUpdate(in.UserID, newBalance, acc.Balance),
	})
	if err == nil {
		transactionsTotal.WithLabelValues(string(in.Type)).Inc()
		return &TransactResult{
			TransactionID: txnID,
			NewBalance:    newBalance,
			Message:       "transaction processed successfully",
		}, nil
	}

	if errors.Is(err, kv.ErrPreconditionFailed) {
		commitConflicts.Inc()
		if prior := s.lookupIdempotency(ctx, in.IdempotencyKey); prior != nil {
			replaysTotal.Inc()
			return &TransactResult{
				TransactionID: prior.TransactionID,
				NewBalance:    acc.Balance,
				Replayed:      true,
				Message:       "transaction already processed by another process",
			}, nil
		}
		return nil, ErrConflict
	}

	s.logger.Error("atomic commit failed", "userId", in.UserID, "idempotencyKey", in.IdempotencyKey, "error", err)
	return nil, ErrTransactionFailed
}

// lookupIdempotency is the idempotency guard: nil means no prior attempt.
// A failed read is deliberately treated as a miss so the request can still
// proceed to a fresh commit; the commit's insert-if-absent gate catches any
// duplicate the degraded read hid.
func (s *TransactionService) lookupIdempotency(ctx context.Context, key string) *domain.IdempotencyRecord {
	rec, err := s.ledger.GetIdempotencyRecord(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("idempotency lookup failed, treating as miss", "error", err)
		}
		return nil
	}
	return rec
}
