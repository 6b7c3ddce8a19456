package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/moneyflow/transfer-engine/internal/interfaces"
	"github.com/moneyflow/transfer-engine/internal/models"
)

// Store is an in-memory implementation of interfaces.LedgerStore. It is
// thread-safe and keeps the same atomicity guarantees as the postgres store:
// every multi-record mutation happens under one lock.
type Store struct {
	mu           sync.Mutex
	accounts     map[string]models.Account
	transactions map[string]models.Transaction
	txOrder      []string // transaction ids in creation order
	outbox       map[string]models.OutboxRecord
	outboxOrder  []string
}

// NewStore creates an empty in-memory ledger store.
func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]models.Account),
		transactions: make(map[string]models.Transaction),
		outbox:       make(map[string]models.OutboxRecord),
	}
}

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return interfaces.ErrDuplicateID
	}
	s.accounts[account.ID] = account
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[id]
	if !exists {
		return models.Account{}, interfaces.ErrAccountNotFound
	}
	return account, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx.ID]; exists {
		return interfaces.ErrDuplicateID
	}
	s.transactions[tx.ID] = tx
	s.txOrder = append(s.txOrder, tx.ID)
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.transactions[id]
	if !exists {
		return models.Transaction{}, interfaces.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *Store) CountRecentBySender(ctx context.Context, senderID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, tx := range s.transactions {
		if tx.SenderID == senderID && !tx.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// ApplyTransfer debits, credits and transitions under one lock so concurrent
// settles of the same transaction cannot both pass the status check.
func (s *Store) ApplyTransfer(ctx context.Context, txID string, from, to models.TransactionStatus, outbox []models.OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.transactions[txID]
	if !exists {
		return interfaces.ErrTransactionNotFound
	}
	if tx.Status != from {
		return interfaces.ErrStatusConflict
	}

	sender, exists := s.accounts[tx.SenderID]
	if !exists {
		return interfaces.ErrAccountNotFound
	}
	receiver, exists := s.accounts[tx.ReceiverID]
	if !exists {
		return interfaces.ErrAccountNotFound
	}
	if sender.Balance.LessThan(tx.Amount) {
		return interfaces.ErrInsufficientBalance
	}

	sender.Balance = sender.Balance.Sub(tx.Amount)
	receiver.Balance = receiver.Balance.Add(tx.Amount)
	s.accounts[sender.ID] = sender
	s.accounts[receiver.ID] = receiver

	tx.Status = to
	tx.UpdatedAt = time.Now()
	s.transactions[txID] = tx

	s.appendOutbox(outbox)
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, txID string, from, to models.TransactionStatus, outbox []models.OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.transactions[txID]
	if !exists {
		return interfaces.ErrTransactionNotFound
	}
	if tx.Status != from {
		return interfaces.ErrStatusConflict
	}

	tx.Status = to
	tx.UpdatedAt = time.Now()
	s.transactions[txID] = tx

	s.appendOutbox(outbox)
	return nil
}

func (s *Store) ListByStatus(ctx context.Context, status models.TransactionStatus, before time.Time) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.Transaction
	for _, id := range s.txOrder {
		tx := s.transactions[id]
		if tx.Status == status && tx.CreatedAt.Before(before) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, filter interfaces.TransactionFilter, page interfaces.PageRequest) (interfaces.TransactionPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page.Number < 1 {
		page.Number = 1
	}
	if page.Size < 1 {
		page.Size = 20
	}

	var matched []models.Transaction
	for _, id := range s.txOrder {
		tx := s.transactions[id]
		if tx.SenderID != accountID && tx.ReceiverID != accountID {
			continue
		}
		if filter.Status != nil && tx.Status != *filter.Status {
			continue
		}
		if filter.From != nil && tx.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && tx.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, tx)
	}

	// Newest first, matching the postgres store's ORDER BY created_at DESC.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page.Number - 1) * page.Size
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}

	items := make([]models.Transaction, end-start)
	copy(items, matched[start:end])

	return interfaces.TransactionPage{
		Items: items,
		Total: total,
		Page:  page.Number,
		Size:  page.Size,
	}, nil
}

func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]models.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.OutboxRecord
	for _, id := range s.outboxOrder {
		if limit > 0 && len(result) >= limit {
			break
		}
		rec := s.outbox[id]
		if rec.Status == models.OutboxPending {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.outbox[id]
	if !exists {
		return interfaces.ErrTransactionNotFound
	}
	rec.Status = models.OutboxPublished
	rec.PublishedAt = &at
	s.outbox[id] = rec
	return nil
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id string, cause string, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.outbox[id]
	if !exists {
		return interfaces.ErrTransactionNotFound
	}
	rec.Attempts++
	rec.LastError = cause
	if rec.Attempts >= maxAttempts {
		rec.Status = models.OutboxFailed
	}
	s.outbox[id] = rec
	return nil
}

func (s *Store) appendOutbox(records []models.OutboxRecord) {
	for _, rec := range records {
		if _, exists := s.outbox[rec.ID]; exists {
			continue
		}
		s.outbox[rec.ID] = rec
		s.outboxOrder = append(s.outboxOrder, rec.ID)
	}
}

// Compile-time check: Store implements the LedgerStore interface.
var _ interfaces.LedgerStore = (*Store)(nil)
