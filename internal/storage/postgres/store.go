package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/moneyflow/transfer-engine/internal/interfaces"
	"github.com/moneyflow/transfer-engine/internal/models"
)

const txColumns = "id, sender_id, receiver_id, amount, status, flagged, created_at, updated_at"

// Store is a lib/pq implementation of interfaces.LedgerStore. Transfers run
// in serializable transactions with row locks taken in account-id order, so
// two concurrent debits of the same sender cannot both pass the balance check
// against a stale read.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (id, name, balance, role, created_at)
	VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.Name, account.Balance, account.Role, account.CreatedAt)
	if isUniqueViolation(err) {
		return interfaces.ErrDuplicateID
	}
	return wrapStoreErr(err)
}

func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	const query = `SELECT id, name, balance, role, created_at FROM accounts WHERE id = $1`

	var account models.Account
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&account.ID, &account.Name, &account.Balance, &account.Role, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Account{}, interfaces.ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, wrapStoreErr(err)
	}
	return account, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx models.Transaction) error {
	const query = `INSERT INTO transactions (id, sender_id, receiver_id, amount, status, flagged, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.SenderID, tx.ReceiverID, tx.Amount, tx.Status, tx.Flagged, tx.CreatedAt, tx.UpdatedAt)
	if isUniqueViolation(err) {
		return interfaces.ErrDuplicateID
	}
	return wrapStoreErr(err)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return models.Transaction{}, interfaces.ErrTransactionNotFound
	}
	if err != nil {
		return models.Transaction{}, wrapStoreErr(err)
	}
	return tx, nil
}

func (s *Store) CountRecentBySender(ctx context.Context, senderID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM transactions WHERE sender_id = $1 AND created_at >= $2`

	var count int
	if err := s.db.QueryRowContext(ctx, query, senderID, since).Scan(&count); err != nil {
		return 0, wrapStoreErr(err)
	}
	return count, nil
}

func (s *Store) ApplyTransfer(ctx context.Context, txID string, from, to models.TransactionStatus, outbox []models.OutboxRecord) error {
	return s.inSerializableTx(ctx, func(dbTx *sql.Tx) error {
		tx, err := lockTransaction(ctx, dbTx, txID)
		if err != nil {
			return err
		}
		if tx.Status != from {
			return interfaces.ErrStatusConflict
		}

		// Lock both account rows in id order to avoid deadlocks between
		// transfers touching the same pair in opposite directions.
		first, second := tx.SenderID, tx.ReceiverID
		if second < first {
			first, second = second, first
		}
		for _, id := range []string{first, second} {
			if _, err := dbTx.ExecContext(ctx, `SELECT 1 FROM accounts WHERE id = $1 FOR UPDATE`, id); err != nil {
				return err
			}
		}

		res, err := dbTx.ExecContext(ctx,
			`UPDATE accounts SET balance = balance - $1 WHERE id = $2 AND balance >= $1`,
			tx.Amount, tx.SenderID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return interfaces.ErrInsufficientBalance
		}

		if _, err := dbTx.ExecContext(ctx,
			`UPDATE accounts SET balance = balance + $1 WHERE id = $2`,
			tx.Amount, tx.ReceiverID); err != nil {
			return err
		}

		if err := transition(ctx, dbTx, txID, from, to); err != nil {
			return err
		}
		return insertOutbox(ctx, dbTx, outbox)
	})
}

func (s *Store) UpdateStatus(ctx context.Context, txID string, from, to models.TransactionStatus, outbox []models.OutboxRecord) error {
	return s.inSerializableTx(ctx, func(dbTx *sql.Tx) error {
		tx, err := lockTransaction(ctx, dbTx, txID)
		if err != nil {
			return err
		}
		if tx.Status != from {
			return interfaces.ErrStatusConflict
		}
		if err := transition(ctx, dbTx, txID, from, to); err != nil {
			return err
		}
		return insertOutbox(ctx, dbTx, outbox)
	})
}

func (s *Store) ListByStatus(ctx context.Context, status models.TransactionStatus, before time.Time) ([]models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
	WHERE status = $1 AND created_at < $2
	ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, status, before)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, filter interfaces.TransactionFilter, page interfaces.PageRequest) (interfaces.TransactionPage, error) {
	if page.Number < 1 {
		page.Number = 1
	}
	if page.Size < 1 {
		page.Size = 20
	}

	where := []string{`(sender_id = $1 OR receiver_id = $1)`}
	args := []any{accountID}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	clause := strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM transactions WHERE ` + clause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return interfaces.TransactionPage{}, wrapStoreErr(err)
	}

	args = append(args, page.Size, (page.Number-1)*page.Size)
	listQuery := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		txColumns, clause, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return interfaces.TransactionPage{}, wrapStoreErr(err)
	}
	defer rows.Close()

	items, err := collectTransactions(rows)
	if err != nil {
		return interfaces.TransactionPage{}, err
	}

	return interfaces.TransactionPage{
		Items: items,
		Total: total,
		Page:  page.Number,
		Size:  page.Size,
	}, nil
}

func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]models.OutboxRecord, error) {
	const query = `SELECT id, transaction_id, topic, key, payload, status, attempts, last_error, created_at, published_at
	FROM outbox WHERE status = $1 ORDER BY created_at ASC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, models.OutboxPending, limit)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var records []models.OutboxRecord
	for rows.Next() {
		var rec models.OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.TransactionID, &rec.Topic, &rec.Key, &rec.Payload,
			&rec.Status, &rec.Attempts, &rec.LastError, &rec.CreatedAt, &rec.PublishedAt); err != nil {
			return nil, wrapStoreErr(err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	return records, nil
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE outbox SET status = $1, published_at = $2 WHERE id = $3`

	_, err := s.db.ExecContext(ctx, query, models.OutboxPublished, at, id)
	return wrapStoreErr(err)
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id string, cause string, maxAttempts int) error {
	const query = `UPDATE outbox SET
		attempts = attempts + 1,
		last_error = $1,
		status = CASE WHEN attempts + 1 >= $2 THEN 'FAILED' ELSE status END
	WHERE id = $3`

	_, err := s.db.ExecContext(ctx, query, cause, maxAttempts, id)
	return wrapStoreErr(err)
}

func (s *Store) inSerializableTx(ctx context.Context, fn func(*sql.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return wrapStoreErr(err)
	}

	if err := fn(dbTx); err != nil {
		dbTx.Rollback()
		return wrapStoreErr(err)
	}
	return wrapStoreErr(dbTx.Commit())
}

func lockTransaction(ctx context.Context, dbTx *sql.Tx, id string) (models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

	tx, err := scanTransaction(dbTx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return models.Transaction{}, interfaces.ErrTransactionNotFound
	}
	return tx, err
}

func transition(ctx context.Context, dbTx *sql.Tx, id string, from, to models.TransactionStatus) error {
	res, err := dbTx.ExecContext(ctx,
		`UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return interfaces.ErrStatusConflict
	}
	return nil
}

func insertOutbox(ctx context.Context, dbTx *sql.Tx, records []models.OutboxRecord) error {
	const query = `INSERT INTO outbox (id, transaction_id, topic, key, payload, status, attempts, last_error, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, rec := range records {
		if _, err := dbTx.ExecContext(ctx, query,
			rec.ID, rec.TransactionID, rec.Topic, rec.Key, rec.Payload,
			rec.Status, rec.Attempts, rec.LastError, rec.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(&tx.ID, &tx.SenderID, &tx.ReceiverID, &tx.Amount,
		&tx.Status, &tx.Flagged, &tx.CreatedAt, &tx.UpdatedAt)
	return tx, err
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	var items []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapStoreErr(err)
		}
		items = append(items, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	return items, nil
}

// wrapStoreErr tags driver-level failures as retriable store errors while
// letting the package's own sentinels pass through unchanged.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, interfaces.ErrStatusConflict) ||
		errors.Is(err, interfaces.ErrInsufficientBalance) ||
		errors.Is(err, interfaces.ErrTransactionNotFound) ||
		errors.Is(err, interfaces.ErrAccountNotFound) ||
		errors.Is(err, interfaces.ErrDuplicateID) {
		return err
	}
	return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Compile-time check: Store implements the LedgerStore interface.
var _ interfaces.LedgerStore = (*Store)(nil)
