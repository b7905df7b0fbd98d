// Package postgres provides a PostgreSQL-backed store on pgx. Settlements
// run inside a database transaction started by Atomic.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	settle "github.com/xraph/settle"
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/obligation"
	"github.com/xraph/settle/source"
	settlestore "github.com/xraph/settle/store"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
)

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

// querier is the subset of pgx shared by a pool and a transaction, so the
// same query methods serve both the plain store and a unit-bound view.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store on PostgreSQL via pgx.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

// New creates a PostgreSQL store on the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// Pool returns the underlying connection pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the schema migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.q.Exec(ctx, m.up); err != nil {
			return fmt.Errorf("settle/postgres: migration %s: %w", m.name, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Atomic runs fn inside one database transaction. The Store passed to fn is
// bound to the transaction; a nested call joins the enclosing unit.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx settlestore.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("settle/postgres: begin: %w", err)
	}

	unit := &Store{pool: s.pool, q: tx, inTx: true}
	if err := fn(ctx, unit); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("settle/postgres: commit: %w", err)
	}
	return nil
}

// ==================== Source store ====================

const sourceColumns = `id, owner_id, type, name, currency, balance::text, status, card, wallet, metadata, created_at, updated_at`

func (s *Store) CreateSource(ctx context.Context, src *source.PaymentSource) error {
	cardJSON, err := jsonOrNull(src.Card)
	if err != nil {
		return err
	}
	walletJSON, err := jsonOrNull(src.Wallet)
	if err != nil {
		return err
	}
	metaJSON, err := encodeMetadata(src.Metadata)
	if err != nil {
		return err
	}

	_, err = s.q.Exec(ctx, `
INSERT INTO settle_sources (id, owner_id, type, name, currency, balance, status, card, wallet, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		src.ID.String(), src.OwnerID.String(), string(src.Type), src.Name, src.Currency,
		src.Balance.StringFixed(), string(src.Status), cardJSON, walletJSON, metaJSON,
		src.CreatedAt, src.UpdatedAt)
	if err != nil {
		return fmt.Errorf("settle/postgres: create source: %w", err)
	}
	return nil
}

func (s *Store) GetSource(ctx context.Context, sourceID id.SourceID) (*source.PaymentSource, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM settle_sources WHERE id = $1`,
		sourceID.String())

	var r sourceRow
	err := row.Scan(&r.ID, &r.OwnerID, &r.Type, &r.Name, &r.Currency, &r.Balance,
		&r.Status, &r.Card, &r.Wallet, &r.Metadata, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settle.ErrSourceNotFound
		}
		return nil, fmt.Errorf("settle/postgres: get source: %w", err)
	}
	return fromSourceRow(&r)
}

func (s *Store) ListSources(ctx context.Context, ownerID id.UserID, opts source.ListOpts) ([]*source.PaymentSource, error) {
	query := `SELECT ` + sourceColumns + ` FROM settle_sources WHERE owner_id = $1`
	args := []any{ownerID.String()}

	if opts.Type != "" {
		args = append(args, string(opts.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at, id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("settle/postgres: list sources: %w", err)
	}
	defer rows.Close()

	var result []*source.PaymentSource
	for rows.Next() {
		var r sourceRow
		err := rows.Scan(&r.ID, &r.OwnerID, &r.Type, &r.Name, &r.Currency, &r.Balance,
			&r.Status, &r.Card, &r.Wallet, &r.Metadata, &r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("settle/postgres: list sources: %w", err)
		}
		src, err := fromSourceRow(&r)
		if err != nil {
			return nil, err
		}
		result = append(result, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settle/postgres: list sources: %w", err)
	}
	return result, nil
}

// CompareAndSwapBalance applies the swap only when the stored balance still
// matches expected. NUMERIC comparison is exact at fixed scale, so the guard
// never suffers rounding drift.
func (s *Store) CompareAndSwapBalance(ctx context.Context, sourceID id.SourceID, expected, next types.Amount) (bool, error) {
	tag, err := s.q.Exec(ctx, `
UPDATE settle_sources SET balance = $3, updated_at = NOW()
WHERE id = $1 AND balance = $2::numeric`,
		sourceID.String(), expected.StringFixed(), next.StringFixed())
	if err != nil {
		return false, fmt.Errorf("settle/postgres: cas balance: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Distinguish a lost race from a missing source.
	var exists bool
	err = s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM settle_sources WHERE id = $1)`,
		sourceID.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("settle/postgres: cas balance: %w", err)
	}
	if !exists {
		return false, settle.ErrSourceNotFound
	}
	return false, nil
}

func (s *Store) UpdateSourceStatus(ctx context.Context, sourceID id.SourceID, status source.Status) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE settle_sources SET status = $2, updated_at = NOW() WHERE id = $1`,
		sourceID.String(), string(status))
	if err != nil {
		return fmt.Errorf("settle/postgres: update source status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return settle.ErrSourceNotFound
	}
	return nil
}

// ==================== Obligation store ====================

const obligationColumns = `id, owner_id, name, amount_due::text, currency, due_date, source_id, source_type, status, recurring, payments, metadata, created_at, updated_at`

func (s *Store) CreateObligation(ctx context.Context, obl *obligation.Obligation) error {
	recurringJSON, paymentsJSON, metaJSON, err := encodeObligationBlobs(obl)
	if err != nil {
		return err
	}

	_, err = s.q.Exec(ctx, `
INSERT INTO settle_obligations (id, owner_id, name, amount_due, currency, due_date, source_id, source_type, status, recurring, payments, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		obl.ID.String(), obl.OwnerID.String(), obl.Name, obl.AmountDue.StringFixed(),
		obl.Currency, obl.DueDate, obl.SourceID.String(), string(obl.SourceType),
		string(obl.Status), recurringJSON, paymentsJSON, metaJSON,
		obl.CreatedAt, obl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("settle/postgres: create obligation: %w", err)
	}
	return nil
}

func (s *Store) GetObligation(ctx context.Context, oblID id.ObligationID) (*obligation.Obligation, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+obligationColumns+` FROM settle_obligations WHERE id = $1`,
		oblID.String())

	r, err := scanObligation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settle.ErrObligationNotFound
		}
		return nil, fmt.Errorf("settle/postgres: get obligation: %w", err)
	}
	return fromObligationRow(r)
}

func (s *Store) ListObligations(ctx context.Context, ownerID id.UserID, opts obligation.ListOpts) ([]*obligation.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM settle_obligations WHERE owner_id = $1`
	args := []any{ownerID.String()}

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at, id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.queryObligations(ctx, query, args...)
}

func (s *Store) UpdateObligation(ctx context.Context, obl *obligation.Obligation) error {
	recurringJSON, paymentsJSON, metaJSON, err := encodeObligationBlobs(obl)
	if err != nil {
		return err
	}

	tag, err := s.q.Exec(ctx, `
UPDATE settle_obligations
SET name = $2, amount_due = $3, currency = $4, due_date = $5, source_id = $6,
    source_type = $7, status = $8, recurring = $9, payments = $10, metadata = $11,
    updated_at = NOW()
WHERE id = $1`,
		obl.ID.String(), obl.Name, obl.AmountDue.StringFixed(), obl.Currency,
		obl.DueDate, obl.SourceID.String(), string(obl.SourceType), string(obl.Status),
		recurringJSON, paymentsJSON, metaJSON)
	if err != nil {
		return fmt.Errorf("settle/postgres: update obligation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return settle.ErrObligationNotFound
	}
	return nil
}

func (s *Store) ListAutopayDue(ctx context.Context, from, to time.Time) ([]*obligation.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM settle_obligations
WHERE status = $1 AND (recurring->>'autopay')::boolean AND due_date >= $2 AND due_date < $3
ORDER BY due_date, id`

	return s.queryObligations(ctx, query, string(obligation.StatusPending), from, to)
}

func (s *Store) queryObligations(ctx context.Context, query string, args ...any) ([]*obligation.Obligation, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("settle/postgres: list obligations: %w", err)
	}
	defer rows.Close()

	var result []*obligation.Obligation
	for rows.Next() {
		r, err := scanObligation(rows)
		if err != nil {
			return nil, fmt.Errorf("settle/postgres: list obligations: %w", err)
		}
		obl, err := fromObligationRow(r)
		if err != nil {
			return nil, err
		}
		result = append(result, obl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settle/postgres: list obligations: %w", err)
	}
	return result, nil
}

func scanObligation(row pgx.Row) (*obligationRow, error) {
	var r obligationRow
	err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.AmountDue, &r.Currency, &r.DueDate,
		&r.SourceID, &r.SourceType, &r.Status, &r.Recurring, &r.Payments, &r.Metadata,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func encodeObligationBlobs(obl *obligation.Obligation) (recurring, payments any, metadata []byte, err error) {
	recurring, err = jsonOrNull(obl.Recurring)
	if err != nil {
		return nil, nil, nil, err
	}

	if len(obl.Payments) == 0 {
		payments = []byte("[]")
	} else {
		b, merr := json.Marshal(obl.Payments)
		if merr != nil {
			return nil, nil, nil, fmt.Errorf("settle/postgres: encode payments: %w", merr)
		}
		payments = b
	}

	metadata, err = encodeMetadata(obl.Metadata)
	if err != nil {
		return nil, nil, nil, err
	}
	return recurring, payments, metadata, nil
}

// ==================== Transaction log ====================

const transactionColumns = `id, type, amount::text, currency, source_id, source_kind, destination_id, destination_kind, status, reference, idempotency_key, description, metadata, created_at, updated_at`

func (s *Store) AppendTransaction(ctx context.Context, txn *transaction.Transaction) error {
	metaJSON, err := encodeMetadata(txn.Metadata)
	if err != nil {
		return err
	}

	_, err = s.q.Exec(ctx, `
INSERT INTO settle_transactions (id, type, amount, currency, source_id, source_kind, destination_id, destination_kind, status, reference, idempotency_key, description, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		txn.ID.String(), string(txn.Type), txn.Amount.StringFixed(), txn.Currency,
		txn.Source.ID.String(), string(txn.Source.Kind),
		txn.Destination.ID.String(), string(txn.Destination.Kind),
		string(txn.Status), txn.Reference, txn.IdempotencyKey, txn.Description,
		metaJSON, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		if sentinel := duplicateSentinel(err); sentinel != nil {
			return sentinel
		}
		return fmt.Errorf("settle/postgres: append transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	return s.findTransaction(ctx, `WHERE id = $1`, txnID.String())
}

func (s *Store) GetTransactionByReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	return s.findTransaction(ctx, `WHERE reference = $1`, reference)
}

func (s *Store) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*transaction.Transaction, error) {
	return s.findTransaction(ctx, `WHERE idempotency_key = $1`, key)
}

func (s *Store) ListTransactionsByEndpoint(ctx context.Context, endpointID id.AnyID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM settle_transactions WHERE (source_id = $1 OR destination_id = $1)`
	args := []any{endpointID.String()}

	if opts.Type != "" {
		args = append(args, string(opts.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	// Oldest first, id as tiebreak. TypeIDs are K-sortable, so the order
	// is stable and replay-deterministic.
	query += " ORDER BY created_at, id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("settle/postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var result []*transaction.Transaction
	for rows.Next() {
		r, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("settle/postgres: list transactions: %w", err)
		}
		txn, err := fromTransactionRow(r)
		if err != nil {
			return nil, err
		}
		result = append(result, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settle/postgres: list transactions: %w", err)
	}
	return result, nil
}

func (s *Store) findTransaction(ctx context.Context, where string, arg any) (*transaction.Transaction, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM settle_transactions `+where, arg)

	r, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settle.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("settle/postgres: get transaction: %w", err)
	}
	return fromTransactionRow(r)
}

func scanTransaction(row pgx.Row) (*transactionRow, error) {
	var r transactionRow
	err := row.Scan(&r.ID, &r.Type, &r.Amount, &r.Currency, &r.SourceID, &r.SourceKind,
		&r.DestinationID, &r.DestinationKind, &r.Status, &r.Reference, &r.IdempotencyKey,
		&r.Description, &r.Metadata, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// duplicateSentinel maps a unique violation onto the sentinel for the
// violated index, or returns nil for any other error.
func duplicateSentinel(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	switch pgErr.ConstraintName {
	case idxUniqIdemKey:
		return settle.ErrDuplicateIdemKey
	case idxUniqReference:
		return settle.ErrDuplicateReference
	default:
		return nil
	}
}
