package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"idregistry/internal/provenance"
	"idregistry/internal/registry/store"
	"idregistry/pkg/domerrors"
)

func (s *Store) AddContext(ctx context.Context, opCtx *provenance.Context) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO contexts (cuid, operation, ts) VALUES ($1, $2, $3)`,
		opCtx.CUID, string(opCtx.Operation), opCtx.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return domerrors.New(domerrors.CodeDuplicate, "context %q already exists", opCtx.CUID)
		}
		return fmt.Errorf("add context: %w", err)
	}
	return nil
}

func (s *Store) FindContext(ctx context.Context, cuid string) (*provenance.Context, error) {
	var opCtx provenance.Context
	var op string
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT cuid, operation, ts FROM contexts WHERE cuid = $1`,
		cuid).Scan(&opCtx.CUID, &op, &opCtx.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domerrors.New(domerrors.CodeNotFound, "context %q not found", cuid)
	}
	if err != nil {
		return nil, fmt.Errorf("find context: %w", err)
	}
	opCtx.Operation = provenance.Operation(op)
	return &opCtx, nil
}

// DeleteContext removes a context. Its transactions survive with a null
// back-reference, keeping the audit trail complete.
func (s *Store) DeleteContext(ctx context.Context, cuid string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM contexts WHERE cuid = $1`, cuid)
	if err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	if affected == 0 {
		return domerrors.New(domerrors.CodeNotFound, "context %q not found", cuid)
	}
	return nil
}

func (s *Store) ListContexts(ctx context.Context, filter store.ContextFilter, offset, limit int) ([]provenance.Context, int, error) {
	var conds []string
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.CUID != "" {
		add("cuid = $%d", filter.CUID)
	}
	if filter.Operation != "" {
		add("operation = $%d", string(filter.Operation))
	}
	if filter.From != nil {
		add("ts >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("ts <= $%d", *filter.To)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	q := s.q(ctx)
	var total int
	if err := q.QueryRowContext(ctx, `SELECT count(*) FROM contexts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contexts: %w", err)
	}

	pageArgs := append(args, offset, limit)
	query := fmt.Sprintf(
		`SELECT cuid, operation, ts FROM contexts%s ORDER BY ts, cuid OFFSET $%d LIMIT $%d`,
		where, len(args)+1, len(args)+2)
	rows, err := q.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var contexts []provenance.Context
	for rows.Next() {
		var opCtx provenance.Context
		var op string
		if err := rows.Scan(&opCtx.CUID, &op, &opCtx.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("scan context: %w", err)
		}
		opCtx.Operation = provenance.Operation(op)
		contexts = append(contexts, opCtx)
	}
	return contexts, total, rows.Err()
}

func (s *Store) AddTransaction(ctx context.Context, txn *provenance.Transaction) error {
	args := txn.Args
	if len(args) == 0 {
		args = []byte(`{}`)
	}
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO transactions (tuid, change, entity, context_id, ts, args)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		txn.TUID, string(txn.Change), string(txn.Entity), txn.ContextID, txn.Timestamp, args)
	if err != nil {
		if isUniqueViolation(err) {
			return domerrors.New(domerrors.CodeDuplicate, "transaction %q already exists", txn.TUID)
		}
		if isForeignKeyViolation(err) {
			return domerrors.New(domerrors.CodeNotFound, "context %q not found", *txn.ContextID)
		}
		return fmt.Errorf("add transaction: %w", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, filter store.TransactionFilter, offset, limit int) ([]provenance.Transaction, int, error) {
	var conds []string
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.TUID != "" {
		add("tuid = $%d", filter.TUID)
	}
	if filter.Entity != "" {
		add("entity = $%d", string(filter.Entity))
	}
	if filter.Change != "" {
		add("change = $%d", string(filter.Change))
	}
	if filter.ContextID != "" {
		add("context_id = $%d", filter.ContextID)
	}
	if filter.From != nil {
		add("ts >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("ts <= $%d", *filter.To)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	q := s.q(ctx)
	var total int
	if err := q.QueryRowContext(ctx, `SELECT count(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	pageArgs := append(args, offset, limit)
	query := fmt.Sprintf(
		`SELECT tuid, change, entity, context_id, ts, args FROM transactions%s ORDER BY ts, tuid OFFSET $%d LIMIT $%d`,
		where, len(args)+1, len(args)+2)
	rows, err := q.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []provenance.Transaction
	for rows.Next() {
		var txn provenance.Transaction
		var change, entity string
		if err := rows.Scan(&txn.TUID, &change, &entity, &txn.ContextID, &txn.Timestamp, &txn.Args); err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		txn.Change = provenance.ChangeKind(change)
		txn.Entity = provenance.EntityKind(entity)
		txns = append(txns, txn)
	}
	return txns, total, rows.Err()
}
