package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"caregov/internal/lifecycle/models"
	id "caregov/pkg/domain"
	"caregov/pkg/platform/sentinel"
	txcontext "caregov/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists records of one entity type in the shared
// governed_records table. Governance columns are kept alongside the jsonb
// payload so views and the soft-delete check constraint work in SQL.
type PostgresStore[T models.Governed] struct {
	db         *sql.DB
	entityType string
	newT       func() T
}

func NewPostgres[T models.Governed](db *sql.DB, entityType string, newT func() T) *PostgresStore[T] {
	return &PostgresStore[T]{db: db, entityType: entityType, newT: newT}
}

func (s *PostgresStore[T]) Insert(ctx context.Context, rec T) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.entityType, err)
	}
	f := rec.Governance()
	query := `
		INSERT INTO governed_records (
			id, entity_type, created_at, updated_at, created_by, updated_by,
			deleted_by, is_deleted, deleted_at, payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = txcontext.Use(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(f.ID),
		s.entityType,
		f.CreatedAt,
		f.UpdatedAt,
		nullableActor(f.CreatedBy),
		nullableActor(f.UpdatedBy),
		nullableActor(f.DeletedBy),
		f.IsDeleted,
		f.DeletedAt,
		payload,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s violates %s: %w", s.entityType, pgErr.ConstraintName, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert %s: %w", s.entityType, err)
	}
	return nil
}

func (s *PostgresStore[T]) FindByID(ctx context.Context, recordID id.RecordID, view models.View) (T, error) {
	query := `SELECT payload FROM governed_records WHERE id = $1 AND entity_type = $2` + viewClause(view)
	return s.scanOne(txcontext.Use(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(recordID), s.entityType))
}

func (s *PostgresStore[T]) List(ctx context.Context, view models.View) ([]T, error) {
	query := `SELECT payload FROM governed_records WHERE entity_type = $1` + viewClause(view) +
		` ORDER BY created_at ASC`
	return s.scanAll(ctx, query, s.entityType)
}

func (s *PostgresStore[T]) ListWhere(ctx context.Context, view models.View, key, value string) ([]T, error) {
	query := `SELECT payload FROM governed_records WHERE entity_type = $1 AND payload->>$2 = $3` +
		viewClause(view) + ` ORDER BY created_at ASC`
	return s.scanAll(ctx, query, s.entityType, key, value)
}

// Execute locks the row with SELECT ... FOR UPDATE. It joins the transaction
// in ctx or opens its own.
func (s *PostgresStore[T]) Execute(ctx context.Context, recordID id.RecordID, view models.View, validate func(T) error, mutate func(T) error) (T, error) {
	var result T
	err := s.inTx(ctx, func(ctx context.Context, q txcontext.Querier) error {
		query := `SELECT payload FROM governed_records WHERE id = $1 AND entity_type = $2` +
			viewClause(view) + ` FOR UPDATE`
		rec, err := s.scanOne(q.QueryRowContext(ctx, query, uuid.UUID(recordID), s.entityType))
		if err != nil {
			return err
		}
		if err := validate(rec); err != nil {
			return err
		}
		if err := mutate(rec); err != nil {
			return err
		}

		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode %s: %w", s.entityType, err)
		}
		f := rec.Governance()
		_, err = q.ExecContext(ctx, `
			UPDATE governed_records
			SET updated_at = $2, updated_by = $3, deleted_by = $4,
				is_deleted = $5, deleted_at = $6, payload = $7
			WHERE id = $1`,
			uuid.UUID(recordID),
			f.UpdatedAt,
			nullableActor(f.UpdatedBy),
			nullableActor(f.DeletedBy),
			f.IsDeleted,
			f.DeletedAt,
			payload,
		)
		if err != nil {
			return fmt.Errorf("update %s: %w", s.entityType, err)
		}
		result = rec
		return nil
	})
	return result, err
}

func (s *PostgresStore[T]) Delete(ctx context.Context, recordID id.RecordID) error {
	res, err := txcontext.Use(ctx, s.db).ExecContext(ctx,
		`DELETE FROM governed_records WHERE id = $1 AND entity_type = $2`,
		uuid.UUID(recordID), s.entityType)
	if err != nil {
		return fmt.Errorf("delete %s: %w", s.entityType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", s.entityType, err)
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %w", s.entityType, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore[T]) inTx(ctx context.Context, fn func(context.Context, txcontext.Querier) error) error {
	if tx, ok := txcontext.From(ctx); ok {
		return fn(ctx, tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(txcontext.WithTx(ctx, tx), tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore[T]) scanOne(row *sql.Row) (T, error) {
	var (
		zero    T
		payload []byte
	)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, fmt.Errorf("%s not found: %w", s.entityType, sentinel.ErrNotFound)
		}
		return zero, fmt.Errorf("find %s: %w", s.entityType, err)
	}
	return s.decode(payload)
}

func (s *PostgresStore[T]) scanAll(ctx context.Context, query string, args ...any) ([]T, error) {
	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.entityType, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.entityType, err)
		}
		rec, err := s.decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.entityType, err)
	}
	return out, nil
}

func (s *PostgresStore[T]) decode(payload []byte) (T, error) {
	rec := s.newT()
	if err := json.Unmarshal(payload, rec); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s: %w", s.entityType, err)
	}
	return rec, nil
}

func viewClause(view models.View) string {
	if view == models.ViewAll {
		return ""
	}
	return ` AND NOT is_deleted`
}

func nullableActor(actor id.ActorID) *uuid.UUID {
	if actor.IsNil() {
		return nil
	}
	u := uuid.UUID(actor)
	return &u
}
