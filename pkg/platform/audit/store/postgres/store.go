package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "caregov/pkg/domain"
	audit "caregov/pkg/platform/audit"
	txcontext "caregov/pkg/platform/tx"
)

// Store implements audit.Store over the audit_entries table. When the
// context carries a transaction the insert joins it under a savepoint, so a
// failed audit write leaves the audited mutation committable.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const entryColumns = `id, actor_id, action, timestamp, entity_type, entity_id, entity_repr,
	changed_fields, old_values, new_values, ip_address, user_agent, session_key,
	sensitivity_level, description, extra, request_id`

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	changed, err := marshalJSON(entry.ChangedFields)
	if err != nil {
		return fmt.Errorf("marshal changed fields: %w", err)
	}
	oldValues, err := marshalJSON(entry.OldValues)
	if err != nil {
		return fmt.Errorf("marshal old values: %w", err)
	}
	newValues, err := marshalJSON(entry.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}
	extra, err := marshalJSON(entry.Extra)
	if err != nil {
		return fmt.Errorf("marshal extra: %w", err)
	}

	query := `INSERT INTO audit_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	return txcontext.Savepoint(ctx, "audit_append", func() error {
		_, err := txcontext.Use(ctx, s.db).ExecContext(ctx, query,
			uuid.UUID(entry.ID),
			nullableActor(entry.Actor),
			string(entry.Action),
			entry.Timestamp,
			entry.EntityType,
			entry.EntityID,
			entry.EntityRepr,
			changed,
			oldValues,
			newValues,
			entry.IPAddress,
			entry.UserAgent,
			entry.SessionKey,
			string(entry.Sensitivity),
			entry.Description,
			extra,
			entry.RequestID,
		)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
		return nil
	})
}

func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if filter.Actor != nil {
		add("actor_id = $%d", uuid.UUID(*filter.Actor))
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if !filter.From.IsZero() {
		add("timestamp >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("timestamp < $%d", filter.To)
	}

	query := `SELECT ` + entryColumns + ` FROM audit_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC"

	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func (s *Store) CountBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := txcontext.Use(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE timestamp < $1`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := txcontext.Use(ctx, s.db).ExecContext(ctx,
		`DELETE FROM audit_entries WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit entries: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) CountByAction(ctx context.Context, from, to time.Time) (map[audit.Action]int64, error) {
	counts := make(map[audit.Action]int64)
	err := s.groupCount(ctx, "action", from, to, func(key string, n int64) {
		counts[audit.Action(key)] = n
	})
	return counts, err
}

func (s *Store) CountBySensitivity(ctx context.Context, from, to time.Time) (map[audit.Sensitivity]int64, error) {
	counts := make(map[audit.Sensitivity]int64)
	err := s.groupCount(ctx, "sensitivity_level", from, to, func(key string, n int64) {
		counts[audit.Sensitivity(key)] = n
	})
	return counts, err
}

// groupCount is only called with column names from this file.
func (s *Store) groupCount(ctx context.Context, column string, from, to time.Time, fn func(string, int64)) error {
	query := `SELECT ` + column + `, COUNT(*) FROM audit_entries
		WHERE ($1::timestamptz IS NULL OR timestamp >= $1)
		  AND ($2::timestamptz IS NULL OR timestamp < $2)
		GROUP BY ` + column
	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, query, nullableTime(from), nullableTime(to))
	if err != nil {
		return fmt.Errorf("count audit entries by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		fn(key, n)
	}
	return rows.Err()
}

func scanEntry(rows *sql.Rows) (audit.Entry, error) {
	var (
		entry                         audit.Entry
		entryID                       uuid.UUID
		actorID                       *uuid.UUID
		action, sensitivity           string
		changed, oldValues, newValues []byte
		extra                         []byte
	)
	err := rows.Scan(
		&entryID,
		&actorID,
		&action,
		&entry.Timestamp,
		&entry.EntityType,
		&entry.EntityID,
		&entry.EntityRepr,
		&changed,
		&oldValues,
		&newValues,
		&entry.IPAddress,
		&entry.UserAgent,
		&entry.SessionKey,
		&sensitivity,
		&entry.Description,
		&extra,
		&entry.RequestID,
	)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}

	entry.ID = id.EntryID(entryID)
	if actorID != nil {
		a := id.ActorID(*actorID)
		entry.Actor = &a
	}
	entry.Action = audit.Action(action)
	entry.Sensitivity = audit.Sensitivity(sensitivity)
	if err := unmarshalJSON(changed, &entry.ChangedFields); err != nil {
		return audit.Entry{}, fmt.Errorf("decode changed fields: %w", err)
	}
	if err := unmarshalJSON(oldValues, &entry.OldValues); err != nil {
		return audit.Entry{}, fmt.Errorf("decode old values: %w", err)
	}
	if err := unmarshalJSON(newValues, &entry.NewValues); err != nil {
		return audit.Entry{}, fmt.Errorf("decode new values: %w", err)
	}
	if err := unmarshalJSON(extra, &entry.Extra); err != nil {
		return audit.Entry{}, fmt.Errorf("decode extra: %w", err)
	}
	return entry, nil
}

// AccessLogStore implements audit.AccessStore over the access_logs table.
type AccessLogStore struct {
	db *sql.DB
}

func NewAccessLogStore(db *sql.DB) *AccessLogStore {
	return &AccessLogStore{db: db}
}

func (s *AccessLogStore) Append(ctx context.Context, entry audit.AccessLogEntry) error {
	query := `
		INSERT INTO access_logs (
			id, actor_id, subject_id, access_type, timestamp,
			fields_accessed, purpose, legal_basis, ip_address, user_agent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	return txcontext.Savepoint(ctx, "access_log_append", func() error {
		_, err := txcontext.Use(ctx, s.db).ExecContext(ctx, query,
			uuid.UUID(entry.ID),
			nullableActor(entry.Actor),
			uuid.UUID(entry.SubjectID),
			string(entry.AccessType),
			entry.Timestamp,
			pq.Array(entry.FieldsAccessed),
			entry.Purpose,
			entry.LegalBasis,
			entry.IPAddress,
			entry.UserAgent,
		)
		if err != nil {
			return fmt.Errorf("insert access log: %w", err)
		}
		return nil
	})
}

func (s *AccessLogStore) ListBySubject(ctx context.Context, subject id.RecordID, since time.Time) ([]audit.AccessLogEntry, error) {
	query := `
		SELECT id, actor_id, subject_id, access_type, timestamp,
			   fields_accessed, purpose, legal_basis, ip_address, user_agent
		FROM access_logs
		WHERE subject_id = $1 AND timestamp >= $2
		ORDER BY timestamp ASC
	`
	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, query, uuid.UUID(subject), since)
	if err != nil {
		return nil, fmt.Errorf("query access logs: %w", err)
	}
	defer rows.Close()

	var entries []audit.AccessLogEntry
	for rows.Next() {
		var (
			entry      audit.AccessLogEntry
			entryID    uuid.UUID
			actorID    *uuid.UUID
			subjectID  uuid.UUID
			accessType string
		)
		err := rows.Scan(
			&entryID,
			&actorID,
			&subjectID,
			&accessType,
			&entry.Timestamp,
			pq.Array(&entry.FieldsAccessed),
			&entry.Purpose,
			&entry.LegalBasis,
			&entry.IPAddress,
			&entry.UserAgent,
		)
		if err != nil {
			return nil, fmt.Errorf("scan access log: %w", err)
		}
		entry.ID = id.EntryID(entryID)
		entry.SubjectID = id.RecordID(subjectID)
		entry.AccessType = audit.AccessType(accessType)
		if actorID != nil {
			a := id.ActorID(*actorID)
			entry.Actor = &a
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access logs: %w", err)
	}
	return entries, nil
}

func (s *AccessLogStore) CountBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := txcontext.Use(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_logs WHERE timestamp < $1`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count access logs: %w", err)
	}
	return n, nil
}

func (s *AccessLogStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := txcontext.Use(ctx, s.db).ExecContext(ctx,
		`DELETE FROM access_logs WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete access logs: %w", err)
	}
	return res.RowsAffected()
}

func (s *AccessLogStore) CountBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := txcontext.Use(ctx, s.db).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM access_logs
		WHERE ($1::timestamptz IS NULL OR timestamp >= $1)
		  AND ($2::timestamptz IS NULL OR timestamp < $2)`,
		nullableTime(from), nullableTime(to)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count access logs: %w", err)
	}
	return n, nil
}

func nullableActor(actor *id.ActorID) *uuid.UUID {
	if actor == nil || actor.IsNil() {
		return nil
	}
	u := uuid.UUID(*actor)
	return &u
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func marshalJSON(v any) ([]byte, error) {
	switch m := v.(type) {
	case map[string]any:
		if m == nil {
			return nil, nil
		}
	case map[string]audit.FieldChange:
		if m == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func unmarshalJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
