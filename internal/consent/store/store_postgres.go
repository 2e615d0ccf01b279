package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"caregov/internal/consent/models"
	id "caregov/pkg/domain"
	"caregov/pkg/platform/sentinel"
	txcontext "caregov/pkg/platform/tx"
)

// PostgresStore persists consent records in the consents table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const consentColumns = `id, subject_id, consent_type, status, granted_at, revoked_at, expires_at,
	purpose, data_categories, legal_basis, consent_text, evidence_ref, revocation_reason,
	ip_address, user_agent`

func (s *PostgresStore) Save(ctx context.Context, rec *models.Record) error {
	query := `INSERT INTO consents (` + consentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := txcontext.Use(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(rec.ID),
		uuid.UUID(rec.SubjectID),
		string(rec.Type),
		string(rec.Status),
		rec.GrantedAt,
		rec.RevokedAt,
		rec.ExpiresAt,
		rec.Purpose,
		pq.Array(rec.DataCategories),
		rec.LegalBasis,
		rec.ConsentText,
		nullString(rec.EvidenceRef),
		nullString(rec.RevocationReason),
		nullString(rec.IPAddress),
		rec.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rec *models.Record) error {
	res, err := txcontext.Use(ctx, s.db).ExecContext(ctx, `
		UPDATE consents
		SET status = $2, revoked_at = $3, expires_at = $4, revocation_reason = $5
		WHERE id = $1`,
		uuid.UUID(rec.ID),
		string(rec.Status),
		rec.RevokedAt,
		rec.ExpiresAt,
		nullString(rec.RevocationReason),
	)
	if err != nil {
		return fmt.Errorf("update consent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update consent: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("consent not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

// FindByID locks the row when called inside a transaction.
func (s *PostgresStore) FindByID(ctx context.Context, consentID id.ConsentID) (*models.Record, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE id = $1`
	if _, ok := txcontext.From(ctx); ok {
		query += ` FOR UPDATE`
	}
	rec, err := scanConsent(txcontext.Use(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(consentID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("consent not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find consent: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject id.RecordID) ([]*models.Record, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE subject_id = $1 ORDER BY granted_at ASC`
	if _, ok := txcontext.From(ctx); ok {
		query += ` FOR UPDATE`
	}
	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, query, uuid.UUID(subject))
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context, now time.Time) (map[models.Status]int, error) {
	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, `
		SELECT CASE
				WHEN status = 'GRANTED' AND expires_at IS NOT NULL AND expires_at <= $1 THEN 'EXPIRED'
				ELSE status
			END AS effective, COUNT(*)
		FROM consents
		GROUP BY effective`, now)
	if err != nil {
		return nil, fmt.Errorf("count consents: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int, 3)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan consent count: %w", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsent(row rowScanner) (*models.Record, error) {
	var (
		rec                      models.Record
		consentID, subjectID     uuid.UUID
		consentType, status      string
		categories               []string
		evidence, reason, ipAddr sql.NullString
	)
	err := row.Scan(
		&consentID,
		&subjectID,
		&consentType,
		&status,
		&rec.GrantedAt,
		&rec.RevokedAt,
		&rec.ExpiresAt,
		&rec.Purpose,
		pq.Array(&categories),
		&rec.LegalBasis,
		&rec.ConsentText,
		&evidence,
		&reason,
		&ipAddr,
		&rec.UserAgent,
	)
	if err != nil {
		return nil, err
	}
	rec.ID = id.ConsentID(consentID)
	rec.SubjectID = id.RecordID(subjectID)
	rec.Type = id.ConsentType(consentType)
	rec.Status = models.Status(status)
	rec.DataCategories = categories
	rec.EvidenceRef = evidence.String
	rec.RevocationReason = reason.String
	rec.IPAddress = ipAddr.String
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
