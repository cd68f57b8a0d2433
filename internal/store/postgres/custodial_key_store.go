package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hivewager/custodian/internal/domain"
)

// CustodialKeyStore implements domain.CustodialKeyStore using PostgreSQL.
// Rows hold only ciphertext; decryption happens in the vault, per signing
// request.
type CustodialKeyStore struct {
	pool *pgxpool.Pool
}

// NewCustodialKeyStore creates a new CustodialKeyStore backed by the given pool.
func NewCustodialKeyStore(pool *pgxpool.Pool) *CustodialKeyStore {
	return &CustodialKeyStore{pool: pool}
}

// Create inserts a custodial key record. A missing id is generated. Each user
// has at most one record; re-onboarding replaces the ciphertext.
func (s *CustodialKeyStore) Create(ctx context.Context, rec domain.CustodialKeyRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	const query = `
		INSERT INTO custodial_keys (id, user_id, account, encrypted_posting_key, iv, salt)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			account = EXCLUDED.account,
			encrypted_posting_key = EXCLUDED.encrypted_posting_key,
			iv = EXCLUDED.iv,
			salt = EXCLUDED.salt`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.UserID, rec.Account, rec.EncryptedPostingKey, rec.IV, rec.Salt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create custodial key for user %s: %w", rec.UserID, err)
	}
	return nil
}

// GetByUserID returns the custodial key record for a user.
func (s *CustodialKeyStore) GetByUserID(ctx context.Context, userID string) (domain.CustodialKeyRecord, error) {
	const query = `
		SELECT id, user_id, account, encrypted_posting_key, iv, COALESCE(salt, ''), created_at
		FROM custodial_keys WHERE user_id = $1`

	var rec domain.CustodialKeyRecord
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&rec.ID, &rec.UserID, &rec.Account,
		&rec.EncryptedPostingKey, &rec.IV, &rec.Salt, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CustodialKeyRecord{}, fmt.Errorf("postgres: custodial key for user %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CustodialKeyRecord{}, fmt.Errorf("postgres: get custodial key for user %s: %w", userID, err)
	}
	return rec, nil
}
