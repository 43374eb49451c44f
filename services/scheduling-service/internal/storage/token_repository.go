package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mentorgrid/mentorgrid/libs/db"
)

// TokenRepository enforces single-use semantics for signed action tokens.
// A token's jti may be recorded exactly once; a duplicate insert means the
// token was already spent.
type TokenRepository struct {
	pool *db.Pool
}

func NewTokenRepository(pool *db.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// Consume records the jti inside the caller's transaction. It returns false
// when the token was used before. Rolling back the transaction releases the
// jti again, so a failed transition does not burn the token.
func (r *TokenRepository) Consume(ctx context.Context, tx pgx.Tx, jti, appointmentID, action string) (bool, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO action_token_uses (jti, appointment_id, action)
		VALUES ($1, $2, $3)
	`, jti, appointmentID, action)
	if err == nil {
		return true, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, err
}
