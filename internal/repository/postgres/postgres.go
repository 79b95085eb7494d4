package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/identity-service/internal/repository"
)

// pgExecutor is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	constraintEmail             = "accounts_email_key"
	constraintUsername          = "accounts_username_key"
	constraintGoogleID          = "accounts_google_id_key"
	constraintGitHubID          = "accounts_github_id_key"
	constraintVerificationToken = "accounts_verification_token_key"
	constraintResetToken        = "accounts_reset_token_key"
)

// translateError maps driver errors onto repository sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return err
	}

	switch pgErr.ConstraintName {
	case constraintEmail:
		return repository.ErrDuplicateEmail
	case constraintUsername:
		return repository.ErrDuplicateUsername
	case constraintGoogleID, constraintGitHubID:
		return repository.ErrDuplicateProvider
	case constraintVerificationToken, constraintResetToken:
		return repository.ErrDuplicateToken
	default:
		return repository.ErrDuplicate
	}
}
