package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/repository"
)

const accountsTable = "accounts"

var accountColumns = []string{
	"id",
	"email",
	"username",
	"password_hash",
	"first_name",
	"last_name",
	"avatar_url",
	"provider",
	"google_id",
	"github_id",
	"is_verified",
	"is_pro",
	"verification_token_hash",
	"verification_expires_at",
	"reset_token_hash",
	"reset_expires_at",
	"created_at",
	"updated_at",
}

var _ port.AccountRepository = (*AccountRepository)(nil)

// AccountRepository implements port.AccountRepository using PostgreSQL.
type AccountRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewAccountRepository wires a PostgreSQL-backed account repository.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	return &AccountRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     time.Now,
	}
}

// WithClock overrides the time source used for updated_at stamps.
func (r *AccountRepository) WithClock(now func() time.Time) *AccountRepository {
	if now != nil {
		r.now = now
	}
	return r
}

// Create inserts a new account row and returns it as stored.
func (r *AccountRepository) Create(ctx context.Context, account domain.NewAccount) (*domain.Account, error) {
	var googleID, githubID *string
	switch account.Provider {
	case domain.ProviderGoogle:
		googleID = account.ProviderID
	case domain.ProviderGitHub:
		githubID = account.ProviderID
	}

	stmt, args, err := r.builder.Insert(accountsTable).
		Columns(
			"id",
			"email",
			"username",
			"password_hash",
			"first_name",
			"last_name",
			"avatar_url",
			"provider",
			"google_id",
			"github_id",
			"is_verified",
			"verification_token_hash",
			"verification_expires_at",
			"created_at",
			"updated_at",
		).
		Values(
			account.ID,
			domain.NormalizeEmail(account.Email),
			account.Username,
			account.PasswordHash,
			account.FirstName,
			account.LastName,
			account.AvatarURL,
			string(account.Provider),
			googleID,
			githubID,
			account.IsVerified,
			account.VerificationTokenHash,
			account.VerificationExpiresAt,
			account.CreatedAt,
			account.CreatedAt,
		).
		Suffix(returningAccount()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert account sql: %w", err)
	}

	created, err := scanAccount(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", translateError(err))
	}
	return created, nil
}

// GetByID retrieves an account by identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByEmail retrieves an account by case-insensitive email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Expr("lower(email) = ?", domain.NormalizeEmail(email)))
}

// GetByUsername retrieves an account by case-insensitive username.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Expr("lower(username) = lower(?)", username))
}

// GetByProvider retrieves the account bound to the provider subject.
func (r *AccountRepository) GetByProvider(ctx context.Context, provider domain.Provider, providerID string) (*domain.Account, error) {
	column, err := providerColumn(provider)
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, squirrel.Eq{column: providerID})
}

// GetByVerificationToken retrieves the account holding an unexpired verification token.
func (r *AccountRepository) GetByVerificationToken(ctx context.Context, tokenHash string, now time.Time) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.And{
		squirrel.Eq{"verification_token_hash": tokenHash},
		squirrel.Gt{"verification_expires_at": now},
	})
}

// GetByResetToken retrieves the account holding an unexpired reset token.
func (r *AccountRepository) GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.And{
		squirrel.Eq{"reset_token_hash": tokenHash},
		squirrel.Gt{"reset_expires_at": now},
	})
}

// LinkProvider binds the provider subject to the account, marks it verified and
// clears any pending verification token.
// The binding is only written when the account has no subject for that provider yet
// or already holds the same one.
func (r *AccountRepository) LinkProvider(ctx context.Context, id string, provider domain.Provider, providerID string) (*domain.Account, error) {
	column, err := providerColumn(provider)
	if err != nil {
		return nil, err
	}

	stmt, args, err := r.builder.Update(accountsTable).
		Set(column, providerID).
		Set("is_verified", true).
		Set("verification_token_hash", nil).
		Set("verification_expires_at", nil).
		Set("updated_at", r.now().UTC()).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Or{
			squirrel.Eq{column: nil},
			squirrel.Eq{column: providerID},
		}).
		Suffix(returningAccount()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build link provider sql: %w", err)
	}

	linked, err := scanAccount(r.exec.QueryRow(ctx, stmt, args...))
	if err == nil {
		return linked, nil
	}
	err = translateError(err)
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("link provider: %w", err)
	}

	if _, lookupErr := r.GetByID(ctx, id); lookupErr == nil {
		return nil, repository.ErrProviderAlreadyLinked
	}
	return nil, repository.ErrNotFound
}

// SetVerificationToken replaces any pending verification token for the account.
func (r *AccountRepository) SetVerificationToken(ctx context.Context, id string, tokenHash string, expiresAt time.Time) error {
	return r.updateByID(ctx, id, map[string]any{
		"verification_token_hash": tokenHash,
		"verification_expires_at": expiresAt,
	})
}

// SetResetToken replaces any pending reset token for the account.
func (r *AccountRepository) SetResetToken(ctx context.Context, id string, tokenHash string, expiresAt time.Time) error {
	return r.updateByID(ctx, id, map[string]any{
		"reset_token_hash": tokenHash,
		"reset_expires_at": expiresAt,
	})
}

// UpdatePasswordHash replaces the stored password digest.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error {
	return r.updateByID(ctx, id, map[string]any{
		"password_hash": passwordHash,
	})
}

// ConsumeVerificationToken marks the holder of an unexpired token verified and clears the token.
func (r *AccountRepository) ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (*domain.Account, error) {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("is_verified", true).
		Set("verification_token_hash", nil).
		Set("verification_expires_at", nil).
		Set("updated_at", now.UTC()).
		Where(squirrel.Eq{"verification_token_hash": tokenHash}).
		Where(squirrel.Gt{"verification_expires_at": now}).
		Suffix(returningAccount()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build consume verification sql: %w", err)
	}

	account, err := scanAccount(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, translateError(err)
	}
	return account, nil
}

// ConsumeResetToken swaps in passwordHash for the holder of an unexpired reset token and clears the token.
func (r *AccountRepository) ConsumeResetToken(ctx context.Context, tokenHash string, passwordHash string, now time.Time) (*domain.Account, error) {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("password_hash", passwordHash).
		Set("reset_token_hash", nil).
		Set("reset_expires_at", nil).
		Set("updated_at", now.UTC()).
		Where(squirrel.Eq{"reset_token_hash": tokenHash}).
		Where(squirrel.Gt{"reset_expires_at": now}).
		Suffix(returningAccount()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build consume reset sql: %w", err)
	}

	account, err := scanAccount(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, translateError(err)
	}
	return account, nil
}

func (r *AccountRepository) updateByID(ctx context.Context, id string, values map[string]any) error {
	values["updated_at"] = r.now().UTC()

	stmt, args, err := r.builder.Update(accountsTable).
		SetMap(values).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update account sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update account: %w", translateError(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) getOne(ctx context.Context, where squirrel.Sqlizer) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From(accountsTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	account, err := scanAccount(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, translateError(err)
	}
	return account, nil
}

func providerColumn(provider domain.Provider) (string, error) {
	switch provider {
	case domain.ProviderGoogle:
		return "google_id", nil
	case domain.ProviderGitHub:
		return "github_id", nil
	default:
		return "", fmt.Errorf("unsupported provider %q", provider)
	}
}

func returningAccount() string {
	return "RETURNING " + strings.Join(accountColumns, ", ")
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account  domain.Account
		provider string
	)
	if err := row.Scan(
		&account.ID,
		&account.Email,
		&account.Username,
		&account.PasswordHash,
		&account.FirstName,
		&account.LastName,
		&account.AvatarURL,
		&provider,
		&account.GoogleID,
		&account.GitHubID,
		&account.IsVerified,
		&account.IsPro,
		&account.VerificationTokenHash,
		&account.VerificationExpiresAt,
		&account.ResetTokenHash,
		&account.ResetExpiresAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}
	account.Provider = domain.Provider(provider)
	return &account, nil
}
