package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"marketplace-auth/internal/models"
	"marketplace-auth/internal/repository"
)

//go:embed schema.sql
var Schema string

const (
	invitationsTable  = "admin_invitations"
	invitationColumns = "id, email, admin_type, token, status, invited_by, expires_at, created_at, accepted_at"

	uniqueViolation = "23505"
)

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type InvitationRepository struct {
	db DB
}

var _ repository.InvitationRepository = (*InvitationRepository)(nil)

func NewInvitationRepository(db DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

// Migrate applies Schema. Every statement is idempotent.
func (r *InvitationRepository) Migrate(ctx context.Context) error {
	const op = "postgres.Migrate"

	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *InvitationRepository) CreateInvitation(ctx context.Context, inv *models.AdminInvitation) error {
	const op = "postgres.CreateInvitation"

	if err := inv.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		invitationsTable, invitationColumns)

	_, err := r.db.Exec(ctx, query,
		inv.ID, inv.Email, inv.AdminType.String(), inv.Token, string(inv.Status),
		inv.InvitedBy, inv.ExpiresAt, inv.CreatedAt, inv.AcceptedAt,
	)
	if err != nil {
		if field, ok := conflictField(err); ok {
			return &repository.ConflictError{Field: field}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *InvitationRepository) GetInvitationByID(ctx context.Context, id string) (*models.AdminInvitation, error) {
	return r.getOne(ctx, "postgres.GetInvitationByID", "id = $1", id)
}

func (r *InvitationRepository) GetInvitationByToken(ctx context.Context, token string) (*models.AdminInvitation, error) {
	return r.getOne(ctx, "postgres.GetInvitationByToken", "token = $1", token)
}

func (r *InvitationRepository) GetPendingInvitationByEmail(ctx context.Context, email string) (*models.AdminInvitation, error) {
	return r.getOne(ctx, "postgres.GetPendingInvitationByEmail",
		"lower(email) = lower($1) AND status = 'pending'", email)
}

func (r *InvitationRepository) getOne(ctx context.Context, op, where string, arg any) (*models.AdminInvitation, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", invitationColumns, invitationsTable, where)

	inv, err := scanInvitation(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return inv, nil
}

func (r *InvitationRepository) ListInvitations(ctx context.Context, status models.InvitationStatus) ([]*models.AdminInvitation, error) {
	const op = "postgres.ListInvitations"

	query := fmt.Sprintf("SELECT %s FROM %s WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC",
		invitationColumns, invitationsTable)

	rows, err := r.db.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []*models.AdminInvitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s (rows): %w", op, err)
	}
	return out, nil
}

func (r *InvitationRepository) TransitionInvitation(ctx context.Context, id string, from, to models.InvitationStatus, at time.Time) error {
	const op = "postgres.TransitionInvitation"

	if !from.CanTransition(to) {
		return repository.ErrConditionFailed
	}

	query := fmt.Sprintf(`UPDATE %s SET status = $3,
        accepted_at = CASE WHEN $3 = 'accepted' THEN $4 ELSE accepted_at END,
        updated_at = $4
        WHERE id = $1 AND status = $2`, invitationsTable)

	tag, err := r.db.Exec(ctx, query, id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	existsQuery := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", invitationsTable)
	if err := r.db.QueryRow(ctx, existsQuery, id).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConditionFailed
}

func (r *InvitationRepository) HealthCheck(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanInvitation(row pgx.Row) (*models.AdminInvitation, error) {
	var (
		inv       models.AdminInvitation
		adminType string
		status    string
	)
	err := row.Scan(&inv.ID, &inv.Email, &adminType, &inv.Token, &status,
		&inv.InvitedBy, &inv.ExpiresAt, &inv.CreatedAt, &inv.AcceptedAt)
	if err != nil {
		return nil, err
	}

	t, err := models.ParseAdminType(adminType)
	if err != nil {
		return nil, err
	}
	inv.AdminType = t
	inv.Status = models.InvitationStatus(status)
	return &inv, nil
}

// conflictField maps a unique violation to the field that collided.
func conflictField(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return "", false
	}
	switch pgErr.ConstraintName {
	case "admin_invitations_pending_email_idx":
		return "email", true
	case "admin_invitations_token_key":
		return "token", true
	case "admin_invitations_pkey":
		return "id", true
	}
	return "invitation", true
}
