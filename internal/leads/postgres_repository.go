package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const leadColumns = `id, form_type, name, email, phone, message, business_type, language, website, preferred_time, ip_address, user_agent, created_at`

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	db pgxDB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

// NewPostgresRepositoryWithDB accepts any pgx-compatible querier.
func NewPostgresRepositoryWithDB(db pgxDB) *PostgresRepository {
	if db == nil {
		panic("leads: db required")
	}
	return &PostgresRepository{db: db}
}

// Create inserts a new row. The single INSERT ... RETURNING statement is
// the whole write, so a lead is either fully recorded or absent.
func (r *PostgresRepository) Create(ctx context.Context, in *CreateInput) (*Lead, error) {
	if err := in.check(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	query := `
		INSERT INTO leads (id, form_type, name, email, phone, message, business_type, language, website, preferred_time, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.db.QueryRow(ctx, query,
		id,
		string(in.FormType),
		in.Name,
		in.Email,
		in.Phone,
		in.Message,
		in.BusinessType,
		in.Language,
		in.Website,
		in.PreferredTime,
		in.IPAddress,
		in.UserAgent,
	).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("leads: insert failed: %w", err)
	}

	return in.lead(id, createdAt.UTC()), nil
}

// GetByID fetches a single lead.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	lead, err := scanLead(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return lead, nil
}

// List returns leads newest first.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Lead, error) {
	filter = filter.normalized()

	var (
		where []string
		args  []any
	)
	if filter.FormType != "" {
		args = append(args, string(filter.FormType))
		where = append(where, fmt.Sprintf("form_type = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + leadColumns + ` FROM leads`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	args = append(args, filter.Limit, filter.Offset)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("leads: list failed: %w", err)
	}
	defer rows.Close()

	out := []*Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("leads: scan failed: %w", err)
		}
		out = append(out, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: list failed: %w", err)
	}
	return out, nil
}

func scanLead(row pgx.Row) (*Lead, error) {
	var (
		lead     Lead
		formType string
	)
	if err := row.Scan(
		&lead.ID,
		&formType,
		&lead.Name,
		&lead.Email,
		&lead.Phone,
		&lead.Message,
		&lead.BusinessType,
		&lead.Language,
		&lead.Website,
		&lead.PreferredTime,
		&lead.IPAddress,
		&lead.UserAgent,
		&lead.CreatedAt,
	); err != nil {
		return nil, err
	}
	lead.FormType = FormType(formType)
	lead.CreatedAt = lead.CreatedAt.UTC()
	return &lead, nil
}
