package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/power-dialer/internal/domain"
	"github.com/acme/power-dialer/internal/repository"
)

// ContactRepository implements repository.ContactRepository using PostgreSQL.
type ContactRepository struct {
	db *sqlx.DB
}

// NewContactRepository constructs the repository.
func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// CreateList inserts a list and its contacts in one transaction. Contacts keep
// the order they are given in.
func (r *ContactRepository) CreateList(ctx context.Context, list repository.ContactList, contacts []domain.Contact) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO contact_lists (id, name, created_at)
			VALUES (:id, :name, :created_at)`, map[string]any{
			"id":         list.ID,
			"name":       list.Name,
			"created_at": list.CreatedAt,
		}); err != nil {
			return fmt.Errorf("contact repo: insert list: %w", err)
		}
		if len(contacts) == 0 {
			return nil
		}

		rows := make([]map[string]any, 0, len(contacts))
		for i, c := range contacts {
			phones, err := json.Marshal(c.Phones)
			if err != nil {
				return fmt.Errorf("contact repo: marshal phones: %w", err)
			}
			props, err := json.Marshal(c.Properties)
			if err != nil {
				return fmt.Errorf("contact repo: marshal properties: %w", err)
			}
			rows = append(rows, map[string]any{
				"id":                c.ID,
				"list_id":           list.ID,
				"position":          i,
				"name":              c.Name,
				"phones":            phones,
				"organization":      c.Organization,
				"properties":        props,
				"dial_attempts":     c.DialAttempts,
				"last_attempted_at": c.LastAttemptedAt,
				"created_at":        list.CreatedAt,
			})
		}

		if _, err := tx.NamedExecContext(ctx, `INSERT INTO contacts (
			id, list_id, position, name, phones, organization, properties, dial_attempts, last_attempted_at, created_at
		) VALUES (:id, :list_id, :position, :name, :phones, :organization, :properties, :dial_attempts, :last_attempted_at, :created_at)
		ON CONFLICT (id) DO NOTHING`, rows); err != nil {
			return fmt.Errorf("contact repo: bulk insert contacts: %w", err)
		}
		return nil
	})
}

// GetList fetches list metadata with its contact count.
func (r *ContactRepository) GetList(ctx context.Context, id uuid.UUID) (*repository.ContactList, error) {
	var rec listRecord
	err := r.db.GetContext(ctx, &rec, `SELECT l.id, l.name, l.created_at, COUNT(c.id) AS size
		FROM contact_lists l
		LEFT JOIN contacts c ON c.list_id = l.id
		WHERE l.id = $1
		GROUP BY l.id, l.name, l.created_at`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: contact list %s", repository.ErrNotFound, id)
		}
		return nil, fmt.Errorf("contact repo: get list: %w", err)
	}
	return &repository.ContactList{ID: rec.ID, Name: rec.Name, Size: rec.Size, CreatedAt: rec.CreatedAt}, nil
}

// FetchPendingContacts returns up to limit contacts of the list in list order.
func (r *ContactRepository) FetchPendingContacts(ctx context.Context, listID uuid.UUID, limit int) ([]domain.Contact, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT id, name, phones, organization, properties, dial_attempts, last_attempted_at
		FROM contacts
		WHERE list_id = $1
		ORDER BY position ASC
		LIMIT $2`, listID, limit)
	if err != nil {
		return nil, fmt.Errorf("contact repo: select pending: %w", err)
	}
	defer rows.Close()

	var results []domain.Contact
	for rows.Next() {
		var rec contactRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("contact repo: scan: %w", err)
		}
		results = append(results, rec.toModel())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contact repo: rows err: %w", err)
	}
	return results, nil
}

// MarkAttempt increments the attempt counter and stamps the attempt time.
func (r *ContactRepository) MarkAttempt(ctx context.Context, contactID uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE contacts
		SET dial_attempts = dial_attempts + 1, last_attempted_at = $1
		WHERE id = $2`, at, contactID)
	if err != nil {
		return fmt.Errorf("contact repo: mark attempt: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: contact %s", repository.ErrNotFound, contactID)
	}
	return nil
}

// inTx runs fn in a transaction. The deferred rollback is a no-op once the
// commit has succeeded.
func (r *ContactRepository) inTx(ctx context.Context, fn func(*sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("contact repo: begin: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("contact repo: rollback: %w", rbErr))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("contact repo: commit: %w", err)
	}
	return nil
}

type listRecord struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	Size      int       `db:"size"`
}

type contactRecord struct {
	ID              uuid.UUID    `db:"id"`
	Name            string       `db:"name"`
	Phones          []byte       `db:"phones"`
	Organization    string       `db:"organization"`
	Properties      []byte       `db:"properties"`
	DialAttempts    int          `db:"dial_attempts"`
	LastAttemptedAt sql.NullTime `db:"last_attempted_at"`
}

func (r contactRecord) toModel() domain.Contact {
	c := domain.Contact{
		ID:           r.ID,
		Name:         r.Name,
		Organization: r.Organization,
		DialAttempts: r.DialAttempts,
	}
	_ = json.Unmarshal(r.Phones, &c.Phones)
	_ = json.Unmarshal(r.Properties, &c.Properties)
	if r.LastAttemptedAt.Valid {
		t := r.LastAttemptedAt.Time
		c.LastAttemptedAt = &t
	}
	return c
}
