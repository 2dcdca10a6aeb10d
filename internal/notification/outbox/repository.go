// Package outbox persists deliveries that leave the process (emails) so they
// are sent at least once after the creating transaction commits.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qwork_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusEnqueued       Status = "enqueued"
	StatusProcessing     Status = "processing"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	errRepoNotConfigured        = "outbox repository not configured"
)

// Kinds and templates understood by the notification delivery handler.
const (
	KindEmail            = "email"
	TemplateNotification = "notification"
	TemplateCustom       = "custom"
)

// MaxAttempts bounds redelivery before a record is parked as failed.
const MaxAttempts = 5

type Record struct {
	ID            uuid.UUID
	NotificacaoID *uuid.UUID
	Kind          string
	Template      string
	Payload       json.RawMessage
	RunAt         time.Time
	Status        Status
	Attempts      int
}

type InsertParams struct {
	NotificacaoID *uuid.UUID
	Kind          string
	Template      string
	Payload       any
	RunAt         time.Time
	Status        Status // optional; defaults to pending
	LastError     *string
}

// Repository works on a pool or inside a caller's transaction.
type Repository struct {
	conn db.Conn
}

func New(conn db.Conn) *Repository {
	return &Repository{conn: conn}
}

const recordColumns = `id, notificacao_id, kind, template, payload, run_at, status, attempts`

func (r *Repository) Insert(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	if r == nil || r.conn == nil {
		return uuid.Nil, errors.New(errRepoNotConfigured)
	}
	return Insert(ctx, r.conn, p)
}

// Insert writes a record on q, so it commits with the caller's transaction.
func Insert(ctx context.Context, q db.Querier, p InsertParams) (uuid.UUID, error) {
	if p.Kind == "" {
		return uuid.Nil, fmt.Errorf("kind is required")
	}
	if p.Template == "" {
		return uuid.Nil, fmt.Errorf("template is required")
	}
	if p.RunAt.IsZero() {
		p.RunAt = time.Now().UTC()
	}
	status := p.Status
	if status == "" {
		status = StatusPending
	}

	payloadBytes, err := json.Marshal(p.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}

	var id uuid.UUID
	err = q.QueryRow(ctx,
		`INSERT INTO notificacoes_outbox (notificacao_id, kind, template, payload, run_at, status, last_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		p.NotificacaoID, p.Kind, p.Template, payloadBytes, p.RunAt, string(status), p.LastError,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Record, error) {
	if r == nil || r.conn == nil {
		return Record{}, errors.New(errRepoNotConfigured)
	}
	rec, err := scanRecord(r.conn.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM notificacoes_outbox WHERE id = $1`, id))
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ClaimPending moves up to limit due records to enqueued and returns them.
// Concurrent claimers never receive the same record.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Record, error) {
	if r == nil || r.conn == nil {
		return nil, errors.New(errRepoNotConfigured)
	}
	if limit < 1 {
		limit = 50
	}

	var results []Record
	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `WITH cte AS (
			SELECT id
			FROM notificacoes_outbox
			WHERE status = 'pending' AND run_at <= now()
			ORDER BY run_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE notificacoes_outbox o
		SET status = 'enqueued', updated_at = now()
		FROM cte
		WHERE o.id = cte.id
		RETURNING o.id, o.notificacao_id, o.kind, o.template, o.payload, o.run_at, o.status, o.attempts`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			results = append(results, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// MarkPending returns a record to the queue, delayed by backoff.
func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError *string, backoff time.Duration) error {
	if r == nil || r.conn == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.conn.Exec(ctx,
		`UPDATE notificacoes_outbox
		 SET status = 'pending', last_error = $2, run_at = now() + $3::interval, updated_at = now()
		 WHERE id = $1`,
		id, lastError, fmt.Sprintf("%d milliseconds", backoff.Milliseconds()),
	)
	return err
}

func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	if r == nil || r.conn == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.conn.Exec(ctx,
		`UPDATE notificacoes_outbox
		 SET status = 'processing', attempts = attempts + 1, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	return err
}

func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	if r == nil || r.conn == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.conn.Exec(ctx,
		`UPDATE notificacoes_outbox
		 SET status = 'succeeded', last_error = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	if r == nil || r.conn == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.conn.Exec(ctx,
		`UPDATE notificacoes_outbox
		 SET status = 'failed', last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
	return err
}

// Backoff is the redelivery delay after the given number of attempts.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 6 {
		attempts = 6
	}
	return time.Duration(1<<(attempts-1)) * 30 * time.Second
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var status string
	if err := row.Scan(&rec.ID, &rec.NotificacaoID, &rec.Kind, &rec.Template, &rec.Payload, &rec.RunAt, &status, &rec.Attempts); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}
