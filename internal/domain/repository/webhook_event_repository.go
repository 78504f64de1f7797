package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
)

// WebhookEventRepository persists the processed-event ledger. The unique
// event id is what makes redelivered provider events no-ops.
type WebhookEventRepository interface {
	// Record claims the event id. It reports false when the id was already
	// present, which marks the delivery as a replay.
	Record(ctx context.Context, tx *sql.Tx, event *model.WebhookEvent) (bool, error)
	SetOutcome(ctx context.Context, tx *sql.Tx, eventID, outcome string, orderID *string) error
	GetByID(ctx context.Context, eventID string) (*model.WebhookEvent, error)
}

type pgWebhookEventRepository struct {
	db *sql.DB
}

func NewPgWebhookEventRepository(db *sql.DB) WebhookEventRepository {
	return &pgWebhookEventRepository{db: db}
}

func (r *pgWebhookEventRepository) Record(ctx context.Context, tx *sql.Tx, event *model.WebhookEvent) (bool, error) {
	query := `INSERT INTO webhook_events (event_id, event_type, order_id, outcome, received_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (event_id) DO NOTHING`

	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, event.EventID, event.EventType, event.OrderID, event.Outcome, event.ReceivedAt)
	} else {
		res, err = r.db.ExecContext(ctx, query, event.EventID, event.EventType, event.OrderID, event.Outcome, event.ReceivedAt)
	}
	if err != nil {
		return false, fmt.Errorf("pgWebhookEventRepository.Record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgWebhookEventRepository.Record rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *pgWebhookEventRepository) SetOutcome(ctx context.Context, tx *sql.Tx, eventID, outcome string, orderID *string) error {
	query := `UPDATE webhook_events SET outcome = $2, order_id = COALESCE($3, order_id) WHERE event_id = $1`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, eventID, outcome, orderID)
	} else {
		_, err = r.db.ExecContext(ctx, query, eventID, outcome, orderID)
	}
	if err != nil {
		return fmt.Errorf("pgWebhookEventRepository.SetOutcome: %w", err)
	}
	return nil
}

func (r *pgWebhookEventRepository) GetByID(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	query := `SELECT event_id, event_type, order_id, outcome, received_at
	          FROM webhook_events WHERE event_id = $1`
	event := &model.WebhookEvent{}
	err := r.db.QueryRowContext(ctx, query, eventID).Scan(
		&event.EventID, &event.EventType, &event.OrderID, &event.Outcome, &event.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgWebhookEventRepository.GetByID: %w", err)
	}
	return event, nil
}
