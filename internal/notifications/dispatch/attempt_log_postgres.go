package dispatch

import (
	"context"
	"database/sql"
	"fmt"

	"service-notifications/internal/models"
)

const (
	// DO NOTHING without a conflict target covers both unique indexes.
	insertAttemptQuery = `
		INSERT INTO dispatch_attempts
			(id, event_id, correlation_id, customer_id, channel, attempt_number, status, error_code, error_detail, retryable, provider_message_id, body_preview, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING`

	hasSentQuery = `
		SELECT EXISTS (SELECT 1 FROM dispatch_attempts WHERE event_id = $1 AND status = 'sent')`

	hasOutcomeQuery = `
		SELECT EXISTS (
			SELECT 1 FROM dispatch_attempts
			WHERE event_id = $1 AND channel = $2 AND attempt_number = $3 AND status IN ('sent', 'failed'))`

	historyQuery = `
		SELECT id, event_id, correlation_id, customer_id, channel, attempt_number, status, error_code, error_detail, retryable, provider_message_id, body_preview, created_at
		FROM dispatch_attempts
		WHERE event_id = $1
		ORDER BY created_at, attempt_number`
)

// PostgresAttemptLog stores attempts in the dispatch_attempts table created by
// store.Migrate.
type PostgresAttemptLog struct {
	db *sql.DB
}

func NewPostgresAttemptLog(db *sql.DB) *PostgresAttemptLog {
	return &PostgresAttemptLog{db: db}
}

func (l *PostgresAttemptLog) Append(ctx context.Context, a models.DispatchAttempt) (bool, error) {
	res, err := l.db.ExecContext(ctx, insertAttemptQuery,
		a.ID, a.EventID, a.CorrelationID, a.CustomerID, string(a.Channel), a.AttemptNumber,
		string(a.Status), a.ErrorCode, a.ErrorDetail, a.Retryable, a.ProviderMessageID, a.BodyPreview, a.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("append attempt %s/%s#%d: %w", a.EventID, a.Channel, a.AttemptNumber, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append attempt rows affected: %w", err)
	}
	return n == 1, nil
}

func (l *PostgresAttemptLog) HasSent(ctx context.Context, eventID string) (bool, error) {
	var ok bool
	if err := l.db.QueryRowContext(ctx, hasSentQuery, eventID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check sent %s: %w", eventID, err)
	}
	return ok, nil
}

func (l *PostgresAttemptLog) HasOutcome(ctx context.Context, eventID string, channel models.Channel, attemptNumber int) (bool, error) {
	var ok bool
	if err := l.db.QueryRowContext(ctx, hasOutcomeQuery, eventID, string(channel), attemptNumber).Scan(&ok); err != nil {
		return false, fmt.Errorf("check outcome %s/%s#%d: %w", eventID, channel, attemptNumber, err)
	}
	return ok, nil
}

func (l *PostgresAttemptLog) History(ctx context.Context, eventID string) ([]models.DispatchAttempt, error) {
	rows, err := l.db.QueryContext(ctx, historyQuery, eventID)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", eventID, err)
	}
	defer rows.Close()

	var out []models.DispatchAttempt
	for rows.Next() {
		var (
			a       models.DispatchAttempt
			channel string
			status  string
		)
		if err := rows.Scan(&a.ID, &a.EventID, &a.CorrelationID, &a.CustomerID, &channel, &a.AttemptNumber,
			&status, &a.ErrorCode, &a.ErrorDetail, &a.Retryable, &a.ProviderMessageID, &a.BodyPreview, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Channel = models.Channel(channel)
		a.Status = models.AttemptStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}
