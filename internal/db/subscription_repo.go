package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"subtrack/internal/types"
)

// SubscriptionRepository reads subscriptions joined with their owner. The
// reminder scheduler never writes subscriptions.
type SubscriptionRepository struct {
	db DBTX
}

// NewSubscriptionRepository creates a SubscriptionRepository on db.
func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subColumns = `s.id, s.user_id, s.name, s.price::float8, s.currency, s.frequency,
	COALESCE(s.category, ''), COALESCE(s.payment_method, ''), s.status,
	s.start_date, s.renewal_date, s.created_at, s.updated_at,
	u.id, u.name, u.email`

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var (
		sub       types.Subscription
		frequency string
		status    string
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.Name, &sub.Price, &sub.Currency, &frequency,
		&sub.Category, &sub.PaymentMethod, &status,
		&sub.StartDate, &sub.RenewalDate, &sub.CreatedAt, &sub.UpdatedAt,
		&sub.Owner.ID, &sub.Owner.Name, &sub.Owner.Email,
	)
	if err != nil {
		return nil, err
	}
	sub.Frequency = types.BillingFrequency(frequency)
	sub.Status = types.SubscriptionStatus(status)
	return &sub, nil
}

// GetSubscription returns the subscription with its owner's contact details.
func (r *SubscriptionRepository) GetSubscription(ctx context.Context, id string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subColumns+`
		 FROM subscriptions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.id = $1`,
		id,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve subscription", err)
	}
	return sub, nil
}

// ListRenewingBetween returns active subscriptions whose renewal date falls
// in [from, to] (calendar days, UTC), ordered by id after afterID.
func (r *SubscriptionRepository) ListRenewingBetween(ctx context.Context, from, to time.Time, afterID string, limit int) ([]*types.Subscription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+subColumns+`
		 FROM subscriptions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.status = 'active'
		   AND s.renewal_date BETWEEN $1::date AND $2::date
		   AND s.id > $3
		 ORDER BY s.id
		 LIMIT $4`,
		from.UTC(), to.UTC(), afterID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list renewing subscriptions", err)
	}
	defer rows.Close()

	var subs []*types.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscription", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed iterating subscriptions", err)
	}
	return subs, nil
}
