package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stayspot/booking-engine/internal/domain"
	"github.com/stayspot/booking-engine/internal/observability"
)

const (
	SerializationFailureCode = "40001"
)

// Repository is the durable ledger: bookings, append-only escrow
// transactions and wallets. It implements domain.Ledger.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

const bookingColumns = `
	id, listing_id, user_id, group_id, date, duration, hours, booking_type,
	total_price, service_fee, caution_fee, guest_count, selected_add_ons,
	status, payment_status, escrow_release_date, transaction_ids,
	created_at, cancelled_at, cancelled_by, cancellation_reason`

// SaveBooking upserts the booking and enqueues its outbox events within one
// serializable transaction, so a change and its broadcast are durable
// together.
func (r *Repository) SaveBooking(ctx context.Context, b *domain.Booking, events ...domain.OutboxEvent) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO bookings (`+bookingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
			ON CONFLICT (id) DO UPDATE SET
				status = excluded.status,
				payment_status = excluded.payment_status,
				transaction_ids = excluded.transaction_ids,
				cancelled_at = excluded.cancelled_at,
				cancelled_by = excluded.cancelled_by,
				cancellation_reason = excluded.cancellation_reason
		`, b.ID, b.ListingID, b.UserID, b.GroupID, b.Date, b.Duration, intsToInt64(b.Hours), b.BookingType,
			b.TotalPrice, b.ServiceFee, b.CautionFee, b.GuestCount, b.SelectedAddOns,
			b.Status, b.PaymentStatus, b.EscrowReleaseDate, uuidsToStrings(b.TransactionIDs),
			b.CreatedAt, b.CancelledAt, b.CancelledBy, b.CancellationReason)
		if err != nil {
			return err
		}

		for _, ev := range events {
			if err := r.InsertOutbox(ctx, tx, OutboxRecord{
				ID:          uuid.New(),
				AggregateID: b.ID,
				EventType:   ev.Type,
				Payload:     ev.Payload,
				DedupeKey:   uuid.New().String(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Repository) ListBookingsByStatus(ctx context.Context, status domain.BookingStatus) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE status = $1 ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// AppendTransaction inserts an escrow transaction. Transactions are never
// updated or deleted.
func (r *Repository) AppendTransaction(ctx context.Context, t domain.EscrowTransaction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escrow_transactions (id, booking_id, kind, amount, created_at, note)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.BookingID, t.Kind, t.Amount, t.CreatedAt, t.Note)
	return err
}

func (r *Repository) TransactionsForBooking(ctx context.Context, bookingID string) ([]domain.EscrowTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, booking_id, kind, amount, created_at, note
		FROM escrow_transactions WHERE booking_id = $1 ORDER BY created_at ASC
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.EscrowTransaction
	for rows.Next() {
		var t domain.EscrowTransaction
		if err := rows.Scan(&t.ID, &t.BookingID, &t.Kind, &t.Amount, &t.CreatedAt, &t.Note); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *Repository) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	var w domain.Wallet
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, balance FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.UserID, &w.Balance)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreditWallet adds amount to the user's balance, creating the wallet row if
// it does not exist yet. Single atomic statement per entity key.
func (r *Repository) CreditWallet(ctx context.Context, userID uuid.UUID, amount float64) error {
	if amount < 0 {
		return errors.Wrapf(domain.ErrInvalidInput, "negative wallet credit %.2f", amount)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance + $2
	`, userID, amount)
	return err
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var hours []int64
	var txIDs []string
	err := row.Scan(&b.ID, &b.ListingID, &b.UserID, &b.GroupID, &b.Date, &b.Duration, &hours, &b.BookingType,
		&b.TotalPrice, &b.ServiceFee, &b.CautionFee, &b.GuestCount, &b.SelectedAddOns,
		&b.Status, &b.PaymentStatus, &b.EscrowReleaseDate, &txIDs,
		&b.CreatedAt, &b.CancelledAt, &b.CancelledBy, &b.CancellationReason)
	if err != nil {
		return nil, err
	}

	b.Hours = make([]int, 0, len(hours))
	for _, h := range hours {
		b.Hours = append(b.Hours, int(h))
	}
	for _, s := range txIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errors.Wrapf(err, "transaction id %q on booking %s", s, b.ID)
		}
		b.TransactionIDs = append(b.TransactionIDs, id)
	}
	return &b, nil
}

func intsToInt64(in []int) []int64 {
	out := make([]int64, 0, len(in))
	for _, v := range in {
		out = append(out, int64(v))
	}
	return out
}

func uuidsToStrings(in []uuid.UUID) []string {
	out := make([]string, 0, len(in))
	for _, id := range in {
		out = append(out, id.String())
	}
	return out
}
