package credit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wqooops/report-card-comments/internal/logger"
	"github.com/wqooops/report-card-comments/internal/model"
)

// Ledger tracks a user's spendable balance as a sequence of signed
// transactions. Consume is the only operation that needs true mutual
// exclusion; concurrent calls for the same user must never over-draw.
type Ledger interface {
	Consume(ctx context.Context, userID string, amount int, description string) error
	Balance(ctx context.Context, userID string) (int, error)
	Grant(ctx context.Context, userID string, grant model.CreditGrant) error
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

type sqlLedger struct {
	db             *sql.DB
	expirationDays int
	log            zerolog.Logger
}

// NewLedger builds the SQL-backed ledger. Grants without an explicit
// expiration date get one expirationDays from now; zero disables the
// default.
func NewLedger(db *sql.DB, expirationDays int) Ledger {
	return &sqlLedger{
		db:             db,
		expirationDays: expirationDays,
		log:            logger.Get(),
	}
}

// Consume checks the available balance and drains credit rows
// oldest-expiring-first inside one transaction. The FOR UPDATE lock on the
// user's spendable rows serializes concurrent consumers so the balance
// check and the decrement are a single atomic step.
func (l *sqlLedger) Consume(ctx context.Context, userID string, amount int, description string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	query := `SELECT id, remaining_amount FROM credit_transactions
			  WHERE user_id = ? AND remaining_amount > 0
				AND (expiration_date IS NULL OR expiration_date > ?)
			  ORDER BY expiration_date IS NULL, expiration_date, created_at
			  FOR UPDATE`

	rows, err := tx.QueryContext(ctx, query, userID, now)
	if err != nil {
		return err
	}

	var buckets []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.ID, &b.Remaining); err != nil {
			rows.Close()
			return err
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	allocations, err := Drain(buckets, amount)
	if err != nil {
		return err
	}

	for _, a := range allocations {
		_, err := tx.ExecContext(ctx,
			`UPDATE credit_transactions SET remaining_amount = ?, updated_at = NOW() WHERE id = ?`,
			a.NewRemaining, a.ID)
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, user_id, type, amount, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, NOW(), NOW())`,
		uuid.NewString(), userID, model.CreditTypeUsage, -amount, description)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	l.log.Debug().
		Str("user_id", userID).
		Int("amount", amount).
		Msg("Credits consumed")

	return nil
}

func (l *sqlLedger) Balance(ctx context.Context, userID string) (int, error) {
	query := `SELECT COALESCE(SUM(remaining_amount), 0) FROM credit_transactions
			  WHERE user_id = ? AND remaining_amount > 0
				AND (expiration_date IS NULL OR expiration_date > ?)`

	var balance int
	err := l.db.QueryRowContext(ctx, query, userID, time.Now().UTC()).Scan(&balance)
	if err != nil {
		return 0, err
	}

	return balance, nil
}

func (l *sqlLedger) Grant(ctx context.Context, userID string, grant model.CreditGrant) error {
	if grant.ExpirationDate == nil && l.expirationDays > 0 {
		exp := time.Now().UTC().Add(time.Duration(l.expirationDays) * 24 * time.Hour)
		grant.ExpirationDate = &exp
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO credit_transactions
			(id, user_id, type, amount, remaining_amount, description, payment_id, expiration_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())`,
		uuid.NewString(), userID, grant.Type, grant.Amount, grant.Amount,
		grant.Description, grant.PaymentID, grant.ExpirationDate)
	if err != nil {
		return err
	}

	l.log.Info().
		Str("user_id", userID).
		Str("type", string(grant.Type)).
		Int("amount", grant.Amount).
		Msg("Credits granted")

	return nil
}

// ExpireDue zeroes every credit row whose expiration has passed and records
// a matching expire transaction. Rows are locked so a concurrent Consume
// cannot spend credits that are being expired. Returns the number of rows
// processed.
func (l *sqlLedger) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	query := `SELECT id, user_id, remaining_amount FROM credit_transactions
			  WHERE expiration_date IS NOT NULL AND expiration_date <= ?
				AND remaining_amount > 0 AND expiration_date_processed_at IS NULL
			  FOR UPDATE`

	rows, err := tx.QueryContext(ctx, query, now)
	if err != nil {
		return 0, err
	}

	type expiring struct {
		id        string
		userID    string
		remaining int
	}
	var due []expiring
	for rows.Next() {
		var e expiring
		if err := rows.Scan(&e.id, &e.userID, &e.remaining); err != nil {
			rows.Close()
			return 0, err
		}
		due = append(due, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, e := range due {
		_, err := tx.ExecContext(ctx,
			`UPDATE credit_transactions
			 SET remaining_amount = 0, expiration_date_processed_at = ?, updated_at = NOW()
			 WHERE id = ?`,
			now, e.id)
		if err != nil {
			return 0, err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO credit_transactions (id, user_id, type, amount, description, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, NOW(), NOW())`,
			uuid.NewString(), e.userID, model.CreditTypeExpire, -e.remaining, "Credits expired")
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if len(due) > 0 {
		l.log.Info().Int("count", len(due)).Msg("Expired credit transactions processed")
	}

	return len(due), nil
}
