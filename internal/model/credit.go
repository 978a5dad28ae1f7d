package model

import "time"

type CreditTransactionType string

const (
	CreditTypeMonthlyRefresh      CreditTransactionType = "monthly_refresh"
	CreditTypeRegisterGift        CreditTransactionType = "register_gift"
	CreditTypePurchasePackage     CreditTransactionType = "purchase_package"
	CreditTypeUsage               CreditTransactionType = "usage"
	CreditTypeExpire              CreditTransactionType = "expire"
	CreditTypeSubscriptionRenewal CreditTransactionType = "subscription_renewal"
	CreditTypeLifetimeMonthly     CreditTransactionType = "lifetime_monthly"
)

// IsCredit reports whether transactions of this type add spendable credits.
// Usage and expire rows only record consumption.
func (t CreditTransactionType) IsCredit() bool {
	return t != CreditTypeUsage && t != CreditTypeExpire
}

// CreditTransaction is one immutable ledger entry. Credit rows carry a
// RemainingAmount that later usage drains oldest-expiring-first; debit rows
// (usage, expire) have a negative Amount and no remaining balance.
type CreditTransaction struct {
	ID                        string                `json:"id" db:"id"`
	UserID                    string                `json:"user_id" db:"user_id"`
	Type                      CreditTransactionType `json:"type" db:"type"`
	Amount                    int                   `json:"amount" db:"amount"`
	RemainingAmount           *int                  `json:"remaining_amount,omitempty" db:"remaining_amount"`
	Description               string                `json:"description" db:"description"`
	PaymentID                 *string               `json:"payment_id,omitempty" db:"payment_id"`
	ExpirationDate            *time.Time            `json:"expiration_date,omitempty" db:"expiration_date"`
	ExpirationDateProcessedAt *time.Time            `json:"expiration_date_processed_at,omitempty" db:"expiration_date_processed_at"`
	CreatedAt                 time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt                 time.Time             `json:"updated_at" db:"updated_at"`
}

// CreditGrant describes a credit row to insert.
type CreditGrant struct {
	Type           CreditTransactionType
	Amount         int
	Description    string
	PaymentID      *string
	ExpirationDate *time.Time
}
