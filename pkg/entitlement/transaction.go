package entitlement

import "time"

// Product is a purchasable plan as reported by the purchase platform.
type Product struct {
	ID           string `json:"id"`
	DisplayPrice string `json:"display_price"`
}

// Transaction is a purchase record issued by the purchase platform.
type Transaction struct {
	// ID identifies this transaction. Renewals get a new ID.
	ID string `json:"id"`
	// OriginalID links renewals back to the first purchase.
	OriginalID  string     `json:"original_id,omitempty"`
	ProductID   string     `json:"product_id"`
	PurchasedAt time.Time  `json:"purchased_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// Expiry returns the expiration time, or the zero time when the platform
// reported none.
func (t Transaction) Expiry() time.Time {
	if t.ExpiresAt == nil {
		return time.Time{}
	}
	return *t.ExpiresAt
}

// Revoked reports whether the platform revoked the transaction.
func (t Transaction) Revoked() bool {
	return t.RevokedAt != nil
}

// TransactionResult pairs a transaction with the platform's verification verdict.
type TransactionResult struct {
	Transaction Transaction `json:"transaction"`
	Verified    bool        `json:"verified"`
	// VerificationError explains why an unverified result failed verification.
	VerificationError string `json:"verification_error,omitempty"`
}

// Verified wraps a transaction that passed platform verification.
func Verified(tx Transaction) TransactionResult {
	return TransactionResult{Transaction: tx, Verified: true}
}

// Unverified wraps a transaction that failed platform verification.
func Unverified(tx Transaction, reason string) TransactionResult {
	return TransactionResult{Transaction: tx, VerificationError: reason}
}

// LaterExpiry reports whether a expires after b. A zero expiry (no expiration)
// is later than any concrete time.
func LaterExpiry(a, b time.Time) bool {
	switch {
	case a.IsZero():
		return !b.IsZero()
	case b.IsZero():
		return false
	default:
		return a.After(b)
	}
}
