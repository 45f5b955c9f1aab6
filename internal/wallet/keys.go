package wallet

import "strconv"

// Journal idempotency keys share one unique index, so every source writes under
// its own prefix. A caller-supplied key can then never match an entry written
// by another source or another principal.
const (
	keyPrefixPayment  = "payment:"
	keyPrefixSpend    = "spend:"
	keyPrefixGrant    = "grant:"
	keyPrefixTransfer = "transfer:"
)

// PaymentKey is the journal key of the credit for an external payment.
func PaymentKey(externalPaymentID string) string {
	return keyPrefixPayment + externalPaymentID
}

// spendKey scopes a client key to the principal. The id is length-prefixed so
// ids and keys containing ':' cannot be re-split into another principal's key.
func spendKey(p Principal, key string) string {
	if key == "" {
		return ""
	}
	return keyPrefixSpend + string(p.Kind) + ":" + strconv.Itoa(len(p.ID)) + ":" + p.ID + ":" + key
}

func grantKey(key string) string {
	if key == "" {
		return ""
	}
	return keyPrefixGrant + key
}

// Both transfer legs are journaled; the suffix tells them apart.
func transferOutKey(key string) string {
	if key == "" {
		return ""
	}
	return keyPrefixTransfer + key + ":out"
}

func transferInKey(key string) string {
	if key == "" {
		return ""
	}
	return keyPrefixTransfer + key + ":in"
}
