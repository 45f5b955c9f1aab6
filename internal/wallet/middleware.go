package wallet

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"memorial-credits/internal/auth"
	"memorial-credits/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	receiptKey           = "credit_receipt"
)

// Spender is the minimal coordinator interface needed by middleware.
type Spender interface {
	SpendOneCredit(ctx context.Context, p Principal, actorID string, opts SpendOptions) (Receipt, error)
}

// PrincipalFromIdentity maps a verified token identity onto a spending principal.
func PrincipalFromIdentity(id auth.Identity) Principal {
	return Principal{Kind: PrincipalKind(id.PrincipalType), ID: id.PrincipalID, GroupID: id.GroupID}
}

// RequireCredit spends one credit before the wrapped handler runs. The handler
// only runs once the debit has committed; when nothing can fund it the request
// stops with 402 and no further effects.
//
// An Idempotency-Key header makes browser retries return the original charge.
func RequireCredit(s Spender) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := auth.IdentityFrom(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "principal required"})
			return
		}

		opts := SpendOptions{IdempotencyKey: strings.TrimSpace(c.GetHeader(headerIdempotencyKey))}
		rec, err := s.SpendOneCredit(c.Request.Context(), PrincipalFromIdentity(id), id.UserID, opts)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoCreditsAvailable):
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": ErrNoCreditsAvailable.Error()})
			return
		case errors.Is(err, ErrInvalidArgument):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid principal"})
			return
		case errors.Is(err, ErrDuplicateIdempotencyKey):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "idempotency key already used"})
			return
		default:
			logger.FromGin(c).Error("spend credit", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "spend failed"})
			return
		}

		c.Set(receiptKey, rec)
		c.Next()
	}
}

// ReceiptFrom returns the receipt stored by RequireCredit.
func ReceiptFrom(c *gin.Context) (Receipt, bool) {
	v, ok := c.Get(receiptKey)
	if !ok {
		return Receipt{}, false
	}
	rec, ok := v.(Receipt)
	return rec, ok
}
