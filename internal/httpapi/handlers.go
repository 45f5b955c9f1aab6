package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"memorial-credits/internal/auth"
	"memorial-credits/internal/payments"
	"memorial-credits/internal/pricing"
	"memorial-credits/internal/reconcile"
	"memorial-credits/internal/reporting"
	"memorial-credits/internal/wallet"
	"memorial-credits/pkg/logger"

	"github.com/gin-gonic/gin"
)

const headerWebhookToken = "X-Webhook-Token"

type WalletService interface {
	Balances(ctx context.Context, p wallet.Principal) ([]wallet.Wallet, error)
	Grant(ctx context.Context, req wallet.GrantRequest) (wallet.CreditResult, error)
	Transfer(ctx context.Context, req wallet.TransferRequest) (wallet.TransferResult, error)
}

type PaymentApplier interface {
	ApplyPayment(ctx context.Context, ev payments.PaymentEvent) (payments.Result, error)
}

type OrphanReader interface {
	Record(ctx context.Context, identity string) (payments.OrphanRecord, bool, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, identity string) (int64, error)
	Sweep(ctx context.Context) (reconcile.SweepResult, error)
}

type StatementService interface {
	Statement(ctx context.Context, req reporting.StatementRequest) (reporting.Statement, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Wallet     WalletService
	Payments   PaymentApplier
	Orphans    OrphanReader
	Reconciler Reconciler
	Statements StatementService

	// WebhookToken is compared against X-Webhook-Token. Empty disables the check.
	WebhookToken string
}

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Gateway webhook ---

// PaymentWebhook applies a gateway notification. Anything the gateway could
// fix by redelivering gets a 5xx; a payload that can never succeed gets 400.
func (h Handlers) PaymentWebhook(c *gin.Context) {
	if h.WebhookToken != "" {
		got := c.GetHeader(headerWebhookToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.WebhookToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
			return
		}
	}

	var ev payments.PaymentEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Payments.ApplyPayment(c.Request.Context(), ev)
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrInvalidEvent), errors.Is(err, pricing.ErrUnknownProduct):
		logger.FromGin(c).Warn("payment rejected", "external_payment_id", ev.ExternalPaymentID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		logger.FromGin(c).Error("payment processing failed", "external_payment_id", ev.ExternalPaymentID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "processing failed, retry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": res.Outcome, "credits": res.Credits, "replayed": res.Replayed})
}

// --- Credits ---

// Balance lists the caller's candidate wallets in the order a spend would try them.
func (h Handlers) Balance(c *gin.Context) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "principal required"})
		return
	}
	ws, err := h.Wallet.Balances(c.Request.Context(), wallet.PrincipalFromIdentity(id))
	if err != nil {
		h.walletError(c, err)
		return
	}
	var total int64
	for _, w := range ws {
		total += w.Balance
	}
	c.JSON(http.StatusOK, gin.H{"wallets": ws, "total": total})
}

// Spend runs behind wallet.RequireCredit and reports which wallet paid.
func (h Handlers) Spend(c *gin.Context) {
	rec, ok := wallet.ReceiptFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "credit not charged"})
		return
	}
	status := http.StatusCreated
	if rec.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, rec)
}

// --- Admin ---

func (h Handlers) AdminGrant(c *gin.Context) {
	var req wallet.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.ActorID, req.ActorRole = actor(c)

	res, err := h.Wallet.Grant(c.Request.Context(), req)
	if err != nil {
		h.walletError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) AdminTransfer(c *gin.Context) {
	var req wallet.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.ActorID, req.ActorRole = actor(c)

	res, err := h.Wallet.Transfer(c.Request.Context(), req)
	if err != nil {
		h.walletError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Statement accepts optional RFC 3339 from/to query parameters.
func (h Handlers) Statement(c *gin.Context) {
	ot, err := wallet.ParseOwnerType(c.Param("owner_type"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown owner_type"})
		return
	}
	var rng reporting.TimeRange
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &rng.From}, {"to", &rng.To}} {
		v := strings.TrimSpace(c.Query(p.name))
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": p.name + " must be RFC 3339"})
			return
		}
		*p.dst = t
	}

	st, err := h.Statements.Statement(c.Request.Context(), reporting.StatementRequest{
		Owner: wallet.Owner{Type: ot, ID: c.Param("owner_id")},
		Range: rng,
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.walletError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h Handlers) AdminOrphans(c *gin.Context) {
	identity := payments.NormalizeIdentity(c.Param("identity"))
	rec, ok, err := h.Orphans.Record(c.Request.Context(), identity)
	if err != nil {
		logger.FromGin(c).Error("orphan lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "orphan lookup failed"})
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no parked payments"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

type reconcileRequest struct {
	PayerIdentity string `json:"payer_identity"`
}

// Reconcile is the account-registration hook: called once a new account
// exists so payments parked under its identity are credited.
func (h Handlers) Reconcile(c *gin.Context) {
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PayerIdentity) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "payer_identity required"})
		return
	}
	credits, err := h.Reconciler.Reconcile(c.Request.Context(), req.PayerIdentity)
	if err != nil {
		logger.FromGin(c).Error("reconcile failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed", "credits": credits})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payer_identity": payments.NormalizeIdentity(req.PayerIdentity), "credits": credits})
}

func (h Handlers) Sweep(c *gin.Context) {
	res, err := h.Reconciler.Sweep(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("sweep failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func actor(c *gin.Context) (id, role string) {
	id, _ = auth.UserID(c.Request.Context())
	role, _ = auth.Role(c.Request.Context())
	return id, role
}

func (h Handlers) walletError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, wallet.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, wallet.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
	case errors.Is(err, wallet.ErrInsufficientBalance):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, wallet.ErrDuplicateIdempotencyKey):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "idempotency key already used"})
	default:
		logger.FromGin(c).Error("wallet operation failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
