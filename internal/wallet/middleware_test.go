package wallet

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"memorial-credits/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSpender struct{ mock.Mock }

func (m *mockSpender) SpendOneCredit(ctx context.Context, p Principal, actorID string, opts SpendOptions) (Receipt, error) {
	args := m.Called(ctx, p, actorID, opts)
	return args.Get(0).(Receipt), args.Error(1)
}

func newCreditRouter(s Spender, id *auth.Identity, handlerRan *bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", func(c *gin.Context) {
		if id != nil {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), *id))
		}
		c.Next()
	}, RequireCredit(s), func(c *gin.Context) {
		*handlerRan = true
		rec, ok := ReceiptFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, rec)
	})
	return r
}

func TestRequireCredit_BlocksWhenNoCredits(t *testing.T) {
	s := &mockSpender{}
	s.On("SpendOneCredit", mock.Anything, Principal{Kind: PrincipalIndividual, ID: "42", GroupID: "fam"}, "u1", SpendOptions{}).
		Return(Receipt{}, ErrNoCreditsAvailable)

	ran := false
	id := auth.Identity{UserID: "u1", PrincipalType: auth.PrincipalIndividual, PrincipalID: "42", GroupID: "fam", Role: "member"}
	r := newCreditRouter(s, &id, &ran)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "buy more credits")
	assert.False(t, ran, "handler must not run without a credit")
	s.AssertExpectations(t)
}

func TestRequireCredit_PassesReceiptAndKey(t *testing.T) {
	s := &mockSpender{}
	rec := Receipt{WalletCharged: Wallet{ID: 3, OwnerType: OwnerOrganization, OwnerID: "org-1"}}
	s.On("SpendOneCredit", mock.Anything, Principal{Kind: PrincipalOrganization, ID: "org-1"}, "u2", SpendOptions{IdempotencyKey: "req-9"}).
		Return(rec, nil)

	ran := false
	id := auth.Identity{UserID: "u2", PrincipalType: auth.PrincipalOrganization, PrincipalID: "org-1", Role: "partner"}
	r := newCreditRouter(s, &id, &ran)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Idempotency-Key", "req-9")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ran)
	assert.Contains(t, w.Body.String(), `"owner_id":"org-1"`)
	s.AssertExpectations(t)
}

func TestRequireCredit_Errors(t *testing.T) {
	id := auth.Identity{UserID: "u", PrincipalType: auth.PrincipalIndividual, PrincipalID: "1", Role: "member"}
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"storage", errors.New("db down"), http.StatusInternalServerError},
		{"invalid", ErrInvalidArgument, http.StatusBadRequest},
		{"key reused", ErrDuplicateIdempotencyKey, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &mockSpender{}
			s.On("SpendOneCredit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(Receipt{}, tc.err)
			ran := false
			r := newCreditRouter(s, &id, &ran)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
			assert.Equal(t, tc.code, w.Code)
			assert.False(t, ran)
		})
	}
}

func TestRequireCredit_NoIdentity(t *testing.T) {
	ran := false
	r := newCreditRouter(&mockSpender{}, nil, &ran)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, ran)
}
