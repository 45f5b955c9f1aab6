package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"memorial-credits/internal/config"

	"github.com/gin-gonic/gin"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := testManager(t)

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, Identity{
		UserID:        "user-1",
		PrincipalType: PrincipalIndividual,
		PrincipalID:   "42",
		GroupID:       "fam-7",
		Role:          "member",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.PrincipalID != "42" || claims.GroupID != "fam-7" || claims.Role != "member" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := m.IssuePair(time.Now(), Identity{UserID: "u", PrincipalType: PrincipalIndividual, PrincipalID: "1", Role: "member"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, time.Now()); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeRefresh, time.Now()); err != nil {
		t.Fatalf("refresh verify: %v", err)
	}
}

func TestVerifyRejectsBadPrincipal(t *testing.T) {
	m := testManager(t)
	now := time.Now()

	cases := []Identity{
		{UserID: "u", PrincipalType: "robot", PrincipalID: "1", Role: "member"},
		{UserID: "u", PrincipalType: PrincipalIndividual, Role: "member"},
		{UserID: "u", PrincipalType: PrincipalOrganization, PrincipalID: "o1", GroupID: "g", Role: "partner"},
	}
	for _, id := range cases {
		p, err := m.IssuePair(now, id)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if _, err := m.Verify(p.AccessToken, TokenTypeAccess, now); err == nil {
			t.Fatalf("expected rejection for %+v", id)
		}
	}
}

func TestRequireAccessToken_InjectsIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := testManager(t)
	p, err := m.IssuePair(time.Now(), Identity{UserID: "u1", PrincipalType: PrincipalOrganization, PrincipalID: "org-9", Role: "partner"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var got Identity
	r := gin.New()
	r.GET("/x", RequireAccessToken(m), func(c *gin.Context) {
		got, _ = IdentityFrom(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+p.AccessToken)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.PrincipalID != "org-9" || got.PrincipalType != PrincipalOrganization {
		t.Fatalf("unexpected identity: %+v", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
