package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"memorial-credits/internal/auth"

	"github.com/gin-gonic/gin"
)

func withIdentity(id auth.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

func serve(r *gin.Engine) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", withIdentity(auth.Identity{UserID: "u", PrincipalID: "p", Role: RoleAdmin}),
		RequirePrincipal(), RequireAnyRole(RolePartner), func(c *gin.Context) {
			c.Status(200)
		})

	if code := serve(r); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_OtherRoleForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", withIdentity(auth.Identity{UserID: "u", PrincipalID: "p", Role: RoleMember}),
		RequirePrincipal(), RequireAnyRole(RoleAdmin), func(c *gin.Context) {
			c.Status(200)
		})

	if code := serve(r); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequirePrincipal_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", withIdentity(auth.Identity{UserID: "u", Role: RoleMember}),
		RequirePrincipal(), RequireAnyRole(RoleMember), func(c *gin.Context) {
			c.Status(200)
		})

	if code := serve(r); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}
