package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims SessionClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newRouter(audience string) (*gin.Engine, *struct{ parent, child string }) {
	gin.SetMode(gin.TestMode)
	seen := &struct{ parent, child string }{}
	router := gin.New()
	router.GET("/me", JWTMiddleware(testSecret, audience), func(c *gin.Context) {
		seen.parent, _ = GetParentID(c.Request.Context())
		seen.child, _ = GetChildID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})
	return router, seen
}

func TestJWTMiddlewareInjectsIdentity(t *testing.T) {
	router, seen := newRouter("")
	token := signToken(t, testSecret, SessionClaims{
		ChildID: "42",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, resp.Code)
	}
	if seen.parent != "7" || seen.child != "42" {
		t.Fatalf("unexpected identity: %+v", seen)
	}
}

func TestJWTMiddlewareRejects(t *testing.T) {
	valid := jwt.RegisteredClaims{Subject: "7", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	cases := []struct {
		name     string
		audience string
		header   string
	}{
		{"missing header", "", ""},
		{"wrong scheme", "", "Basic abc"},
		{"empty token", "", "Bearer  "},
		{"bad signature", "", "Bearer " + signToken(t, "other-secret", SessionClaims{RegisteredClaims: valid})},
		{"expired", "", "Bearer " + signToken(t, testSecret, SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}})},
		{"missing subject", "", "Bearer " + signToken(t, testSecret, SessionClaims{})},
		{"wrong audience", "bead-check", "Bearer " + signToken(t, testSecret, SessionClaims{RegisteredClaims: valid})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router, _ := newRouter(tc.audience)
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
			}
		})
	}
}
