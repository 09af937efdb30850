package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testJWT() JWT {
	return JWT{Secret: []byte("s3cret"), Issuer: "aitrader", TokenTTL: time.Hour}
}

func TestIssueAndVerify(t *testing.T) {
	j := testJWT()
	tok, exp, err := j.Issue("ops")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := j.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "operator", claims.Role)
	assert.Equal(t, "aitrader", claims.Issuer)
}

func TestVerify_Rejects(t *testing.T) {
	j := testJWT()

	other := JWT{Secret: []byte("other"), Issuer: "aitrader", TokenTTL: time.Hour}
	tok, _, err := other.Issue("ops")
	require.NoError(t, err)
	_, err = j.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	past := jwt.NewNumericDate(time.Now().Add(-time.Minute))
	tok, _, err = j.Sign(Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: past}})
	require.NoError(t, err)
	_, err = j.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = JWT{}.Issue("ops")
	assert.Error(t, err)
}

func newRouter(j JWT) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(j, zap.NewNop()))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/simulations", func(c *gin.Context) {
		claims, _ := ClaimsFromGin(c)
		c.String(http.StatusOK, claims.Subject)
	})
	return r
}

func TestMiddleware(t *testing.T) {
	j := testJWT()
	r := newRouter(j)
	tok, _, err := j.Issue("ops")
	require.NoError(t, err)

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is open", "/healthz", "", http.StatusOK},
		{"missing token", "/api/v1/simulations", "", http.StatusUnauthorized},
		{"garbage token", "/api/v1/simulations", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "/api/v1/simulations", "Bearer " + tok, http.StatusOK},
		{"query token", "/api/v1/simulations?access_token=" + tok, "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusOK && tc.path != "/healthz" {
				assert.Equal(t, "ops", w.Body.String())
			}
		})
	}
}

func TestMiddleware_DisabledWithoutSecret(t *testing.T) {
	r := newRouter(JWT{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/simulations", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
