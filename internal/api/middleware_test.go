package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const (
	testSecret = "jwt-secret"
	testAPIKey = "internal-key"
)

func makeToken(t *testing.T, secret string, userID int64, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: userID,
		Role:   role,
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func probeRouter(middleware ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("", middleware...)
	group.GET("/probe", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": callerID(c), "admin": callerIsAdmin(c)})
	})
	return router
}

func TestJWTAuth(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{
			name:       "missing header",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "not a bearer token",
			authHeader: "Basic abc",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			authHeader: "Bearer not.a.token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "token signed with another secret",
			authHeader: "Bearer %other%",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "valid token",
			authHeader: "Bearer %valid%",
			wantStatus: http.StatusOK,
		},
	}

	router := probeRouter(JWTAuth(testSecret))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := tt.authHeader
			switch header {
			case "Bearer %valid%":
				header = "Bearer " + makeToken(t, testSecret, 7, "customer")
			case "Bearer %other%":
				header = "Bearer " + makeToken(t, "wrong-secret", 7, "customer")
			}

			req := httptest.NewRequest(http.MethodGet, "/probe", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestAPIKeyAuthCheckedBeforeToken(t *testing.T) {
	router := probeRouter(APIKeyAuth(testAPIKey), JWTAuth(testSecret), RequireAdmin())

	// A valid admin token without the service key is still rejected.
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+makeToken(t, testSecret, 1, roleAdmin))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing api key status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(apiKeyHeader, "wrong-key")
	req.Header.Set("Authorization", "Bearer "+makeToken(t, testSecret, 1, roleAdmin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong api key status = %d, want 401", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	router := probeRouter(APIKeyAuth(testAPIKey), JWTAuth(testSecret), RequireAdmin())

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(apiKeyHeader, testAPIKey)
	req.Header.Set("Authorization", "Bearer "+makeToken(t, testSecret, 7, "customer"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("customer on admin surface status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(apiKeyHeader, testAPIKey)
	req.Header.Set("Authorization", "Bearer "+makeToken(t, testSecret, 1, roleAdmin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin status = %d, want 200", rec.Code)
	}
}
