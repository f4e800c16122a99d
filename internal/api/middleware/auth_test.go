package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/auth"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/resourcemgr"
	"github.com/sylvia-iot/controlplane/internal/store/postgres"
)

func principalWithRoles(roles []models.Role) resourcemgr.Principal {
	return resourcemgr.Principal{Roles: roles}
}

func assertAnError() error { return errors.New("introspection failed") }

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) Authorize(ctx context.Context, req auth.AuthorizeRequest) (*auth.AuthorizeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.AuthorizeResult), args.Error(1)
}

func (m *mockAuthService) Login(ctx context.Context, account, password string) (*models.LoginSession, error) {
	args := m.Called(ctx, account, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LoginSession), args.Error(1)
}

func (m *mockAuthService) Consent(ctx context.Context, req auth.ConsentRequest) (*auth.ConsentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.ConsentResult), args.Error(1)
}

func (m *mockAuthService) Token(ctx context.Context, req auth.TokenRequest) (*auth.TokenResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.TokenResult), args.Error(1)
}

func (m *mockAuthService) TokenInfo(ctx context.Context, accessToken string) (*auth.TokenInfo, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.TokenInfo), args.Error(1)
}

func (m *mockAuthService) Revoke(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *mockAuthService) FederatedAuthURL(provider, state string) (string, error) {
	args := m.Called(provider, state)
	return args.String(0), args.Error(1)
}

func (m *mockAuthService) FederatedLogin(ctx context.Context, provider, code string) (*models.LoginSession, error) {
	args := m.Called(ctx, provider, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LoginSession), args.Error(1)
}

func (m *mockAuthService) SetPassword(ctx context.Context, userID, password string) error {
	args := m.Called(ctx, userID, password)
	return args.Error(0)
}

func newTestUserStore(t *testing.T) (*postgres.UserStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return postgres.NewUserStore(&postgres.DB{Conn: sqlDB}), mock
}

func userRow(mock sqlmock.Sqlmock, userID string, roles ...models.Role) {
	rolesJSON, _ := json.Marshal(roles)
	cols := []string{"user_id", "account", "pass_hash", "pass_salt", "name", "info", "roles",
		"verified_at", "expired_at", "disabled", "created_at", "modified_at"}
	mock.ExpectQuery("FROM users WHERE user_id").WillReturnRows(sqlmock.NewRows(cols).
		AddRow(userID, "user1", "", "", "User One", []byte(`{}`), rolesJSON,
			sql.NullTime{}, sql.NullTime{}, false, time.Now(), time.Now()))
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("missing authorization header", func(t *testing.T) {
		svc := new(mockAuthService)
		users, _ := newTestUserStore(t)

		router := gin.New()
		router.Use(ErrorHandler(zap.NewNop()))
		router.Use(RequireAuth(svc, users))
		router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "success"}) })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("invalid authorization format", func(t *testing.T) {
		svc := new(mockAuthService)
		users, _ := newTestUserStore(t)

		router := gin.New()
		router.Use(ErrorHandler(zap.NewNop()))
		router.Use(RequireAuth(svc, users))
		router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "success"}) })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Basic abc123")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		svc := new(mockAuthService)
		users, _ := newTestUserStore(t)
		svc.On("TokenInfo", mock.Anything, "bad-token").Return(nil, assertAnError())

		router := gin.New()
		router.Use(ErrorHandler(zap.NewNop()))
		router.Use(RequireAuth(svc, users))
		router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "success"}) })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"code":"err_auth_invalid","message":"auth: invalid or expired token"}`, w.Body.String())
		svc.AssertExpectations(t)
	})

	t.Run("valid user-bound token binds principal roles", func(t *testing.T) {
		svc := new(mockAuthService)
		users, umock := newTestUserStore(t)
		userID := "u1"
		svc.On("TokenInfo", mock.Anything, "good-token").
			Return(&auth.TokenInfo{ClientID: "c1", UserID: &userID, Scope: "device.read"}, nil)
		userRow(umock, userID, models.RoleDev)

		router := gin.New()
		router.Use(ErrorHandler(zap.NewNop()))
		router.Use(RequireAuth(svc, users))
		router.GET("/test", func(c *gin.Context) {
			p, ok := GetPrincipal(c)
			assert.True(t, ok)
			require.NotNil(t, p.UserID)
			assert.Equal(t, userID, *p.UserID)
			assert.Contains(t, p.Roles, models.RoleDev)
			c.JSON(http.StatusOK, gin.H{"message": "success"})
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
		assert.NoError(t, umock.ExpectationsWereMet())
	})

	t.Run("client-credentials token has no user and the service role", func(t *testing.T) {
		svc := new(mockAuthService)
		users, _ := newTestUserStore(t)
		svc.On("TokenInfo", mock.Anything, "svc-token").
			Return(&auth.TokenInfo{ClientID: "c1", Scope: "device.write"}, nil)

		router := gin.New()
		router.Use(ErrorHandler(zap.NewNop()))
		router.Use(RequireAuth(svc, users))
		router.GET("/test", func(c *gin.Context) {
			p, ok := GetPrincipal(c)
			assert.True(t, ok)
			assert.Nil(t, p.UserID)
			assert.Equal(t, []models.Role{models.RoleService}, p.Roles)
			c.JSON(http.StatusOK, gin.H{"message": "success"})
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer svc-token")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	setPrincipal := func(roles ...models.Role) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Set(principalKey, principalWithRoles(roles))
			c.Next()
		}
	}

	t.Run("no principal bound", func(t *testing.T) {
		router := gin.New()
		router.Use(ErrorHandler(zap.NewNop()))
		router.Use(RequireRole(models.RoleAdmin))
		router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "success"}) })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("principal lacks required role", func(t *testing.T) {
		router := gin.New()
		router.Use(ErrorHandler(zap.NewNop()))
		router.Use(setPrincipal(models.RoleDev))
		router.Use(RequireRole(models.RoleAdmin, models.RoleManager))
		router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "success"}) })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("principal has one of the required roles", func(t *testing.T) {
		router := gin.New()
		router.Use(ErrorHandler(zap.NewNop()))
		router.Use(setPrincipal(models.RoleManager))
		router.Use(RequireRole(models.RoleAdmin, models.RoleManager))
		router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "success"}) })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireScope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	setScope := func(scope string) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Set("token_scope", scope)
			c.Next()
		}
	}

	t.Run("missing required scope", func(t *testing.T) {
		router := gin.New()
		router.Use(ErrorHandler(zap.NewNop()))
		router.Use(setScope("device.read"))
		router.Use(RequireScope("device.write"))
		router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "success"}) })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("has one of the required scopes", func(t *testing.T) {
		router := gin.New()
		router.Use(ErrorHandler(zap.NewNop()))
		router.Use(setScope("device.read device.write"))
		router.Use(RequireScope("device.write", "device.admin"))
		router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "success"}) })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireUserContext(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("client-credentials principal rejected", func(t *testing.T) {
		router := gin.New()
		router.Use(ErrorHandler(zap.NewNop()))
		router.Use(func(c *gin.Context) {
			c.Set(principalKey, principalWithRoles([]models.Role{models.RoleService}))
			c.Next()
		})
		router.Use(RequireUserContext())
		router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "success"}) })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
