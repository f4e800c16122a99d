package auth

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylvia-iot/controlplane/internal/cache"
	"github.com/sylvia-iot/controlplane/internal/config"
	"github.com/sylvia-iot/controlplane/internal/store/postgres"
)

func newTestService(t *testing.T) (Service, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db := &postgres.DB{Conn: sqlDB}
	stores := Stores{
		Users:         postgres.NewUserStore(db),
		Clients:       postgres.NewClientStore(db),
		Sessions:      postgres.NewLoginSessionStore(db),
		Codes:         postgres.NewAuthorizationCodeStore(db),
		AccessTokens:  postgres.NewAccessTokenStore(db),
		RefreshTokens: postgres.NewRefreshTokenStore(db),
	}
	cfg := &config.AuthConfig{
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		AuthCodeTTL:     10 * time.Minute,
		SessionTTL:      24 * time.Hour,
		BcryptCost:      4,
		Providers:       map[string]config.OIDCProvider{},
	}

	svc, err := NewService(context.Background(), stores, cache.NewNullCache(), cfg)
	require.NoError(t, err)
	return svc, mock
}

func clientRow(confidential bool) *sqlmock.Rows {
	cols := []string{"client_id", "client_secret", "redirect_uris", "scopes", "user_id",
		"name", "image_url", "created_at", "modified_at"}
	var secret interface{}
	if confidential {
		secret = "shh"
	}
	return sqlmock.NewRows(cols).AddRow(
		"client1", secret, pqArrayLiteral([]string{"https://app.example.com/cb"}),
		pqArrayLiteral([]string{"read", "write"}),
		nil, "Test Client", nil, time.Now(), time.Now())
}

// pqArrayLiteral builds the Postgres text-array wire format
// (e.g. "{a,b}") sqlmock rows need to feed back through pq.Array's scan side.
func pqArrayLiteral(values []string) string {
	out := "{"
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out + "}"
}

func TestService_Authorize_UnknownClient(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT client_id, client_secret").
		WillReturnError(sqlmock.ErrCancelled)

	_, err := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType: "code", ClientID: "nope", RedirectURI: "https://app.example.com/cb",
	})
	require.Error(t, err)
	oerr, ok := err.(*OAuthError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidClient, oerr.Code)
}

func TestService_Authorize_BadRedirectURI(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT client_id, client_secret").
		WillReturnRows(clientRow(false))

	_, err := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType: "code", ClientID: "client1", RedirectURI: "https://evil.example.com/cb",
	})
	require.Error(t, err)
	oerr, ok := err.(*OAuthError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidRequest, oerr.Code)
}

func TestService_Authorize_BadScope_RedirectsWithError(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT client_id, client_secret").
		WillReturnRows(clientRow(false))

	_, err := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType: "code", ClientID: "client1", RedirectURI: "https://app.example.com/cb",
		Scope: "admin", State: "xyz",
	})
	require.Error(t, err)
	rerr, ok := err.(*RedirectError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidScope, rerr.Code)
	assert.Equal(t, "xyz", rerr.State)
	assert.Equal(t, "https://app.example.com/cb", rerr.RedirectURI)
}

func TestService_Authorize_Success(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT client_id, client_secret").
		WillReturnRows(clientRow(false))

	res, err := svc.Authorize(context.Background(), AuthorizeRequest{
		ResponseType: "code", ClientID: "client1", RedirectURI: "https://app.example.com/cb",
		Scope: "read", State: "xyz",
	})
	require.NoError(t, err)
	assert.Equal(t, "client1", res.ClientID)
	assert.Equal(t, "read", res.Scope)
}

func TestService_Login_UnknownAccount(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT user_id, account").WillReturnError(sqlmock.ErrCancelled)

	_, err := svc.Login(context.Background(), "nobody@example.com", "whatever")
	require.Error(t, err)
	oerr, ok := err.(*OAuthError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidAuth, oerr.Code)
}

func TestService_Login_WrongPassword(t *testing.T) {
	svc, mock := newTestService(t)

	hash, salt, err := hashPassword("correct-password", 4)
	require.NoError(t, err)

	cols := []string{"user_id", "account", "pass_hash", "pass_salt", "name", "info", "roles",
		"verified_at", "expired_at", "disabled", "created_at", "modified_at"}
	mock.ExpectQuery("SELECT user_id, account").WillReturnRows(
		sqlmock.NewRows(cols).AddRow("user1", "a@example.com", hash, salt, "Alice",
			[]byte(`{}`), []byte(`["dev"]`), nil, nil, false, time.Now(), time.Now()))

	_, err = svc.Login(context.Background(), "a@example.com", "wrong-password")
	require.Error(t, err)
	oerr, ok := err.(*OAuthError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidAuth, oerr.Code)
}

func TestService_Login_Success(t *testing.T) {
	svc, mock := newTestService(t)

	hash, salt, err := hashPassword("correct-password", 4)
	require.NoError(t, err)

	cols := []string{"user_id", "account", "pass_hash", "pass_salt", "name", "info", "roles",
		"verified_at", "expired_at", "disabled", "created_at", "modified_at"}
	mock.ExpectQuery("SELECT user_id, account").WillReturnRows(
		sqlmock.NewRows(cols).AddRow("user1", "a@example.com", hash, salt, "Alice",
			[]byte(`{}`), []byte(`["dev"]`), nil, nil, false, time.Now(), time.Now()))
	mock.ExpectExec("INSERT INTO login_sessions").WillReturnResult(sqlmock.NewResult(0, 1))

	sess, err := svc.Login(context.Background(), "a@example.com", "correct-password")
	require.NoError(t, err)
	assert.Equal(t, "user1", sess.UserID)
	assert.NotEmpty(t, sess.SessionID)
}

func TestService_Login_Disabled(t *testing.T) {
	svc, mock := newTestService(t)

	hash, salt, err := hashPassword("correct-password", 4)
	require.NoError(t, err)

	cols := []string{"user_id", "account", "pass_hash", "pass_salt", "name", "info", "roles",
		"verified_at", "expired_at", "disabled", "created_at", "modified_at"}
	mock.ExpectQuery("SELECT user_id, account").WillReturnRows(
		sqlmock.NewRows(cols).AddRow("user1", "a@example.com", hash, salt, "Alice",
			[]byte(`{}`), []byte(`["dev"]`), nil, nil, true, time.Now(), time.Now()))

	_, err = svc.Login(context.Background(), "a@example.com", "correct-password")
	require.Error(t, err)
	oerr, ok := err.(*OAuthError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidAuth, oerr.Code)
}

func TestService_Consent_Deny(t *testing.T) {
	svc, mock := newTestService(t)

	now := time.Now()
	mock.ExpectQuery("SELECT session_id, user_id").WillReturnRows(
		sqlmock.NewRows([]string{"session_id", "user_id", "created_at", "expires_at"}).
			AddRow("sess1", "user1", now, now.Add(time.Hour)))
	mock.ExpectExec("DELETE FROM login_sessions").WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := svc.Consent(context.Background(), ConsentRequest{
		SessionID: "sess1", ClientID: "client1", RedirectURI: "https://app.example.com/cb",
		State: "xyz", Allow: false,
	})
	require.NoError(t, err)
	assert.True(t, res.Denied)
	assert.Equal(t, "xyz", res.State)
}

func TestService_Consent_Allow(t *testing.T) {
	svc, mock := newTestService(t)

	now := time.Now()
	mock.ExpectQuery("SELECT session_id, user_id").WillReturnRows(
		sqlmock.NewRows([]string{"session_id", "user_id", "created_at", "expires_at"}).
			AddRow("sess1", "user1", now, now.Add(time.Hour)))
	mock.ExpectExec("DELETE FROM login_sessions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO authorization_codes").WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := svc.Consent(context.Background(), ConsentRequest{
		SessionID: "sess1", ClientID: "client1", RedirectURI: "https://app.example.com/cb",
		Scope: "read", State: "xyz", Allow: true,
	})
	require.NoError(t, err)
	assert.False(t, res.Denied)
	assert.NotEmpty(t, res.Code)
}

func TestService_Token_AuthorizationCode_Success(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT client_id, client_secret").WillReturnRows(clientRow(false))
	now := time.Now()
	mock.ExpectQuery("SELECT code, client_id").WillReturnRows(
		sqlmock.NewRows([]string{"code", "client_id", "user_id", "redirect_uri", "scope", "created_at", "expires_at"}).
			AddRow("authcode1", "client1", "user1", "https://app.example.com/cb", "read", now, now.Add(time.Minute)))
	mock.ExpectExec("DELETE FROM authorization_codes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO access_tokens").WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := svc.Token(context.Background(), TokenRequest{
		GrantType: "authorization_code", Code: "authcode1", RedirectURI: "https://app.example.com/cb",
		BodyClientID: "client1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "Bearer", res.TokenType)
}

func TestService_Token_AuthorizationCode_Expired(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT client_id, client_secret").WillReturnRows(clientRow(false))
	now := time.Now()
	mock.ExpectQuery("SELECT code, client_id").WillReturnRows(
		sqlmock.NewRows([]string{"code", "client_id", "user_id", "redirect_uri", "scope", "created_at", "expires_at"}).
			AddRow("authcode1", "client1", "user1", "https://app.example.com/cb", "read",
				now.Add(-time.Hour), now.Add(-time.Minute)))
	mock.ExpectExec("DELETE FROM authorization_codes").WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := svc.Token(context.Background(), TokenRequest{
		GrantType: "authorization_code", Code: "authcode1", RedirectURI: "https://app.example.com/cb",
		BodyClientID: "client1",
	})
	require.Error(t, err)
	oerr, ok := err.(*OAuthError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidGrant, oerr.Code)
}

func TestService_Token_RefreshToken_Success(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT client_id, client_secret").WillReturnRows(clientRow(true))
	now := time.Now()
	userID := "user1"
	mock.ExpectQuery("SELECT refresh_token, client_id").WillReturnRows(
		sqlmock.NewRows([]string{"refresh_token", "client_id", "user_id", "scope", "created_at", "expires_at"}).
			AddRow("rt1", "client1", userID, "read write", now, now.Add(time.Hour)))
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO access_tokens").WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := svc.Token(context.Background(), TokenRequest{
		GrantType: "refresh_token", RefreshToken: "rt1",
		HasBasic: true, BasicClientID: "client1", BasicClientSecret: "shh",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
}

func TestService_Token_ClientCredentials_RequiresBasic(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Token(context.Background(), TokenRequest{GrantType: "client_credentials"})
	require.Error(t, err)
	oerr, ok := err.(*OAuthError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidClient, oerr.Code)
}

func TestService_Token_ClientCredentials_Success(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT client_id, client_secret").WillReturnRows(clientRow(true))
	mock.ExpectExec("INSERT INTO access_tokens").WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := svc.Token(context.Background(), TokenRequest{
		GrantType: "client_credentials",
		HasBasic:  true, BasicClientID: "client1", BasicClientSecret: "shh",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Empty(t, res.RefreshToken)
}

func TestService_Token_UnsupportedGrant(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Token(context.Background(), TokenRequest{GrantType: "password"})
	require.Error(t, err)
	oerr, ok := err.(*OAuthError)
	require.True(t, ok)
	assert.Equal(t, ErrUnsupportedGrantType, oerr.Code)
}

func TestService_TokenInfo_Valid(t *testing.T) {
	svc, mock := newTestService(t)

	now := time.Now()
	userID := "user1"
	mock.ExpectQuery("SELECT access_token, refresh_token").WillReturnRows(
		sqlmock.NewRows([]string{"access_token", "refresh_token", "client_id", "user_id", "scope", "created_at", "expires_at"}).
			AddRow("at1", nil, "client1", userID, "read", now, now.Add(time.Hour)))

	info, err := svc.TokenInfo(context.Background(), "at1")
	require.NoError(t, err)
	assert.Equal(t, "client1", info.ClientID)
	require.NotNil(t, info.UserID)
	assert.Equal(t, "user1", *info.UserID)
}

func TestService_TokenInfo_Expired(t *testing.T) {
	svc, mock := newTestService(t)

	now := time.Now()
	mock.ExpectQuery("SELECT access_token, refresh_token").WillReturnRows(
		sqlmock.NewRows([]string{"access_token", "refresh_token", "client_id", "user_id", "scope", "created_at", "expires_at"}).
			AddRow("at1", nil, "client1", nil, "read", now.Add(-2*time.Hour), now.Add(-time.Hour)))

	_, err := svc.TokenInfo(context.Background(), "at1")
	require.Error(t, err)
}

func TestService_Revoke_AccessToken(t *testing.T) {
	svc, mock := newTestService(t)

	now := time.Now()
	mock.ExpectQuery("SELECT access_token, refresh_token").WillReturnRows(
		sqlmock.NewRows([]string{"access_token", "refresh_token", "client_id", "user_id", "scope", "created_at", "expires_at"}).
			AddRow("at1", nil, "client1", nil, "read", now, now.Add(time.Hour)))
	mock.ExpectExec("DELETE FROM access_tokens").WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.Revoke(context.Background(), "at1")
	require.NoError(t, err)
}
