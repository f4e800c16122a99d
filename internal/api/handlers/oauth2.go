package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sylvia-iot/controlplane/internal/auth"
)

// OAuth2 implements the seven /oauth2/* flows of spec §6, each a thin
// adapter over the Token Service (C1): bind the request shape C1
// expects, call it, and either redirect (the multi-step
// authorization-code dance) or render JSON (token/tokeninfo/logout).
type OAuth2 struct {
	auth auth.Service
}

func NewOAuth2(svc auth.Service) *OAuth2 { return &OAuth2{auth: svc} }

// oauthErrorJSON renders a pre-redirect client/request error as a
// plain JSON 400, per spec §8 scenario 2's "400 invalid_request".
func oauthErrorJSON(c *gin.Context, status int, code, description string) {
	c.JSON(status, gin.H{"error": code, "error_description": description})
}

// Auth handles GET /oauth2/auth: validate the client/redirect_uri/
// scope triple and forward the request on to the login step.
func (h *OAuth2) Auth(c *gin.Context) {
	req := auth.AuthorizeRequest{
		ResponseType: c.Query("response_type"),
		ClientID:     c.Query("client_id"),
		RedirectURI:  c.Query("redirect_uri"),
		Scope:        c.Query("scope"),
		State:        c.Query("state"),
	}
	result, err := h.auth.Authorize(c.Request.Context(), req)
	if err != nil {
		h.renderAuthorizeError(c, err, req.RedirectURI)
		return
	}

	v := url.Values{}
	v.Set("client_id", result.ClientID)
	v.Set("redirect_uri", result.RedirectURI)
	v.Set("scope", result.Scope)
	v.Set("state", result.State)
	c.Redirect(http.StatusFound, "/oauth2/login?"+v.Encode())
}

func (h *OAuth2) renderAuthorizeError(c *gin.Context, err error, fallbackRedirect string) {
	if oe, ok := err.(*auth.OAuthError); ok {
		oauthErrorJSON(c, http.StatusBadRequest, oe.Code, oe.Description)
		return
	}
	if re, ok := err.(*auth.RedirectError); ok {
		v := url.Values{}
		v.Set("error", re.Code)
		if re.State != "" {
			v.Set("state", re.State)
		}
		c.Redirect(http.StatusFound, re.RedirectURI+"?"+v.Encode())
		return
	}
	c.Error(err)
}

// Login handles POST /oauth2/login: verify account/password, mint a
// login session, and forward to the authorize/consent step.
func (h *OAuth2) Login(c *gin.Context) {
	account := c.PostForm("account")
	password := c.PostForm("password")

	sess, err := h.auth.Login(c.Request.Context(), account, password)
	if err != nil {
		if oe, ok := err.(*auth.OAuthError); ok {
			oauthErrorJSON(c, http.StatusUnauthorized, oe.Code, oe.Description)
			return
		}
		c.Error(err)
		return
	}

	v := url.Values{}
	v.Set("session_id", sess.SessionID)
	v.Set("client_id", c.PostForm("client_id"))
	v.Set("redirect_uri", c.PostForm("redirect_uri"))
	v.Set("scope", c.PostForm("scope"))
	v.Set("state", c.PostForm("state"))
	c.Redirect(http.StatusFound, "/oauth2/authorize?"+v.Encode())
}

// Authorize handles POST /oauth2/authorize: the user's allow/deny
// decision on the consent screen. Always ends in a redirect back to
// the client's own redirect_uri, per spec §4.1.
func (h *OAuth2) Authorize(c *gin.Context) {
	allow := strings.EqualFold(c.PostForm("allow"), "yes") || strings.EqualFold(c.PostForm("allow"), "true")
	req := auth.ConsentRequest{
		SessionID:   c.PostForm("session_id"),
		ClientID:    c.PostForm("client_id"),
		RedirectURI: c.PostForm("redirect_uri"),
		Scope:       c.PostForm("scope"),
		State:       c.PostForm("state"),
		Allow:       allow,
	}
	result, err := h.auth.Consent(c.Request.Context(), req)
	if err != nil {
		if oe, ok := err.(*auth.OAuthError); ok {
			oauthErrorJSON(c, http.StatusBadRequest, oe.Code, oe.Description)
			return
		}
		c.Error(err)
		return
	}

	v := url.Values{}
	if result.Denied {
		v.Set("error", auth.ErrAccessDenied)
	} else {
		v.Set("code", result.Code)
	}
	if result.State != "" {
		v.Set("state", result.State)
	}
	c.Redirect(http.StatusFound, result.RedirectURI+"?"+v.Encode())
}

// Token handles POST /oauth2/token across all three supported grants.
func (h *OAuth2) Token(c *gin.Context) {
	req := auth.TokenRequest{
		GrantType:    c.PostForm("grant_type"),
		Code:         c.PostForm("code"),
		RedirectURI:  c.PostForm("redirect_uri"),
		RefreshToken: c.PostForm("refresh_token"),
		BodyClientID: c.PostForm("client_id"),
		Scope:        c.PostForm("scope"),
	}
	if user, pass, hasBasic := c.Request.BasicAuth(); hasBasic {
		req.HasBasic = true
		req.BasicClientID = user
		req.BasicClientSecret = pass
	}

	result, err := h.auth.Token(c.Request.Context(), req)
	if err != nil {
		h.renderTokenError(c, err)
		return
	}
	ok(c, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"token_type":    result.TokenType,
		"expires_in":    result.ExpiresIn,
		"scope":         result.Scope,
	})
}

func (h *OAuth2) renderTokenError(c *gin.Context, err error) {
	oe, ok := err.(*auth.OAuthError)
	if !ok {
		c.Error(err)
		return
	}
	status := http.StatusBadRequest
	if oe.Code == auth.ErrInvalidClient {
		status = http.StatusUnauthorized
	}
	oauthErrorJSON(c, status, oe.Code, oe.Description)
}

// Refresh handles POST /oauth2/refresh: a thin alias over the token
// endpoint's refresh_token grant, kept as its own route per spec §6's
// listed path set.
func (h *OAuth2) Refresh(c *gin.Context) {
	req := auth.TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: c.PostForm("refresh_token"),
		BodyClientID: c.PostForm("client_id"),
		Scope:        c.PostForm("scope"),
	}
	if user, pass, hasBasic := c.Request.BasicAuth(); hasBasic {
		req.HasBasic = true
		req.BasicClientID = user
		req.BasicClientSecret = pass
	}

	result, err := h.auth.Token(c.Request.Context(), req)
	if err != nil {
		h.renderTokenError(c, err)
		return
	}
	ok(c, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"token_type":    result.TokenType,
		"expires_in":    result.ExpiresIn,
		"scope":         result.Scope,
	})
}

// TokenInfo handles GET/POST /oauth2/tokeninfo: introspect the bearer
// token carried in the Authorization header.
func (h *OAuth2) TokenInfo(c *gin.Context) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		oauthErrorJSON(c, http.StatusUnauthorized, auth.ErrInvalidAuth, "missing or malformed bearer token")
		return
	}

	info, err := h.auth.TokenInfo(c.Request.Context(), parts[1])
	if err != nil {
		oauthErrorJSON(c, http.StatusUnauthorized, auth.ErrInvalidAuth, "invalid or expired token")
		return
	}
	ok(c, gin.H{"client_id": info.ClientID, "user_id": info.UserID, "scope": info.Scope})
}

// Logout handles POST /oauth2/logout: revoke the bearer token.
func (h *OAuth2) Logout(c *gin.Context) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		noContent(c)
		return
	}
	if err := h.auth.Revoke(c.Request.Context(), parts[1]); err != nil {
		c.Error(err)
		return
	}
	noContent(c)
}
