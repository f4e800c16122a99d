package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apimw "github.com/sylvia-iot/controlplane/internal/api/middleware"
	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store/postgres"
)

var clientSortKeys = map[string]bool{"name": true, "created_at": true, "modified_at": true}

// Clients implements spec §6's /api/v1/client(/list|/{id}|/user/{id})
// routes: registration and management of OAuth2 client applications,
// each owned by the user who registered it (or ownerless, for
// server-to-server confidential clients an admin provisions).
type Clients struct {
	store *postgres.ClientStore
}

func NewClients(store *postgres.ClientStore) *Clients { return &Clients{store: store} }

type createClientRequest struct {
	Confidential bool        `json:"confidential"`
	RedirectURIs []string    `json:"redirectUris" binding:"required"`
	Scopes       []string    `json:"scopes"`
	Name         string      `json:"name" binding:"required"`
	ImageURL     *string     `json:"imageUrl"`
}

func (h *Clients) Create(c *gin.Context) {
	var req createClientRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	var userID *string
	if p.UserID != nil {
		id := *p.UserID
		userID = &id
	}

	now := time.Now()
	cl := &models.Client{
		ClientID:     uuid.New().String(),
		RedirectURIs: req.RedirectURIs,
		Scopes:       req.Scopes,
		UserID:       userID,
		Name:         req.Name,
		ImageURL:     req.ImageURL,
		Timestamps:   models.Timestamps{CreatedAt: now, ModifiedAt: now},
	}
	if req.Confidential {
		secret := uuid.New().String()
		cl.ClientSecret = &secret
	}
	if err := h.store.Add(c.Request.Context(), cl); err != nil {
		c.Error(err)
		return
	}
	created(c, cl)
}

func (h *Clients) canManage(c *gin.Context, cl *models.Client) bool {
	p, ok := apimw.GetPrincipal(c)
	if !ok {
		return false
	}
	if p.IsAdmin() || p.IsManager() {
		return true
	}
	return cl.UserID != nil && p.UserID != nil && *cl.UserID == *p.UserID
}

func (h *Clients) Get(c *gin.Context) {
	cl, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if !h.canManage(c, cl) {
		c.Error(apperr.Forbidden(apperr.CodePerm, "cannot view another user's client"))
		return
	}
	ok(c, cl)
}

func (h *Clients) List(c *gin.Context) {
	opts, contains, err := listParams(c, clientSortKeys)
	if err != nil {
		c.Error(err)
		return
	}
	cur, err := cursorParam(c)
	if err != nil {
		c.Error(err)
		return
	}
	p, _ := apimw.GetPrincipal(c)
	userID := c.Query("user_id")
	if userID == "" && !p.IsAdmin() && !p.IsManager() {
		if p.UserID == nil {
			c.Error(apperr.Forbidden(apperr.CodePerm, "no visible clients"))
			return
		}
		userID = *p.UserID
	}
	clients, nextCur, err := h.store.List(c.Request.Context(), userID, contains, opts, cur)
	if err != nil {
		c.Error(err)
		return
	}
	renderList(c, clients, nextCur)
}

// ListForUser implements /api/v1/client/user/{id}.
func (h *Clients) ListForUser(c *gin.Context) {
	opts, contains, err := listParams(c, clientSortKeys)
	if err != nil {
		c.Error(err)
		return
	}
	cur, err := cursorParam(c)
	if err != nil {
		c.Error(err)
		return
	}
	userID := c.Param("id")
	p, _ := apimw.GetPrincipal(c)
	if !p.IsAdmin() && !p.IsManager() && (p.UserID == nil || *p.UserID != userID) {
		c.Error(apperr.Forbidden(apperr.CodePerm, "cannot list another user's clients"))
		return
	}
	clients, nextCur, err := h.store.List(c.Request.Context(), userID, contains, opts, cur)
	if err != nil {
		c.Error(err)
		return
	}
	renderList(c, clients, nextCur)
}

type updateClientRequest struct {
	RedirectURIs []string    `json:"redirectUris"`
	Scopes       []string    `json:"scopes"`
	Name         *string     `json:"name"`
	ImageURL     *string     `json:"imageUrl"`
}

func (h *Clients) Update(c *gin.Context) {
	cl, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if !h.canManage(c, cl) {
		c.Error(apperr.Forbidden(apperr.CodePerm, "cannot modify another user's client"))
		return
	}
	var req updateClientRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.RedirectURIs != nil {
		cl.RedirectURIs = req.RedirectURIs
	}
	if req.Scopes != nil {
		cl.Scopes = req.Scopes
	}
	if req.Name != nil {
		cl.Name = *req.Name
	}
	if req.ImageURL != nil {
		cl.ImageURL = req.ImageURL
	}
	cl.ModifiedAt = time.Now()
	if err := h.store.Update(c.Request.Context(), cl); err != nil {
		c.Error(err)
		return
	}
	ok(c, cl)
}

func (h *Clients) Delete(c *gin.Context) {
	cl, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if !h.canManage(c, cl) {
		c.Error(apperr.Forbidden(apperr.CodePerm, "cannot delete another user's client"))
		return
	}
	if err := h.store.Del(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	noContent(c)
}
