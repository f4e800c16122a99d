package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apimw "github.com/sylvia-iot/controlplane/internal/api/middleware"
	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/auth"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store/postgres"
)

var userSortKeys = map[string]bool{"account": true, "name": true, "created_at": true, "modified_at": true}

// Users implements spec §6's /api/v1/user(/list|/{id}) routes. These
// sit outside the Resource Manager (C8), which owns tenant resources,
// not identities — so visibility is enforced inline against the
// admin/manager/self distinction of spec §4.8.
type Users struct {
	store *postgres.UserStore
	auth  auth.Service
}

func NewUsers(store *postgres.UserStore, authSvc auth.Service) *Users {
	return &Users{store: store, auth: authSvc}
}

func isSelfOrElevated(c *gin.Context, userID string) bool {
	p, ok := apimw.GetPrincipal(c)
	if !ok {
		return false
	}
	if p.IsAdmin() || p.IsManager() {
		return true
	}
	return p.UserID != nil && *p.UserID == userID
}

type createUserRequest struct {
	Account  string      `json:"account" binding:"required"`
	Password string      `json:"password" binding:"required"`
	Name     string      `json:"name"`
	Info     models.Info `json:"info"`
	Roles    []string    `json:"roles"`
}

// Create implements self-signup (no roles granted) and admin
// registration (roles honored), per spec §4.2's dual lifecycle.
func (h *Users) Create(c *gin.Context) {
	var req createUserRequest
	if !bindJSON(c, &req) {
		return
	}

	p, hasPrincipal := apimw.GetPrincipal(c)
	var roles []models.Role
	if hasPrincipal && (p.IsAdmin() || p.IsManager()) {
		for _, r := range req.Roles {
			roles = append(roles, models.Role(r))
		}
	}

	now := time.Now()
	u := &models.User{
		UserID:     uuid.New().String(),
		Account:    req.Account,
		Name:       req.Name,
		Info:       req.Info,
		Roles:      roles,
		Timestamps: models.Timestamps{CreatedAt: now, ModifiedAt: now},
	}
	if err := h.store.Add(c.Request.Context(), u); err != nil {
		c.Error(err)
		return
	}
	if err := h.auth.SetPassword(c.Request.Context(), u.UserID, req.Password); err != nil {
		c.Error(err)
		return
	}
	created(c, u)
}

func (h *Users) Get(c *gin.Context) {
	userID := c.Param("id")
	if !isSelfOrElevated(c, userID) {
		c.Error(apperr.Forbidden(apperr.CodePerm, "cannot view another user's account"))
		return
	}
	u, err := h.store.Get(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, u)
}

func (h *Users) List(c *gin.Context) {
	opts, contains, err := listParams(c, userSortKeys)
	if err != nil {
		c.Error(err)
		return
	}
	cur, err := cursorParam(c)
	if err != nil {
		c.Error(err)
		return
	}
	users, nextCur, err := h.store.List(c.Request.Context(), contains, opts, cur)
	if err != nil {
		c.Error(err)
		return
	}
	renderList(c, users, nextCur)
}

type updateUserRequest struct {
	Name     *string     `json:"name"`
	Info     models.Info `json:"info"`
	Password *string     `json:"password"`
	Roles    []string    `json:"roles"`
	Disabled *bool       `json:"disabled"`
}

func (h *Users) Update(c *gin.Context) {
	userID := c.Param("id")
	if !isSelfOrElevated(c, userID) {
		c.Error(apperr.Forbidden(apperr.CodePerm, "cannot modify another user's account"))
		return
	}
	var req updateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	u, err := h.store.Get(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	if req.Name != nil {
		u.Name = *req.Name
	}
	if req.Info != nil {
		u.Info = req.Info
	}
	p, _ := apimw.GetPrincipal(c)
	if len(req.Roles) > 0 || req.Disabled != nil {
		if !p.IsAdmin() {
			c.Error(apperr.Forbidden(apperr.CodePerm, "only admin may change roles or disabled state"))
			return
		}
		if len(req.Roles) > 0 {
			roles := make([]models.Role, 0, len(req.Roles))
			for _, r := range req.Roles {
				roles = append(roles, models.Role(r))
			}
			u.Roles = roles
		}
		if req.Disabled != nil {
			u.Disabled = *req.Disabled
		}
	}
	u.ModifiedAt = time.Now()
	if err := h.store.Update(c.Request.Context(), u); err != nil {
		c.Error(err)
		return
	}
	if req.Password != nil {
		if err := h.auth.SetPassword(c.Request.Context(), userID, *req.Password); err != nil {
			c.Error(err)
			return
		}
	}
	ok(c, u)
}

func (h *Users) Delete(c *gin.Context) {
	userID := c.Param("id")
	p, _ := apimw.GetPrincipal(c)
	if !p.IsAdmin() {
		c.Error(apperr.Forbidden(apperr.CodePerm, "only admin may delete a user"))
		return
	}
	if err := h.store.Del(c.Request.Context(), userID); err != nil {
		c.Error(err)
		return
	}
	noContent(c)
}
