package handlers

import (
	"github.com/gin-gonic/gin"

	apimw "github.com/sylvia-iot/controlplane/internal/api/middleware"
	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/resourcemgr"
)

var unitSortKeys = map[string]bool{"code": true, "name": true, "created_at": true, "modified_at": true}

// Units implements spec §6's /api/v1/unit(/list|/{id}) routes over the
// Resource Manager (C8).
type Units struct {
	mgr *resourcemgr.Manager
}

func NewUnits(mgr *resourcemgr.Manager) *Units { return &Units{mgr: mgr} }

type createUnitRequest struct {
	Code string      `json:"code" binding:"required"`
	Name string      `json:"name" binding:"required"`
	Info models.Info `json:"info"`
}

func (h *Units) Create(c *gin.Context) {
	var req createUnitRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	u, err := h.mgr.CreateUnit(c.Request.Context(), p, req.Code, req.Name, req.Info)
	if err != nil {
		c.Error(err)
		return
	}
	created(c, u)
}

func (h *Units) Get(c *gin.Context) {
	p, _ := apimw.GetPrincipal(c)
	u, err := h.mgr.GetUnit(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, u)
}

func (h *Units) List(c *gin.Context) {
	opts, contains, err := listParams(c, unitSortKeys)
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
	units, nextCur, err := h.mgr.ListUnits(c.Request.Context(), p, contains, opts, cur)
	if err != nil {
		c.Error(err)
		return
	}
	renderList(c, units, nextCur)
}

// ListForUser implements /api/v1/unit/user/{id}: every unit the given
// user owns or is a member of, scoped the same way ListUnits already
// scopes a non-admin/manager caller.
func (h *Units) ListForUser(c *gin.Context) {
	opts, contains, err := listParams(c, unitSortKeys)
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
	if p.UserID == nil || *p.UserID != userID {
		if !p.IsAdmin() && !p.IsManager() {
			c.Error(apperr.Forbidden(apperr.CodePerm, "cannot list another user's units"))
			return
		}
	}
	// Force the userID scope regardless of the caller's own role: an
	// admin/manager listing another user's units must still see only
	// that user's units, not every unit ListUnits would show them.
	scoped := resourcemgr.Principal{UserID: &userID}
	units, nextCur, err := h.mgr.ListUnits(c.Request.Context(), scoped, contains, opts, cur)
	if err != nil {
		c.Error(err)
		return
	}
	renderList(c, units, nextCur)
}

type updateUnitRequest struct {
	Name      *string     `json:"name"`
	Info      models.Info `json:"info"`
	MemberIDs []string    `json:"memberIds"`
}

func (h *Units) Update(c *gin.Context) {
	var req updateUnitRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	u, err := h.mgr.UpdateUnit(c.Request.Context(), p, c.Param("id"), req.Name, req.Info, req.MemberIDs)
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, u)
}

func (h *Units) Delete(c *gin.Context) {
	p, _ := apimw.GetPrincipal(c)
	if err := h.mgr.DeleteUnit(c.Request.Context(), p, c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	noContent(c)
}
