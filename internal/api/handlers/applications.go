package handlers

import (
	"github.com/gin-gonic/gin"

	apimw "github.com/sylvia-iot/controlplane/internal/api/middleware"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/resourcemgr"
)

var applicationSortKeys = map[string]bool{"code": true, "name": true, "created_at": true, "modified_at": true}

// Applications implements spec §6's /api/v1/application(/list|/{id}) routes.
type Applications struct {
	mgr *resourcemgr.Manager
}

func NewApplications(mgr *resourcemgr.Manager) *Applications { return &Applications{mgr: mgr} }

type createApplicationRequest struct {
	UnitID         string      `json:"unitId" binding:"required"`
	Code           string      `json:"code" binding:"required"`
	HostURI        string      `json:"hostUri" binding:"required"`
	Scheme         string      `json:"scheme" binding:"required"`
	Name           string      `json:"name" binding:"required"`
	Info           models.Info `json:"info"`
	TTL            *int64      `json:"ttl"`
	QueueLengthMax *int64      `json:"queueLengthMax"`
}

func (h *Applications) Create(c *gin.Context) {
	var req createApplicationRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	a, err := h.mgr.CreateApplication(c.Request.Context(), p, req.UnitID, req.Code, req.HostURI,
		models.Scheme(req.Scheme), req.Name, req.Info, req.TTL, req.QueueLengthMax)
	if err != nil {
		c.Error(err)
		return
	}
	created(c, a)
}

func (h *Applications) Get(c *gin.Context) {
	p, _ := apimw.GetPrincipal(c)
	a, err := h.mgr.GetApplication(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, a)
}

func (h *Applications) List(c *gin.Context) {
	opts, contains, err := listParams(c, applicationSortKeys)
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
	apps, nextCur, err := h.mgr.ListApplications(c.Request.Context(), p, c.Query("unit_id"), contains, opts, cur)
	if err != nil {
		c.Error(err)
		return
	}
	renderList(c, apps, nextCur)
}

type updateApplicationRequest struct {
	HostURI        *string     `json:"hostUri"`
	Name           *string     `json:"name"`
	Info           models.Info `json:"info"`
	TTL            *int64      `json:"ttl"`
	QueueLengthMax *int64      `json:"queueLengthMax"`
}

func (h *Applications) Update(c *gin.Context) {
	var req updateApplicationRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	a, err := h.mgr.UpdateApplication(c.Request.Context(), p, c.Param("id"), req.HostURI, req.Name, req.Info, req.TTL, req.QueueLengthMax)
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, a)
}

func (h *Applications) Delete(c *gin.Context) {
	p, _ := apimw.GetPrincipal(c)
	if err := h.mgr.DeleteApplication(c.Request.Context(), p, c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	noContent(c)
}
