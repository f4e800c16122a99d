package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	apimw "github.com/sylvia-iot/controlplane/internal/api/middleware"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/resourcemgr"
)

var networkSortKeys = map[string]bool{"code": true, "name": true, "created_at": true, "modified_at": true}

// Networks implements spec §6's /api/v1/network(/list|/{id}) routes.
// A nil unit_id in the body creates a public network, per spec §4.3.
type Networks struct {
	mgr *resourcemgr.Manager
}

func NewNetworks(mgr *resourcemgr.Manager) *Networks { return &Networks{mgr: mgr} }

type createNetworkRequest struct {
	UnitID         *string     `json:"unitId"`
	Code           string      `json:"code" binding:"required"`
	HostURI        string      `json:"hostUri" binding:"required"`
	Scheme         string      `json:"scheme" binding:"required"`
	Name           string      `json:"name" binding:"required"`
	Info           models.Info `json:"info"`
	TTL            *int64      `json:"ttl"`
	QueueLengthMax *int64      `json:"queueLengthMax"`
}

func (h *Networks) Create(c *gin.Context) {
	var req createNetworkRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	n, err := h.mgr.CreateNetwork(c.Request.Context(), p, req.UnitID, req.Code, req.HostURI,
		models.Scheme(req.Scheme), req.Name, req.Info, req.TTL, req.QueueLengthMax)
	if err != nil {
		c.Error(err)
		return
	}
	created(c, n)
}

func (h *Networks) Get(c *gin.Context) {
	p, _ := apimw.GetPrincipal(c)
	n, err := h.mgr.GetNetwork(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, n)
}

func (h *Networks) List(c *gin.Context) {
	opts, contains, err := listParams(c, networkSortKeys)
	if err != nil {
		c.Error(err)
		return
	}
	cur, err := cursorParam(c)
	if err != nil {
		c.Error(err)
		return
	}
	var unitID *string
	if v := c.Query("unit_id"); v != "" {
		unitID = &v
	}
	publicOnly, _ := strconv.ParseBool(c.Query("public"))
	p, _ := apimw.GetPrincipal(c)
	nets, nextCur, err := h.mgr.ListNetworks(c.Request.Context(), p, unitID, publicOnly, contains, opts, cur)
	if err != nil {
		c.Error(err)
		return
	}
	renderList(c, nets, nextCur)
}

type updateNetworkRequest struct {
	HostURI        *string     `json:"hostUri"`
	Name           *string     `json:"name"`
	Info           models.Info `json:"info"`
	TTL            *int64      `json:"ttl"`
	QueueLengthMax *int64      `json:"queueLengthMax"`
}

func (h *Networks) Update(c *gin.Context) {
	var req updateNetworkRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	n, err := h.mgr.UpdateNetwork(c.Request.Context(), p, c.Param("id"), req.HostURI, req.Name, req.Info, req.TTL, req.QueueLengthMax)
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, n)
}

func (h *Networks) Delete(c *gin.Context) {
	p, _ := apimw.GetPrincipal(c)
	if err := h.mgr.DeleteNetwork(c.Request.Context(), p, c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	noContent(c)
}
