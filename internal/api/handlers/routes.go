package handlers

import (
	"github.com/gin-gonic/gin"

	apimw "github.com/sylvia-iot/controlplane/internal/api/middleware"
	"github.com/sylvia-iot/controlplane/internal/resourcemgr"
)

var routeSortKeys = map[string]bool{"created_at": true}

// Routes implements spec §6's /api/v1/device-route and /network-route
// routes over the Resource Manager (C8).
type Routes struct {
	mgr *resourcemgr.Manager
}

func NewRoutes(mgr *resourcemgr.Manager) *Routes { return &Routes{mgr: mgr} }

type createDeviceRouteRequest struct {
	DeviceID      string `json:"deviceId" binding:"required"`
	ApplicationID string `json:"applicationId" binding:"required"`
	Profile       string `json:"profile"`
}

func (h *Routes) CreateDeviceRoute(c *gin.Context) {
	var req createDeviceRouteRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	r, err := h.mgr.CreateDeviceRoute(c.Request.Context(), p, req.DeviceID, req.ApplicationID, req.Profile)
	if err != nil {
		c.Error(err)
		return
	}
	created(c, r)
}

func (h *Routes) ListDeviceRoutes(c *gin.Context) {
	opts, _, err := listParams(c, routeSortKeys)
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
	routes, nextCur, err := h.mgr.ListDeviceRoutes(c.Request.Context(), p, c.Query("unit_id"), c.Query("application_id"), opts, cur)
	if err != nil {
		c.Error(err)
		return
	}
	renderList(c, routes, nextCur)
}

func (h *Routes) DeleteDeviceRoute(c *gin.Context) {
	p, _ := apimw.GetPrincipal(c)
	if err := h.mgr.DeleteDeviceRoute(c.Request.Context(), p, c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	noContent(c)
}

type createNetworkRouteRequest struct {
	NetworkID     string `json:"networkId" binding:"required"`
	ApplicationID string `json:"applicationId" binding:"required"`
}

func (h *Routes) CreateNetworkRoute(c *gin.Context) {
	var req createNetworkRouteRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	r, err := h.mgr.CreateNetworkRoute(c.Request.Context(), p, req.NetworkID, req.ApplicationID)
	if err != nil {
		c.Error(err)
		return
	}
	created(c, r)
}

func (h *Routes) ListNetworkRoutes(c *gin.Context) {
	opts, _, err := listParams(c, routeSortKeys)
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
	routes, nextCur, err := h.mgr.ListNetworkRoutes(c.Request.Context(), p, c.Query("unit_id"), c.Query("application_id"), opts, cur)
	if err != nil {
		c.Error(err)
		return
	}
	renderList(c, routes, nextCur)
}

func (h *Routes) DeleteNetworkRoute(c *gin.Context) {
	p, _ := apimw.GetPrincipal(c)
	if err := h.mgr.DeleteNetworkRoute(c.Request.Context(), p, c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	noContent(c)
}
