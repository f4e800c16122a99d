package handlers

import (
	"github.com/gin-gonic/gin"

	apimw "github.com/sylvia-iot/controlplane/internal/api/middleware"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/resourcemgr"
)

var deviceSortKeys = map[string]bool{"network_addr": true, "name": true, "created_at": true, "modified_at": true}

// Devices implements spec §6's /api/v1/device(/bulk|/bulk-delete|/range|
// /range-delete), /device/{id}, /device/list, and /device/count routes.
type Devices struct {
	mgr *resourcemgr.Manager
}

func NewDevices(mgr *resourcemgr.Manager) *Devices { return &Devices{mgr: mgr} }

type createDeviceRequest struct {
	NetworkID   string      `json:"networkId" binding:"required"`
	NetworkAddr string      `json:"networkAddr" binding:"required"`
	Profile     string      `json:"profile"`
	Name        string      `json:"name"`
	Info        models.Info `json:"info"`
}

func (h *Devices) Create(c *gin.Context) {
	var req createDeviceRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	d, err := h.mgr.CreateDevice(c.Request.Context(), p, req.NetworkID, req.NetworkAddr, req.Profile, req.Name, req.Info)
	if err != nil {
		c.Error(err)
		return
	}
	created(c, d)
}

func (h *Devices) Get(c *gin.Context) {
	p, _ := apimw.GetPrincipal(c)
	d, err := h.mgr.GetDevice(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, d)
}

func (h *Devices) List(c *gin.Context) {
	opts, contains, err := listParams(c, deviceSortKeys)
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
	devices, nextCur, err := h.mgr.ListDevices(c.Request.Context(), p, c.Query("unit_id"), c.Query("network_id"), contains, opts, cur)
	if err != nil {
		c.Error(err)
		return
	}
	renderList(c, devices, nextCur)
}

func (h *Devices) Count(c *gin.Context) {
	p, _ := apimw.GetPrincipal(c)
	n, err := h.mgr.CountDevices(c.Request.Context(), p, c.Query("unit_id"), c.Query("network_id"), c.Query("contains"))
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, gin.H{"count": n})
}

type updateDeviceRequest struct {
	Profile *string     `json:"profile"`
	Name    *string     `json:"name"`
	Info    models.Info `json:"info"`
}

func (h *Devices) Update(c *gin.Context) {
	var req updateDeviceRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	d, err := h.mgr.UpdateDevice(c.Request.Context(), p, c.Param("id"), req.Profile, req.Name, req.Info)
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, d)
}

func (h *Devices) Delete(c *gin.Context) {
	p, _ := apimw.GetPrincipal(c)
	if err := h.mgr.DeleteDevice(c.Request.Context(), p, c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	noContent(c)
}

type bulkDeviceRequest struct {
	NetworkID    string   `json:"networkId" binding:"required"`
	NetworkAddrs []string `json:"networkAddrs" binding:"required"`
	Profile      string   `json:"profile"`
}

func (h *Devices) AddBulk(c *gin.Context) {
	var req bulkDeviceRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	addrs, err := h.mgr.AddDeviceBulk(c.Request.Context(), p, req.NetworkID, req.NetworkAddrs, req.Profile)
	if err != nil {
		c.Error(err)
		return
	}
	created(c, gin.H{"networkAddrs": addrs})
}

func (h *Devices) DeleteBulk(c *gin.Context) {
	var req bulkDeviceRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	if err := h.mgr.DeleteDeviceBulk(c.Request.Context(), p, req.NetworkID, req.NetworkAddrs); err != nil {
		c.Error(err)
		return
	}
	noContent(c)
}

type rangeDeviceRequest struct {
	NetworkID string `json:"networkId" binding:"required"`
	StartAddr string `json:"startAddr" binding:"required"`
	EndAddr   string `json:"endAddr" binding:"required"`
	Profile   string `json:"profile"`
}

func (h *Devices) AddRange(c *gin.Context) {
	var req rangeDeviceRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	addrs, err := h.mgr.AddDeviceRange(c.Request.Context(), p, req.NetworkID, req.StartAddr, req.EndAddr, req.Profile)
	if err != nil {
		c.Error(err)
		return
	}
	created(c, gin.H{"networkAddrs": addrs})
}

func (h *Devices) DeleteRange(c *gin.Context) {
	var req rangeDeviceRequest
	if !bindJSON(c, &req) {
		return
	}
	p, _ := apimw.GetPrincipal(c)
	if err := h.mgr.DeleteDeviceRange(c.Request.Context(), p, req.NetworkID, req.StartAddr, req.EndAddr); err != nil {
		c.Error(err)
		return
	}
	noContent(c)
}
