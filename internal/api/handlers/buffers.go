package handlers

import (
	"github.com/gin-gonic/gin"

	apimw "github.com/sylvia-iot/controlplane/internal/api/middleware"
	"github.com/sylvia-iot/controlplane/internal/resourcemgr"
)

// Buffers implements spec §6's /api/v1/dldata-buffer/{id} route: the
// correlation row the Routing Engine (C7) stores for each forwarded
// downlink, pairing it with its device so the network's result can be
// relayed back to the sending application, surfaced here for inspection.
type Buffers struct {
	mgr *resourcemgr.Manager
}

func NewBuffers(mgr *resourcemgr.Manager) *Buffers { return &Buffers{mgr: mgr} }

func (h *Buffers) Get(c *gin.Context) {
	p, _ := apimw.GetPrincipal(c)
	b, err := h.mgr.GetDownlinkBuffer(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	ok(c, b)
}

func (h *Buffers) Delete(c *gin.Context) {
	p, _ := apimw.GetPrincipal(c)
	if err := h.mgr.DeleteDownlinkBuffer(c.Request.Context(), p, c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	noContent(c)
}
