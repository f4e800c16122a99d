// Package api wires together the HTTP surface of spec §6: the gin
// engine, its ambient middleware stack, the Authorization Middleware
// (C9), and every route the spec's EXTERNAL INTERFACES table lists.
//
// Grounded on the teacher's internal/api/router.go (one constructor
// building the engine, a setupMiddleware/setupRoutes split, an
// embedded *http.Server-ready Engine() accessor).
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/api/handlers"
	apimw "github.com/sylvia-iot/controlplane/internal/api/middleware"
	"github.com/sylvia-iot/controlplane/internal/auth"
	"github.com/sylvia-iot/controlplane/internal/config"
	"github.com/sylvia-iot/controlplane/internal/logging"
	"github.com/sylvia-iot/controlplane/internal/middleware"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/resourcemgr"
	"github.com/sylvia-iot/controlplane/internal/store/postgres"
)

// Deps bundles every component the router dispatches into: the Token
// Service (C1), the Identity Store's user/client tables (not owned by
// the Resource Manager), and the Resource Manager (C8) itself.
type Deps struct {
	Auth    auth.Service
	Users   *postgres.UserStore
	Clients *postgres.ClientStore
	Manager *resourcemgr.Manager
}

// NewRouter builds the gin engine: ambient middleware first, then C9,
// then every spec §6 route mounted with its role/scope requirement.
func NewRouter(deps Deps, cfg *config.Config, logger *zap.Logger, appLogger *logging.Logger) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing(cfg.Tracing.ServiceName))
	r.Use(middleware.WithLogger(appLogger))
	r.Use(middleware.Logging(appLogger))
	r.Use(middleware.Metrics())

	secCfg := middleware.DefaultSecurityConfig()
	secCfg.CSPEnabled = cfg.Security.CSPEnabled
	secCfg.HSTSEnabled = cfg.Security.HSTSEnabled
	secCfg.HSTSMaxAge = cfg.Security.HSTSMaxAge
	secCfg.CORSEnabled = true
	secCfg.CORSAllowOrigins = cfg.Security.CORSAllowOrigins
	secCfg.CORSAllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	secCfg.CORSAllowHeaders = []string{"Authorization", "Content-Type"}
	secCfg.CORSAllowCredentials = true
	r.Use(middleware.SecurityHeaders(secCfg))
	r.Use(middleware.CORS(secCfg))

	r.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Enabled:           cfg.Security.RateLimitEnabled,
		RequestsPerSecond: float64(cfg.Security.RateLimitRPS),
		Burst:             cfg.Security.RateLimitBurst,
		TTL:               10 * time.Minute,
	}))

	r.Use(apimw.ErrorHandler(logger))

	r.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(metricsHandler()))

	oauth2 := handlers.NewOAuth2(deps.Auth)
	og := r.Group("/oauth2")
	{
		og.GET("/auth", oauth2.Auth)
		og.POST("/login", oauth2.Login)
		og.POST("/authorize", oauth2.Authorize)
		og.POST("/token", oauth2.Token)
		og.POST("/refresh", oauth2.Refresh)
		og.GET("/tokeninfo", oauth2.TokenInfo)
		og.POST("/tokeninfo", oauth2.TokenInfo)
		og.POST("/logout", oauth2.Logout)
	}

	authed := r.Group("/api/v1")
	authed.Use(apimw.RequireAuth(deps.Auth, deps.Users))

	registerUnitRoutes(authed, handlers.NewUnits(deps.Manager))
	registerApplicationRoutes(authed, handlers.NewApplications(deps.Manager))
	registerNetworkRoutes(authed, handlers.NewNetworks(deps.Manager))
	registerDeviceRoutes(authed, handlers.NewDevices(deps.Manager))
	registerRouteRoutes(authed, handlers.NewRoutes(deps.Manager))
	registerBufferRoutes(authed, handlers.NewBuffers(deps.Manager))
	registerUserRoutes(authed, handlers.NewUsers(deps.Users, deps.Auth))
	registerClientRoutes(authed, handlers.NewClients(deps.Clients))

	return r
}

func registerUnitRoutes(g *gin.RouterGroup, h *handlers.Units) {
	g.POST("/unit", apimw.RequireRole(models.RoleAdmin, models.RoleManager, models.RoleDev), h.Create)
	g.GET("/unit/list", h.List)
	g.GET("/unit/user/:id", apimw.RequireUserContext(), h.ListForUser)
	g.GET("/unit/:id", h.Get)
	g.PATCH("/unit/:id", h.Update)
	g.DELETE("/unit/:id", apimw.RequireRole(models.RoleAdmin, models.RoleManager), h.Delete)
}

func registerApplicationRoutes(g *gin.RouterGroup, h *handlers.Applications) {
	g.POST("/application", h.Create)
	g.GET("/application/list", h.List)
	g.GET("/application/:id", h.Get)
	g.PATCH("/application/:id", h.Update)
	g.DELETE("/application/:id", h.Delete)
}

func registerNetworkRoutes(g *gin.RouterGroup, h *handlers.Networks) {
	g.POST("/network", h.Create)
	g.GET("/network/list", h.List)
	g.GET("/network/:id", h.Get)
	g.PATCH("/network/:id", h.Update)
	g.DELETE("/network/:id", h.Delete)
}

func registerDeviceRoutes(g *gin.RouterGroup, h *handlers.Devices) {
	g.POST("/device", h.Create)
	g.POST("/device/bulk", h.AddBulk)
	g.POST("/device/bulk-delete", h.DeleteBulk)
	g.POST("/device/range", h.AddRange)
	g.POST("/device/range-delete", h.DeleteRange)
	g.GET("/device/list", h.List)
	g.GET("/device/count", h.Count)
	g.GET("/device/:id", h.Get)
	g.PATCH("/device/:id", h.Update)
	g.DELETE("/device/:id", h.Delete)
}

func registerRouteRoutes(g *gin.RouterGroup, h *handlers.Routes) {
	g.POST("/device-route", h.CreateDeviceRoute)
	g.GET("/device-route/list", h.ListDeviceRoutes)
	g.DELETE("/device-route/:id", h.DeleteDeviceRoute)

	g.POST("/network-route", h.CreateNetworkRoute)
	g.GET("/network-route/list", h.ListNetworkRoutes)
	g.DELETE("/network-route/:id", h.DeleteNetworkRoute)
}

func registerBufferRoutes(g *gin.RouterGroup, h *handlers.Buffers) {
	g.GET("/dldata-buffer/:id", h.Get)
	g.DELETE("/dldata-buffer/:id", h.Delete)
}

func registerUserRoutes(g *gin.RouterGroup, h *handlers.Users) {
	g.POST("/user", h.Create)
	g.GET("/user/list", apimw.RequireRole(models.RoleAdmin, models.RoleManager), h.List)
	g.GET("/user/:id", h.Get)
	g.PATCH("/user/:id", h.Update)
	g.DELETE("/user/:id", apimw.RequireRole(models.RoleAdmin), h.Delete)
}

func registerClientRoutes(g *gin.RouterGroup, h *handlers.Clients) {
	g.POST("/client", apimw.RequireUserContext(), h.Create)
	g.GET("/client/list", h.List)
	g.GET("/client/user/:id", h.ListForUser)
	g.GET("/client/:id", h.Get)
	g.PATCH("/client/:id", h.Update)
	g.DELETE("/client/:id", h.Delete)
}
