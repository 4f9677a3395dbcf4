package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"devicemirror/service"
)

// Deps are the components the routes call into.
type Deps struct {
	Devices     *service.DeviceManager
	Sessions    *service.SessionManager
	Broadcaster *service.CommandBroadcaster
	Settings    SettingsStore
	Refresher   PolicyReloader // optional
	Hub         *WebSocketHub
	Logger      *slog.Logger
}

func SetupRoutes(router *gin.Engine, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}

	router.Use(requestLogger(d.Logger.With("component", "http")))
	router.GET("/health", Health)

	api := router.Group("/api")
	{
		devices := api.Group("/devices")
		{
			devices.GET("", func(c *gin.Context) { GetDevices(c, d.Devices) })
			devices.POST("/refresh", func(c *gin.Context) { RefreshDevices(c, d.Devices) })
			devices.POST("/connect", func(c *gin.Context) { ConnectDevice(c, d.Devices) })
			devices.POST("/pair", func(c *gin.Context) { PairDevice(c, d.Devices) })
			devices.GET("/names", func(c *gin.Context) { GetDisplayNames(c, d.Devices) })
			devices.GET("/:id", func(c *gin.Context) { GetDevice(c, d.Devices) })
			devices.GET("/:id/name", func(c *gin.Context) { GetDisplayName(c, d.Devices) })
			devices.PUT("/:id/name", func(c *gin.Context) { RenameDevice(c, d.Devices) })
			devices.GET("/:id/settings", func(c *gin.Context) { GetDeviceSettings(c, d.Devices) })
			devices.PUT("/:id/settings", func(c *gin.Context) { UpdateDeviceSettings(c, d.Devices) })
			devices.PUT("/:id/encoder", func(c *gin.Context) { SetDeviceEncoder(c, d.Devices) })
			devices.POST("/:id/disconnect", func(c *gin.Context) { DisconnectDevice(c, d.Devices) })
			devices.POST("/:id/command", func(c *gin.Context) { ExecuteCommand(c, d.Devices) })
		}

		api.POST("/commands/broadcast", func(c *gin.Context) { BroadcastCommand(c, d.Broadcaster) })

		sessions := api.Group("/sessions")
		{
			sessions.GET("", func(c *gin.Context) { ListSessions(c, d.Sessions) })
			sessions.DELETE("", func(c *gin.Context) { StopAllSessions(c, d.Sessions) })
			sessions.GET("/:id", func(c *gin.Context) { GetSession(c, d.Sessions) })
			sessions.POST("/:id", func(c *gin.Context) { StartSession(c, d.Sessions) })
			sessions.DELETE("/:id", func(c *gin.Context) { StopSession(c, d.Sessions) })
		}

		settings := api.Group("/settings")
		{
			settings.GET("/mirroring", func(c *gin.Context) { GetMirroringSettings(c, d.Settings) })
			settings.PUT("/mirroring", func(c *gin.Context) { UpdateMirroringSettings(c, d.Settings) })
			settings.GET("/refresh-policy", func(c *gin.Context) { GetRefreshPolicy(c, d.Settings) })
			settings.PUT("/refresh-policy", func(c *gin.Context) { UpdateRefreshPolicy(c, d.Settings, d.Refresher) })
		}
	}

	// WebSocket route
	if d.Hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			HandleWebSocket(d.Hub, c)
		})
	}
}

// requestLogger logs every request once it has been served.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= 500 {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "Request served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		)
	}
}
