package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/meetgrid/backend/internal/v1/health"
	"github.com/meetgrid/backend/internal/v1/middleware"
	"github.com/meetgrid/backend/internal/v1/ratelimit"
	"github.com/meetgrid/backend/internal/v1/realtime"
)

// Handlers bundles every handler group router.go wires into routes.
type Handlers struct {
	Auth      *AuthHandlers
	Meetings  *MeetingHandlers
	Chat      *ChatHandlers
	Recording *RecordingHandlers
	Minutes   *MinutesHandlers
	Health    *health.Handler
	Hub       *realtime.Hub
}

// NewRouter assembles the full Gin engine: global middleware, health and
// metrics endpoints, the uploads static mount, the WebSocket upgrade route,
// and every /api route group from the specification's route table.
func NewRouter(h *Handlers, auth gin.HandlerFunc, limiter *ratelimit.RateLimiter, allowedOrigin, uploadsDir, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(middleware.CorrelationID())
	r.Use(SecurityHeaders())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{allowedOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Correlation-ID"},
		AllowCredentials: true,
	}))
	r.Use(limiter.GlobalMiddleware())

	r.GET("/health/live", h.Health.Liveness)
	r.GET("/health/ready", h.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Static("/uploads", uploadsDir)
	r.GET("/ws", h.Hub.ServeWs)

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/register", h.Auth.Register)
		authGroup.POST("/login", limiter.MiddlewareForEndpoint("login"), h.Auth.Login)
		authGroup.POST("/guest", h.Auth.Guest)
		authGroup.GET("/me", auth, h.Auth.Me)
		authGroup.PUT("/me", auth, h.Auth.UpdateProfile)
		authGroup.POST("/logout", auth, h.Auth.Logout)
	}

	meetings := api.Group("/meetings", auth)
	{
		meetings.POST("", limiter.MiddlewareForEndpoint("rooms"), h.Meetings.Create)
		meetings.POST("/schedule", limiter.MiddlewareForEndpoint("rooms"), h.Meetings.Schedule)
		meetings.GET("", h.Meetings.List)
		meetings.GET("/ice-servers", h.Meetings.IceServers)
		meetings.GET("/:meetingId", h.Meetings.Get)
		meetings.POST("/:meetingId/join", h.Meetings.Join)
		meetings.POST("/:meetingId/leave", h.Meetings.Leave)
		meetings.PUT("/:meetingId/settings", h.Meetings.UpdateSettings)
		meetings.POST("/:meetingId/end", h.Meetings.End)
		meetings.POST("/:meetingId/cancel", h.Meetings.Cancel)
		meetings.POST("/:meetingId/transcripts", h.Meetings.AppendTranscripts)
		meetings.GET("/:meetingId/transcripts", h.Meetings.ListTranscripts)
	}

	chat := api.Group("/chat", auth)
	{
		chat.POST("/message", h.Chat.PostMessage)
		chat.POST("/upload", h.Chat.UploadFile)
		chat.GET("/:meetingId", h.Chat.GetChat)
	}

	recordings := api.Group("/recordings", auth)
	{
		recordings.POST("/start", h.Recording.Start)
		recordings.POST("/stop", h.Recording.Stop)
		recordings.POST("/upload", h.Recording.Upload)
		recordings.GET("/my-recordings", h.Recording.MyRecordings)
	}

	minutesGroup := api.Group("/meeting-minutes", auth)
	{
		minutesGroup.POST("/:meetingId/generate", h.Minutes.Generate)
		minutesGroup.GET("/:meetingId", h.Minutes.Get)
		minutesGroup.GET("", h.Minutes.List)
		minutesGroup.POST("/:meetingId/resend-email", h.Minutes.ResendEmail)
	}

	return r
}
