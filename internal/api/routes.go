package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cvstudio/internal/api/middleware"
	"cvstudio/internal/auth"
	"cvstudio/internal/composer"
	"cvstudio/internal/config"
	"cvstudio/internal/snapshot"
	"cvstudio/internal/storage"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
) {
	composerService := composer.NewService(db)
	engine := snapshot.NewEngine(db)

	var objectRemover exportObjectRemover
	var enqueuer taskEnqueuer
	if storageClient != nil {
		objectRemover = storageClient
	}
	if asynqClient != nil {
		enqueuer = asynqClient
	}

	authHandler := NewAuthHandler(db, authService, redisClient, logger,
		cfg.Auth.LoginRateLimitPerHour, cfg.Auth.LoginLockThreshold, cfg.Auth.LoginLockTTL(), cfg.API.CookieDomain)
	profileHandler := NewProfileHandler(db)
	libraryHandler := NewLibraryHandler(db, composerService)
	cvHandler := NewCvHandler(composerService, cfg.Limits.MaxCvsPerUser)
	applicationHandler := NewApplicationHandler(db, engine, objectRemover)
	snapshotHandler := NewSnapshotHandler(engine, enqueuer, objectRemover)
	assetHandler := NewAssetHandler(db, storageClient, logger, cfg.Clamd.Addr)
	wsHandler := NewWsHandler(redisClient, authService, logger, cfg.API.AllowedOrigins)

	authMiddleware := middleware.AuthMiddleware(authService)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
		}

		protected := v1.Group("")
		protected.Use(authMiddleware, passwordGate)
		{
			profileGroup := protected.Group("/profile")
			{
				profileGroup.GET("", profileHandler.GetProfile)
				profileGroup.PUT("", profileHandler.UpdateProfile)
				profileGroup.POST("/picture", assetHandler.UploadProfilePicture)
				profileGroup.DELETE("/picture", assetHandler.DeleteProfilePicture)
			}

			libraryGroup := protected.Group("/library")
			{
				libraryGroup.POST("/work", libraryHandler.CreateWork)
				libraryGroup.GET("/work", libraryHandler.ListWork)
				libraryGroup.PATCH("/work/:id", libraryHandler.UpdateWork)
				libraryGroup.DELETE("/work/:id", libraryHandler.DeleteWork)

				libraryGroup.POST("/education", libraryHandler.CreateEducation)
				libraryGroup.GET("/education", libraryHandler.ListEducation)
				libraryGroup.PATCH("/education/:id", libraryHandler.UpdateEducation)
				libraryGroup.DELETE("/education/:id", libraryHandler.DeleteEducation)

				libraryGroup.POST("/skills", libraryHandler.CreateSkill)
				libraryGroup.GET("/skills", libraryHandler.ListSkills)
				libraryGroup.PATCH("/skills/:id", libraryHandler.UpdateSkill)
				libraryGroup.DELETE("/skills/:id", libraryHandler.DeleteSkill)

				libraryGroup.POST("/projects", libraryHandler.CreateProject)
				libraryGroup.GET("/projects", libraryHandler.ListProjects)
				libraryGroup.PATCH("/projects/:id", libraryHandler.UpdateProject)
				libraryGroup.DELETE("/projects/:id", libraryHandler.DeleteProject)
			}

			cvGroup := protected.Group("/cvs")
			{
				cvGroup.POST("", cvHandler.CreateCv)
				cvGroup.GET("", cvHandler.ListCvs)
				cvGroup.GET("/:id", cvHandler.GetComposedCv)
				cvGroup.PATCH("/:id", cvHandler.UpdateCv)
				cvGroup.DELETE("/:id", cvHandler.DeleteCv)

				cvGroup.POST("/:id/items/:kind", cvHandler.AddItem)
				cvGroup.PATCH("/:id/items/:kind/:itemId", cvHandler.ReorderItem)
				cvGroup.DELETE("/:id/items/:kind/:itemId", cvHandler.RemoveItem)
			}

			applicationGroup := protected.Group("/applications")
			{
				applicationGroup.POST("", applicationHandler.CreateApplication)
				applicationGroup.GET("", applicationHandler.ListApplications)
				applicationGroup.GET("/:id", applicationHandler.GetApplication)
				applicationGroup.PATCH("/:id", applicationHandler.UpdateApplication)
				applicationGroup.DELETE("/:id", applicationHandler.DeleteApplication)
				applicationGroup.GET("/:id/snapshot", applicationHandler.GetApplicationSnapshot)
			}

			snapshotGroup := protected.Group("/snapshots")
			{
				snapshotGroup.POST("", snapshotHandler.CreateSnapshot)
				snapshotGroup.GET("/:id", snapshotHandler.GetSnapshot)
				snapshotGroup.DELETE("/:id", snapshotHandler.DeleteSnapshot)
				snapshotGroup.POST("/:id/export", snapshotHandler.ExportSnapshot)
			}

			assetGroup := protected.Group("/assets")
			{
				assetGroup.GET("/view", assetHandler.GetAssetURL)
			}
		}
	}
}
