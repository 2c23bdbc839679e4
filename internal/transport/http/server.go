package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "dataforge/internal/app"
	"dataforge/internal/bootstrap"
	"dataforge/internal/cache"
	"dataforge/internal/pkg/ocr"
	"dataforge/internal/pkg/textextract"
	"dataforge/internal/platform/rabbitmq"
	"dataforge/internal/repository"
	"dataforge/internal/transport/http/handler"
	"dataforge/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	jobRepo := repository.NewJobRepository(app.MySQL)
	recordRepo := repository.NewRecordRepository(app.MySQL)

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)

	var ocrEngine textextract.OCR
	if app.Config.OCR.Enabled {
		ocrEngine = ocr.NewTesseractEngine(app.Config.OCR.Languages...)
	}
	extractor := textextract.NewService(ocrEngine)

	processor := appsvc.NewProcessor(appsvc.DefaultClassifier())
	publisher := rabbitmq.NewRecordPublisher(app.MQConn, app.Config.RabbitMQ.RecordPersistQueue)
	statusCache := cache.NewStatusCache(app.Redis, time.Duration(app.Config.Redis.StatusTTLSeconds)*time.Second)
	batchService := appsvc.NewBatchService(
		appsvc.NewJobStore(),
		extractor,
		processor,
		publisher,
		statusCache,
		jobRepo,
		app.Config.Batch.Workers,
		time.Duration(app.Config.Batch.DocTimeoutSeconds)*time.Second,
	)

	authHandler := handler.NewAuthHandler(authService)
	uploadHandler := handler.NewUploadHandler(app.Uploads)
	batchHandler := handler.NewBatchHandler(batchService, app.Uploads, jobRepo, recordRepo, app.Config.Upload.MaxTotalSize)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	uploadGroup := v1.Group("/upload")
	uploadGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	uploadGroup.POST("/init", uploadHandler.Init)
	uploadGroup.PUT("/:upload_id/chunk/:index", uploadHandler.PutChunk)
	uploadGroup.GET("/:upload_id", uploadHandler.Session)

	batchGroup := v1.Group("/batch")
	batchGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	batchGroup.POST("", batchHandler.Submit)
	batchGroup.GET("/status", batchHandler.Status)
	batchGroup.POST("/:job_id/cancel", batchHandler.Cancel)
	batchGroup.GET("/records", batchHandler.Records)

	return router
}
