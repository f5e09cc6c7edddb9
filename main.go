package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cityfix-analyze-pipeline/config"
	"cityfix-analyze-pipeline/database"
	"cityfix-analyze-pipeline/describer"
	"cityfix-analyze-pipeline/email"
	"cityfix-analyze-pipeline/extractor"
	"cityfix-analyze-pipeline/gemini"
	"cityfix-analyze-pipeline/handlers"
	"cityfix-analyze-pipeline/listener"
	"cityfix-analyze-pipeline/metrics"
	"cityfix-analyze-pipeline/notifier"
	"cityfix-analyze-pipeline/provider"
	"cityfix-analyze-pipeline/rabbitmq"
	"cityfix-analyze-pipeline/service"
	"cityfix-analyze-pipeline/stubprovider"
	"cityfix-analyze-pipeline/vision"

	"github.com/apex/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log.SetLevelFromString(cfg.LogLevel)

	// Validate required configuration
	if cfg.Provider != "stub" {
		if cfg.VisionAPIKey == "" {
			log.Fatal("VISION_API_KEY environment variable is required")
		}
		if cfg.GeminiAPIKey == "" {
			log.Fatal("GEMINI_API_KEY environment variable is required")
		}
	}

	metrics.Register()

	// Initialize database
	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	if err := db.CreateTables(); err != nil {
		log.WithError(err).Fatal("Failed to create tables")
	}

	// Select provider clients. The provider HTTP client carries the
	// bounded timeout so a stalled provider cannot block a handler.
	providerHTTP := &http.Client{Timeout: cfg.ProviderTimeout}
	var labelClient provider.LabelClient
	var textClient provider.TextClient
	if cfg.Provider == "stub" {
		labelClient = stubprovider.NewLabelClient()
		textClient = stubprovider.NewTextClient()
	} else {
		labelClient = vision.NewClient(cfg.VisionAPIKey, providerHTTP)
		textClient = gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel, providerHTTP)
	}
	log.Infof("Analyzer providers: labels=%s text=%s", labelClient.SourceName(), textClient.SourceName())

	// Initialize analyzed-report publisher (best-effort)
	var publisher service.Publisher
	if p, err := rabbitmq.NewPublisher(
		cfg.RabbitMQ.GetAMQPURL(),
		cfg.RabbitMQ.Exchange,
		cfg.RabbitMQ.AnalyzedReportRoutingKey,
	); err != nil {
		log.WithError(err).Warn("Failed to initialize RabbitMQ publisher, continuing without fan-out")
	} else {
		publisher = p
		defer p.Close()
	}

	// Initialize the analysis orchestrator
	analyzer := service.NewService(
		extractor.New(labelClient, providerHTTP),
		describer.New(textClient, providerHTTP),
		labelClient.SourceName(),
		db,
		publisher,
	)

	// Initialize the notification dispatcher (email channel optional)
	var emailSender notifier.EmailSender
	if cfg.SendGridAPIKey != "" {
		emailSender = email.NewEmailSender(cfg)
	}
	dispatcher := notifier.NewDispatcher(db, emailSender)

	// Wire the report change feed
	reportListener, err := listener.New(&cfg.RabbitMQ, analyzer, dispatcher)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize report listener")
	}
	if err := reportListener.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start report listener")
	}

	// Initialize handlers
	h := handlers.NewHandlers(analyzer, db)

	// Setup HTTP server
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
	}))

	// API routes
	api := router.Group("/api/v3")
	{
		api.GET("/health", h.HealthCheck)
		api.POST("/analyze-image", h.AnalyzeImage)
		api.POST("/generate-description", h.GenerateDescription)
		api.GET("/analysis/:id", h.GetAnalysisByReport)
		api.GET("/stats", h.GetStats)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start HTTP server in a goroutine
	go func() {
		log.Infof("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Stop consuming report events; in-flight analyses are lost, the
	// broker redelivers unacked events on restart.
	if err := reportListener.Stop(); err != nil {
		log.WithError(err).Warn("Failed to stop report listener")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("Server forced to shutdown")
	}

	log.Info("Server exited")
}
