package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slapulse/internal/config"
	"slapulse/internal/handlers"
	"slapulse/internal/models"
	"slapulse/internal/observability"
	"slapulse/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the SLA monitor and ops API",
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	cfg := config.Load()

	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	if shutdown, err := observability.SetupTracing(context.Background(), cfg); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	} else {
		appLogger.Warnf("init tracing: %v", err)
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port, cfg.Database.SSLMode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}

	if err := db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.Ticket{},
		&models.TicketStatusChange{},
		&models.AuditLog{},
		&models.NotificationDelivery{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	policy := buildPolicy(cfg)
	ticketService := services.NewTicketService(db, appLogger, policy)
	recipientService := services.NewRecipientService(db, appLogger)
	auditService := services.NewAuditService(db, appLogger)

	var notifier services.Notifier = services.NewLogNotifier(appLogger)
	if cfg.Telegram.Enabled {
		telegramNotifier, err := services.NewTelegramNotifier(cfg.Telegram.Token, appLogger)
		if err != nil {
			appLogger.Errorf("Telegram notifier unavailable, falling back to log channel: %v", err)
		} else {
			notifier = telegramNotifier
		}
	}

	var locker services.ScanLocker
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		hostname, _ := os.Hostname()
		owner := fmt.Sprintf("%s-%d", hostname, os.Getpid())
		locker = services.NewRedisScanLocker(rdb, "", owner)
		appLogger.Infof("Scan lock enabled via redis (%s:%d)", cfg.Redis.Host, cfg.Redis.Port)
	}

	monitor := services.NewSLAMonitor(db, appLogger, policy, recipientService, notifier, auditService, locker)
	monitor.SetInterval(cfg.SLA.ScanInterval)
	monitor.SetNotifyTimeout(cfg.SLA.NotifyTimeout)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	go monitor.Start(monitorCtx)

	if cfg.Server.Host != "localhost" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(cfg, db, monitor, ticketService)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.Infof("Starting ops server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	stopMonitor()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}

	appLogger.Info("Exited")
}

// buildPolicy merges configured SLA targets over the stock table.
func buildPolicy(cfg *config.Config) *services.SLAPolicy {
	if len(cfg.SLA.Targets) == 0 {
		return services.DefaultSLAPolicy()
	}
	targets := map[string]services.SLATarget{
		models.TicketPriorityLow:    {Response: 24 * time.Hour, Resolution: 72 * time.Hour},
		models.TicketPriorityMedium: {Response: 8 * time.Hour, Resolution: 48 * time.Hour},
		models.TicketPriorityHigh:   {Response: 4 * time.Hour, Resolution: 24 * time.Hour},
		models.TicketPriorityUrgent: {Response: 1 * time.Hour, Resolution: 8 * time.Hour},
	}
	for priority, target := range cfg.SLA.Targets {
		if target.ResponseHours > 0 && target.ResolutionHours > 0 {
			targets[priority] = services.SLATarget{
				Response:   time.Duration(target.ResponseHours) * time.Hour,
				Resolution: time.Duration(target.ResolutionHours) * time.Hour,
			}
		}
	}
	return services.NewSLAPolicy(targets)
}

func setupRouter(cfg *config.Config, db *gorm.DB, monitor *services.SLAMonitor, tickets *services.TicketService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware("slapulse"))
	}

	healthHandler := handlers.NewHealthHandler(db)
	monitorHandler := handlers.NewMonitorHandler(monitor, tickets)

	router.GET("/health", healthHandler.Health)

	api := router.Group("/api/v1")
	{
		api.GET("/monitor/stats", monitorHandler.Stats)
		api.POST("/monitor/scan", monitorHandler.TriggerScan)
		api.GET("/tickets/:id/sla", monitorHandler.TicketSLA)
	}

	return router
}
