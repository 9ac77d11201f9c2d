package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"flippredict/internal/broadcast"
	"flippredict/internal/config"
	cronrunner "flippredict/internal/cron"
	"flippredict/internal/db"
	"flippredict/internal/engine/orderbook"
	"flippredict/internal/handler"
	"flippredict/internal/logger"
	"flippredict/internal/oracle"
	gormrepository "flippredict/internal/repository/gorm"
	"flippredict/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("FP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("FP_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	hub := broadcast.NewHub(logger)
	books := orderbook.NewManager()

	oracleHTTP := &http.Client{Timeout: cfg.Oracle.Timeout}
	sources := []oracle.Source{
		&oracle.TickerSource{HTTP: oracleHTTP, Endpoint: cfg.Oracle.PrimaryEndpoint, Label: "primary"},
	}
	if cfg.Oracle.FallbackEndpoint != "" {
		sources = append(sources, &oracle.TickerSource{HTTP: oracleHTTP, Endpoint: cfg.Oracle.FallbackEndpoint, Label: "fallback"})
	}
	if cfg.Oracle.DexEndpoint != "" {
		sources = append(sources, &oracle.DexSource{HTTP: oracleHTTP, Endpoint: cfg.Oracle.DexEndpoint, Label: "dex"})
	}
	oracleChain := &oracle.Chain{Sources: sources, Logger: logger}

	marketSvc := &service.MarketService{Repo: store, Logger: logger}
	accountSvc := &service.AccountService{Repo: store}
	tradeSvc := &service.TradeService{Repo: store, Logger: logger, Broadcast: hub}
	bookSvc := &service.OrderBookService{Repo: store, Books: books, Logger: logger}
	settlementSvc := &service.SettlementEngine{Repo: store, Logger: logger}
	keeper := &service.ResolutionKeeper{
		Repo:         store,
		Oracle:       oracleChain,
		Settlement:   settlementSvc,
		Books:        books,
		Broadcast:    hub,
		Logger:       logger,
		BatchLimit:   cfg.Keeper.BatchLimit,
		FetchTimeout: cfg.Keeper.FetchTimeout,
	}

	if err := bookSvc.Bootstrap(context.Background()); err != nil {
		logger.Fatal("order book bootstrap failed", zap.Error(err))
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	marketHandler := &handler.MarketHandler{Markets: marketSvc}
	marketHandler.Register(engine)
	orderHandler := &handler.OrderHandler{Trades: tradeSvc, Books: bookSvc, Repo: store}
	orderHandler.Register(engine)
	bookHandler := &handler.OrderBookHandler{Books: bookSvc, Depth: cfg.Trading.SnapshotDepth}
	bookHandler.Register(engine)
	settlementHandler := &handler.SettlementHandler{Keeper: keeper, Settlement: settlementSvc}
	settlementHandler.Register(engine)
	accountHandler := &handler.AccountHandler{Accounts: accountSvc}
	accountHandler.Register(engine)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws/prices", gin.WrapH(hub))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)
		if _, err := cronRunner.Add("keeper", cfg.Cron.Keeper, func(ctx context.Context) error {
			_, err := keeper.RunOnce(ctx)
			return err
		}); err != nil {
			logger.Warn("cron register keeper failed", zap.Error(err))
		}
		if _, err := cronRunner.Add("order_sweep", cfg.Cron.OrderSweep, bookSvc.SweepExpired); err != nil {
			logger.Warn("cron register order sweep failed", zap.Error(err))
		}
		if _, err := cronRunner.Add("price_snapshot", cfg.Cron.PriceSnapshot, marketSvc.SnapshotPrices); err != nil {
			logger.Warn("cron register price snapshot failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
