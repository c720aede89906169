package main

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"carechat/internal/api"
	"carechat/internal/config"
	"carechat/internal/crypto"
	"carechat/internal/ratelimit"
	"carechat/internal/realtime"
	"carechat/internal/redis"
	"carechat/internal/relay"
	"carechat/internal/service/messages"
	"carechat/internal/storage"
	"carechat/internal/upstream"
)

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func main() {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfgPath := os.Getenv("CARECHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := newLogger(cfg.Logging)

	dbType := os.Getenv("CARECHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.WithField("driver", dbType).Info("opening database")
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	cipher, err := crypto.NewFromEnv()
	if err != nil {
		log.Fatalf("message cipher: %v", err)
	}
	msgService := messages.NewService(db, cipher)

	var limiter ratelimit.Limiter
	switch strings.ToLower(cfg.RateLimit.Backend) {
	case "", "memory":
		limiter = ratelimit.NewWindow(cfg.RateLimit.Window(), cfg.RateLimit.MaxRequests)
	case "redis":
		rdb, err := redis.NewClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		limiter = ratelimit.NewRedisWindow(rdb.Raw(), cfg.RateLimit.Window(), cfg.RateLimit.MaxRequests)
	default:
		log.Fatalf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}

	hub := realtime.NewHub(log, cfg.Server.CORSOrigin)
	generator := upstream.New(cfg.Upstream)
	chatRelay := relay.New(msgService, generator, hub, log)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.CORSMiddleware(cfg.Server.CORSOrigin))
	api.NewHandler(msgService, chatRelay, hub, limiter, db, log).RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":5000"
	}
	log.WithField("addr", addr).Info("server listening")
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
