// Command realtime-gateway runs the WebSocket messaging gateway: it
// upgrades authenticated connections, then hands each one to the
// per-connection concurrency engine in internal/gateway for the
// lifetime of the socket.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/streamspace/realtime-gateway/internal/auth"
	"github.com/streamspace/realtime-gateway/internal/bus"
	"github.com/streamspace/realtime-gateway/internal/cache"
	"github.com/streamspace/realtime-gateway/internal/errors"
	"github.com/streamspace/realtime-gateway/internal/gateway"
	"github.com/streamspace/realtime-gateway/internal/gatewaydb"
	"github.com/streamspace/realtime-gateway/internal/hashid"
	"github.com/streamspace/realtime-gateway/internal/logger"
	"github.com/streamspace/realtime-gateway/internal/middleware"
	"github.com/streamspace/realtime-gateway/internal/presence"
)

func main() {
	logger.Initialize(getEnv("LOG_LEVEL", "info"), getEnv("LOG_PRETTY", "false") == "true")
	log := logger.GetLogger()

	port := getEnv("GATEWAY_PORT", "8000")

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal().Msg("JWT_SECRET environment variable must be set")
	}
	conversationSecret := os.Getenv("CONVERSATION_ID_SECRET")
	if conversationSecret == "" {
		log.Fatal().Msg("CONVERSATION_ID_SECRET environment variable must be set")
	}

	verifier := auth.NewVerifier(jwtSecret)
	hasher := hashid.NewHasher(conversationSecret)

	log.Info().Msg("connecting to database")
	db, err := gatewaydb.New(gatewaydb.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "gateway"),
		Password: getEnv("DB_PASSWORD", "gateway"),
		DBName:   getEnv("DB_NAME", "zap"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	log.Info().Msg("initializing cache")
	cacheEnabled := getEnv("GATEWAY_CACHE_ENABLED", "false") == "true"
	redisCache, err := cache.NewCache(cache.Config{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       0,
		Enabled:  cacheEnabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to redis, continuing without caching")
		redisCache, _ = cache.NewCache(cache.Config{Enabled: false})
	}
	defer redisCache.Close()

	cacheTTL := 30 * time.Second
	cachedDB := gatewaydb.NewCached(db, redisCache, cacheTTL)

	log.Info().Msg("connecting to message bus")
	natsBus, err := bus.Connect(bus.Config{
		URL:             getEnv("NATS_URL", "nats://localhost:4222"),
		CredentialsFile: os.Getenv("NATS_CREDS_FILE"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to message bus")
	}
	defer natsBus.Close()
	gatewayBus := gateway.NewBus(natsBus)

	reaper := presence.NewReaper(db.RawConn(), parseDurationEnv("PRESENCE_RETENTION", 30*24*time.Hour))
	if err := reaper.Start(getEnv("PRESENCE_REAP_INTERVAL", "0 * * * *")); err != nil {
		log.Fatal().Err(err).Msg("failed to start presence reaper")
	}
	defer reaper.Stop()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(gin.Recovery())
	router.Use(middleware.StructuredLoggerWithConfigFunc(middleware.DefaultStructuredLoggerConfig()))
	router.Use(middleware.Timeout(middleware.DefaultTimeoutConfig()))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.DefaultSizeLimiter())
	router.Use(middleware.GzipWithExclusions(middleware.BestSpeed, []string{"/ws"}))

	rateLimitEnabled := getEnv("RATE_LIMIT_ENABLED", "true") == "true"
	if rateLimitEnabled {
		limiter := middleware.NewRateLimiter(10, 20)
		router.Use(limiter.Middleware())
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if err := db.RawConn().PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, errors.DatabaseError(err).ToResponse())
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	router.GET("/ws", func(c *gin.Context) {
		token := bearerToken(c.Request)
		claims, err := verifier.Verify(token)
		if err != nil {
			appErr := errors.Unauthorized("Valid access token required")
			c.String(appErr.StatusCode, appErr.Message)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.WebSocket().Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		session := gateway.Session{PhoneNumber: claims.PhoneNumber, Username: claims.Username}
		connLog := logger.Gateway().With().Str("username", session.Username).Logger()

		go func() {
			if err := gateway.Supervise(conn, cachedDB, gatewayBus, hasher, session, &connLog); err != nil {
				connLog.Info().Err(err).Msg("connection terminated")
			}
		}()
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("port", port).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("server forced to shutdown")
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("access_token")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
