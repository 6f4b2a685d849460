package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-credentials/app/controller"
	authgrpc "github.com/vibast-solutions/ms-go-credentials/app/grpc"
	"github.com/vibast-solutions/ms-go-credentials/app/middleware"
	"github.com/vibast-solutions/ms-go-credentials/app/notify"
	"github.com/vibast-solutions/ms-go-credentials/app/ratelimit"
	"github.com/vibast-solutions/ms-go-credentials/app/repository"
	"github.com/vibast-solutions/ms-go-credentials/app/security"
	"github.com/vibast-solutions/ms-go-credentials/app/service"
	"github.com/vibast-solutions/ms-go-credentials/config"
	"google.golang.org/grpc"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  `Start the HTTP (Echo) credentials API and the gRPC health server.`,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg.DSN())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		if err := repository.RunMigrations(ctx, db); err != nil {
			logrus.WithError(err).Fatal("Failed to apply migrations")
		}
	}

	hasher, err := security.NewHasher(cfg.Password.Algorithm, cfg.Password.BcryptCost)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure password hasher")
	}
	sessions, err := security.NewSessionIssuer(cfg.JWT.Secret, cfg.JWT.TTL, nil)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure session issuer")
	}

	notifier, notifierCloser, err := notify.New(cfg.Mail, logrus.StandardLogger())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure notifier")
	}
	defer notifierCloser.Close()

	limiter, limiterCloser := newLimiter(ctx, cfg)
	defer limiterCloser()

	authService := service.NewAuthService(
		repository.NewUserRepository(db),
		hasher,
		security.NewRandomSecrets(nil),
		sessions,
		notifier,
		cfg,
	)

	reporter := authgrpc.NewHealthReporter(db, 10*time.Second)
	go reporter.Run(ctx)

	grpcServer, err := startGRPCServer(cfg, reporter)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to start gRPC server")
	}

	ipExtractor, err := newIPExtractor(cfg.HTTP)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure client address extraction")
	}

	e := newHTTPServer(authService, limiter, ipExtractor)
	httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
	go func() {
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("HTTP server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown did not complete cleanly")
	}
	grpcServer.GracefulStop()
}

func newHTTPServer(authService service.AuthService, limiter ratelimit.Limiter, ipExtractor echo.IPExtractor) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.IPExtractor = ipExtractor

	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"request_id": v.RequestID,
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(echomiddleware.Secure())

	authController := controller.NewAuthController(authService)
	authMiddleware := middleware.NewAuthMiddleware(authService)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(limiter)

	e.GET("/health", authController.Health)

	auth := e.Group("/auth")
	auth.Use(rateLimitMiddleware.Limit)
	auth.POST("/register", authController.Register)
	auth.POST("/login", authController.Login)
	auth.POST("/verify-2fa", authController.VerifyTwoFactor)
	auth.POST("/forgot-password", authController.ForgotPassword)
	auth.POST("/reset-password", authController.ResetPassword)
	auth.GET("/session", authController.Session, authMiddleware.RequireAuth)

	return e
}

// newIPExtractor keys clients on the socket address unless trusted proxies are
// configured, in which case X-Forwarded-For is read through those proxies only.
func newIPExtractor(cfg config.HTTPConfig) (echo.IPExtractor, error) {
	ranges, err := cfg.TrustedProxyRanges()
	if err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		return echo.ExtractIPDirect(), nil
	}

	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, r := range ranges {
		opts = append(opts, echo.TrustIPRange(r))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}

func startGRPCServer(cfg *config.Config, reporter *authgrpc.HealthReporter) (*grpc.Server, error) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return nil, err
	}

	grpcServer := authgrpc.NewServer(reporter)
	go func() {
		logrus.WithField("addr", grpcAddr).Info("Starting gRPC server")
		if err := grpcServer.Serve(lis); err != nil {
			logrus.WithError(err).Error("gRPC server stopped")
		}
	}()
	return grpcServer, nil
}

// newLimiter prefers Redis so limits hold across instances, and falls back to
// process memory when Redis is not configured or unreachable.
func newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, func()) {
	memory := func() (ratelimit.Limiter, func()) {
		return ratelimit.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window, nil), func() {}
	}
	if cfg.Redis.Addr == "" {
		logrus.Info("REDIS_ADDR not set, using in-process rate limiter")
		return memory()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logrus.WithError(err).Warn("Redis unreachable, using in-process rate limiter")
		_ = rdb.Close()
		return memory()
	}

	limiter := ratelimit.NewRedisLimiter(rdb, "", cfg.RateLimit.Max, cfg.RateLimit.Window)
	return limiter, func() { _ = rdb.Close() }
}
