// Command server starts the Loopcast restreaming API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"loopcast/internal/api"
	"loopcast/internal/auth"
	"loopcast/internal/engine"
	"loopcast/internal/events"
	"loopcast/internal/observability/logging"
	"loopcast/internal/server"
	"loopcast/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	postgresConnectTimeout := flag.Duration("postgres-connect-timeout", 0, "timeout when establishing Postgres connections")
	adminPassword := flag.String("admin-password", "", "bootstrap password for the initial admin account")
	sessionTTL := flag.Duration("session-ttl", 0, "session lifetime before re-login is required")
	eventsDriver := flag.String("events-driver", "", "event queue driver (memory or redis)")
	eventsRedisAddr := flag.String("events-redis-addr", "", "Redis address for event fan-out")
	eventsRedisAddrs := flag.String("events-redis-addrs", "", "comma separated Redis addresses for event fan-out")
	eventsRedisUsername := flag.String("events-redis-username", "", "Redis username for event fan-out")
	eventsRedisPassword := flag.String("events-redis-password", "", "Redis password for event fan-out")
	eventsRedisChannel := flag.String("events-redis-channel", "", "Redis pub/sub channel for stream events")
	eventsRedisMasterName := flag.String("events-redis-sentinel-master", "", "Redis sentinel master name for event fan-out")
	eventsRedisPoolSize := flag.Int("events-redis-pool-size", 0, "maximum Redis connections for event fan-out")
	eventsRedisTLSCA := flag.String("events-redis-tls-ca", "", "path to Redis TLS CA certificate")
	eventsRedisTLSCert := flag.String("events-redis-tls-cert", "", "path to Redis TLS client certificate")
	eventsRedisTLSKey := flag.String("events-redis-tls-key", "", "path to Redis TLS client key")
	eventsRedisTLSServerName := flag.String("events-redis-tls-server-name", "", "override Redis TLS server name")
	eventsRedisTLSSkipVerify := flag.Bool("events-redis-tls-skip-verify", false, "skip Redis TLS verification")
	ffmpegBin := flag.String("ffmpeg-bin", "", "path to the ffmpeg binary")
	ffprobeBin := flag.String("ffprobe-bin", "", "path to the ffprobe binary")
	scratchDir := flag.String("scratch-dir", "", "directory for per-stream playlist manifests")
	startTimeout := flag.Duration("start-timeout", 0, "how long a stream may take to produce its first progress report")
	chargeInterval := flag.Int("charge-interval", 0, "minimum billed watch-time increment in seconds")
	imageDuration := flag.Int("image-duration", 0, "seconds each slideshow image holds")
	probeTimeout := flag.Duration("probe-timeout", 0, "timeout for ffprobe media inspection")
	skipReaper := flag.Bool("skip-reaper", false, "skip killing leftover ffmpeg processes at boot")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("LOOPCAST_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("LOOPCAST_LOG_FORMAT")),
	})

	listenAddr := firstNonEmpty(*addr, os.Getenv("LOOPCAST_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, storeConfig{
		Driver:         firstNonEmpty(*storageDriver, os.Getenv("LOOPCAST_STORAGE_DRIVER")),
		DataPath:       firstNonEmpty(*dataPath, os.Getenv("LOOPCAST_DATA")),
		DSN:            firstNonEmpty(*postgresDSN, os.Getenv("LOOPCAST_POSTGRES_DSN")),
		MaxConns:       resolveInt(*postgresMaxConns, "LOOPCAST_POSTGRES_MAX_CONNS"),
		AppName:        firstNonEmpty(*postgresAppName, os.Getenv("LOOPCAST_POSTGRES_APP_NAME")),
		ConnectTimeout: resolveDuration(*postgresConnectTimeout, "LOOPCAST_POSTGRES_CONNECT_TIMEOUT", 0),
		AdminPassword:  firstNonEmpty(*adminPassword, os.Getenv("LOOPCAST_ADMIN_PASSWORD")),
	})
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	queue, err := openQueue(queueConfig{
		Driver: firstNonEmpty(*eventsDriver, os.Getenv("LOOPCAST_EVENTS_DRIVER")),
		Redis: events.RedisQueueConfig{
			Addr:       firstNonEmpty(*eventsRedisAddr, os.Getenv("LOOPCAST_EVENTS_REDIS_ADDR")),
			Addrs:      splitAndTrim(firstNonEmpty(*eventsRedisAddrs, os.Getenv("LOOPCAST_EVENTS_REDIS_ADDRS"))),
			Username:   firstNonEmpty(*eventsRedisUsername, os.Getenv("LOOPCAST_EVENTS_REDIS_USERNAME")),
			Password:   firstNonEmpty(*eventsRedisPassword, os.Getenv("LOOPCAST_EVENTS_REDIS_PASSWORD")),
			Channel:    firstNonEmpty(*eventsRedisChannel, os.Getenv("LOOPCAST_EVENTS_REDIS_CHANNEL")),
			MasterName: firstNonEmpty(*eventsRedisMasterName, os.Getenv("LOOPCAST_EVENTS_REDIS_SENTINEL_MASTER")),
			PoolSize:   resolveInt(*eventsRedisPoolSize, "LOOPCAST_EVENTS_REDIS_POOL_SIZE"),
			Logger:     logging.WithComponent(logger, "events"),
			TLS: events.RedisTLSConfig{
				CAFile:             firstNonEmpty(*eventsRedisTLSCA, os.Getenv("LOOPCAST_EVENTS_REDIS_TLS_CA")),
				CertFile:           firstNonEmpty(*eventsRedisTLSCert, os.Getenv("LOOPCAST_EVENTS_REDIS_TLS_CERT")),
				KeyFile:            firstNonEmpty(*eventsRedisTLSKey, os.Getenv("LOOPCAST_EVENTS_REDIS_TLS_KEY")),
				ServerName:         firstNonEmpty(*eventsRedisTLSServerName, os.Getenv("LOOPCAST_EVENTS_REDIS_TLS_SERVER_NAME")),
				InsecureSkipVerify: resolveBool(*eventsRedisTLSSkipVerify, "LOOPCAST_EVENTS_REDIS_TLS_SKIP_VERIFY"),
			},
		},
	})
	if err != nil {
		logger.Error("failed to initialise event queue", "error", err)
		os.Exit(1)
	}

	ffmpegPath := firstNonEmpty(*ffmpegBin, os.Getenv("LOOPCAST_FFMPEG_BIN"))
	if !resolveBool(*skipReaper, "LOOPCAST_SKIP_REAPER") {
		bin := ffmpegPath
		if bin == "" {
			bin = "ffmpeg"
		}
		if killed, err := engine.Reap(ctx, bin, logging.WithComponent(logger, "reaper")); err != nil {
			logger.Warn("leftover process sweep failed", "error", err)
		} else if killed > 0 {
			logger.Info("killed leftover encoder processes", "count", killed)
		}
	}

	eng := engine.New(engine.Config{
		FFmpegBin:             ffmpegPath,
		FFprobeBin:            firstNonEmpty(*ffprobeBin, os.Getenv("LOOPCAST_FFPROBE_BIN")),
		ScratchDir:            firstNonEmpty(*scratchDir, os.Getenv("LOOPCAST_SCRATCH_DIR")),
		StartTimeout:          resolveDuration(*startTimeout, "LOOPCAST_START_TIMEOUT", 0),
		ChargeIntervalSeconds: int64(resolveInt(*chargeInterval, "LOOPCAST_CHARGE_INTERVAL")),
		ImageDurationSeconds:  resolveInt(*imageDuration, "LOOPCAST_IMAGE_DURATION"),
		ProbeTimeout:          resolveDuration(*probeTimeout, "LOOPCAST_PROBE_TIMEOUT", 0),
		Logger:                logging.WithComponent(logger, "engine"),
	}, usageStore{repo: store}, queue)

	sessions := auth.NewSessionManager(resolveDuration(*sessionTTL, "LOOPCAST_SESSION_TTL", 0))
	handler := api.NewHandler(store, sessions, eng, queue, logger)

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("LOOPCAST_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("LOOPCAST_TLS_KEY")),
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	logger.Info("Loopcast API listening", "addr", listenAddr)
	runErr := srv.Run(ctx)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to stop running streams", "error", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}
	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// usageStore adapts the datastore's combined sync-and-charge call to the
// engine's billing interface.
type usageStore struct {
	repo storage.Repository
}

func (s usageStore) AddUsage(ctx context.Context, userID string, deltaSeconds int64) (engine.UsageSnapshot, error) {
	user, plan, err := s.repo.AddUsage(ctx, userID, deltaSeconds)
	if err != nil {
		return engine.UsageSnapshot{}, err
	}
	return engine.UsageSnapshot{
		UsageSeconds: user.UsageSeconds,
		LimitSeconds: plan.LimitSeconds(),
		LimitType:    plan.LimitType,
	}, nil
}

type storeConfig struct {
	Driver         string
	DataPath       string
	DSN            string
	MaxConns       int
	AppName        string
	ConnectTimeout time.Duration
	AdminPassword  string
}

func openStore(ctx context.Context, cfg storeConfig) (storage.Repository, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		if cfg.DSN != "" {
			driver = "postgres"
		} else {
			driver = "json"
		}
	}

	opts := []storage.Option{}
	if cfg.AdminPassword != "" {
		opts = append(opts, storage.WithAdminBootstrap(storage.AdminBootstrap{Password: cfg.AdminPassword}))
	}

	switch driver {
	case "json":
		path := cfg.DataPath
		if path == "" {
			path = "data/loopcast.json"
		}
		return storage.NewJSONRepository(path, opts...)
	case "postgres":
		if cfg.MaxConns > 0 {
			opts = append(opts, storage.WithMaxConnections(int32(cfg.MaxConns)))
		}
		if cfg.AppName != "" {
			opts = append(opts, storage.WithApplicationName(cfg.AppName))
		}
		if cfg.ConnectTimeout > 0 {
			opts = append(opts, storage.WithConnectTimeout(cfg.ConnectTimeout))
		}
		return storage.NewPostgresRepository(ctx, cfg.DSN, opts...)
	default:
		return nil, errUnknownDriver("storage", driver)
	}
}

type queueConfig struct {
	Driver string
	Redis  events.RedisQueueConfig
}

func openQueue(cfg queueConfig) (events.Queue, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		if cfg.Redis.Addr != "" || len(cfg.Redis.Addrs) > 0 {
			driver = "redis"
		} else {
			driver = "memory"
		}
	}
	switch driver {
	case "memory":
		return events.NewMemoryQueue(0), nil
	case "redis":
		return events.NewRedisQueue(cfg.Redis)
	default:
		return nil, errUnknownDriver("events", driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}

type driverError struct {
	kind   string
	driver string
}

func (e driverError) Error() string {
	return "unknown " + e.kind + " driver " + strconv.Quote(e.driver)
}

func errUnknownDriver(kind, driver string) error {
	return driverError{kind: kind, driver: driver}
}
