// Package main runs the closet service: the login broker, the uploads
// API, the thumbnail worker, and the approval coordinator behind one
// HTTP listener.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/stylingadventures/closetd/internal/api"
	"github.com/stylingadventures/closetd/internal/approval"
	"github.com/stylingadventures/closetd/internal/auth/cognito"
	"github.com/stylingadventures/closetd/internal/auth/loginstate"
	"github.com/stylingadventures/closetd/internal/auth/session"
	"github.com/stylingadventures/closetd/internal/buildinfo"
	"github.com/stylingadventures/closetd/internal/config"
	"github.com/stylingadventures/closetd/internal/logging"
	"github.com/stylingadventures/closetd/internal/roles"
	"github.com/stylingadventures/closetd/internal/store"
	"github.com/stylingadventures/closetd/internal/thumbs"
	"github.com/stylingadventures/closetd/internal/util"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const shutdownGrace = 10 * time.Second

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("closetd Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// A local .env is optional; real deployments set the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debugf("skipping .env: %v", err)
	}

	if err := run(configPath); err != nil {
		log.Fatalf("closetd: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		return err
	}

	cfgPtr := &atomic.Pointer[config.Config]{}
	cfgPtr.Store(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := util.NewHTTPClient(cfg.ProxyURL, 30*time.Second)

	authSvc, err := cognito.NewService(cfg.Cognito, httpClient)
	if err != nil {
		return err
	}
	sessions := session.NewManager(authSvc)

	objects, err := store.NewObjectStore(cfg.Storage)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, errRedis := redis.ParseURL(cfg.Redis.URL)
		if errRedis != nil {
			return fmt.Errorf("parse redis url: %w", errRedis)
		}
		redisClient = redis.NewClient(opts)
		defer func() { _ = redisClient.Close() }()
	}

	var attempts loginstate.Store
	if redisClient != nil {
		attempts = loginstate.NewRedisStore(redisClient)
	} else {
		log.Warn("redis not configured, login attempts are process-local")
		attempts = loginstate.NewMemoryStore()
	}

	var (
		approvalStore approval.Store
		roleStore     roles.Store
	)
	if cfg.Postgres != "" {
		pool, errPool := store.NewPostgresPool(ctx, cfg.Postgres)
		if errPool != nil {
			return errPool
		}
		defer pool.Close()
		if err = store.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		approvalStore = approval.NewPostgresStore(pool)
		roleStore = roles.NewPostgresStore(pool)
	} else {
		log.Warn("postgres not configured, approvals and profiles are process-local")
		approvalStore = approval.NewMemoryStore()
		roleStore = roles.NewMemoryStore()
	}

	coordinator := approval.NewCoordinator(
		approvalStore,
		approval.NewHTTPSignaler(cfg.Approval.CallbackURL, httpClient),
		approval.NewMetrics(prometheus.DefaultRegisterer),
	)

	processor := thumbs.NewProcessor(objects, thumbs.Options{
		Prefix:      cfg.Thumbs.Prefix,
		MaxWidth:    cfg.Thumbs.MaxWidth,
		JPEGQuality: cfg.Thumbs.JPEGQuality,
	})

	var (
		consumer *thumbs.Consumer
		enqueue  api.Enqueuer
	)
	if redisClient != nil {
		consumer = thumbs.NewConsumer(redisClient, processor, cfg.Thumbs.Stream, cfg.Thumbs.Group)
		stream := cfg.Thumbs.Stream
		enqueue = func(ctx context.Context, key string) error {
			return thumbs.Enqueue(ctx, redisClient, stream, key)
		}
	} else {
		// Without a queue, thumbnails are generated inline.
		enqueue = processor.Process
	}

	var verifier api.TokenVerifier = api.UnverifiedVerifier{}
	if cfg.Cognito.JWKSURL != "" {
		verifier, err = api.NewJWKSVerifier(ctx, cfg.Cognito.JWKSURL)
		if err != nil {
			return fmt.Errorf("jwks setup: %w", err)
		}
	}

	server := api.NewServer(api.Deps{
		Config:      cfgPtr,
		Auth:        authSvc,
		Attempts:    attempts,
		Sessions:    sessions,
		Roles:       roleStore,
		Objects:     objects,
		Thumbs:      processor,
		Coordinator: coordinator,
		Enqueue:     enqueue,
		Verifier:    verifier,
	})

	watcher, err := config.NewWatcher(configPath, func(fresh *config.Config) {
		cfgPtr.Store(fresh)
	})
	if err != nil {
		log.Warnf("config watcher unavailable: %v", err)
	} else if err = watcher.Start(ctx); err != nil {
		log.Warnf("config watcher not started: %v", err)
	} else {
		defer func() { _ = watcher.Stop() }()
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Infof("listening on %s", cfg.Server.Addr)
		if errServe := httpServer.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return errServe
		}
		return nil
	})
	if consumer != nil {
		group.Go(func() error {
			return consumer.Run(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err = group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
