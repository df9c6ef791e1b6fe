package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bryanwahyu/skinroutine/internal/application"
	appreconcile "github.com/bryanwahyu/skinroutine/internal/application/reconcile"
	"github.com/bryanwahyu/skinroutine/internal/config"
	"github.com/bryanwahyu/skinroutine/internal/domain/assignments"
	"github.com/bryanwahyu/skinroutine/internal/domain/catalog"
	"github.com/bryanwahyu/skinroutine/internal/domain/locking"
	"github.com/bryanwahyu/skinroutine/internal/domain/snapshots"
	"github.com/bryanwahyu/skinroutine/internal/infra/cache"
	"github.com/bryanwahyu/skinroutine/internal/infra/db"
	"github.com/bryanwahyu/skinroutine/internal/infra/db/memory"
	mysqlp "github.com/bryanwahyu/skinroutine/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/skinroutine/internal/infra/db/postgres"
	"github.com/bryanwahyu/skinroutine/internal/infra/httpserver"
	"github.com/bryanwahyu/skinroutine/internal/infra/lock"
	"github.com/bryanwahyu/skinroutine/internal/infra/skinapi"
	minioStore "github.com/bryanwahyu/skinroutine/internal/infra/storage"
	"github.com/bryanwahyu/skinroutine/internal/logger"
	"github.com/bryanwahyu/skinroutine/internal/metrics"
	"github.com/bryanwahyu/skinroutine/internal/middleware"
)

// stores groups the persistence ports for one driver.
type stores struct {
	catalog     catalog.Repository
	assignments assignments.Repository
	snapshots   snapshots.Repository
	tx          appreconcile.TxRunner
	health      middleware.HealthChecker
	close       func() error
}

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("database init error", "driver", cfg.Database.Driver, "error", err)
	}
	defer st.close()

	checkers := map[string]middleware.HealthChecker{"database": st.health}

	// redis is optional: without it the lock is in-process and the catalog is not cached
	var locker locking.Locker = lock.NewMemoryLocker(cfg.Redis.LockWait)
	catalogRepo := st.catalog
	rdb, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal("redis init error", "error", err)
	}
	if rdb != nil {
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, cfg.Redis.LockWait)
		cc := cache.NewCatalogCache(st.catalog, rdb, cfg.Redis.CatalogTTL, log)
		// a deploy may ship a migrated or reseeded catalog
		if err := cc.Invalidate(ctx); err != nil {
			log.Warn("catalog cache invalidate failed", "error", err)
		}
		catalogRepo = cc
		checkers["redis"] = middleware.CheckFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		log.Info("redis enabled", "addr", cfg.Redis.Addr)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := &appreconcile.Service{
		Catalog:     catalogRepo,
		Assignments: st.assignments,
		Snapshots:   st.snapshots,
		Tx:          st.tx,
		Locker:      locker,
		Analyzer: skinapi.NewClient(
			cfg.AnalysisAPI.BaseURL,
			cfg.AnalysisAPI.APIKey,
			cfg.AnalysisAPI.APISecret,
			cfg.AnalysisAPI.Timeout,
			cfg.AnalysisAPI.MaxRetries,
			log,
		),
		Clock:   application.SystemClock{},
		Metrics: m,
		Log:     log.With("service", "reconcile"),
	}

	if cfg.Minio.Endpoint != "" {
		images, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Fatal("minio init error", "error", err)
		}
		svc.Images = images
		checkers["storage"] = middleware.CheckFunc(images.Ping)
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSecond)
	defer limiter.Stop()

	handler := httpserver.NewRouter(svc, httpserver.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKeys:     cfg.Server.APIKeys,
		Limiter:     limiter,
		Metrics:     m,
		Gatherer:    reg,
		Checkers:    checkers,
		Log:         log.With("component", "http"),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AnalysisAPI.Timeout*time.Duration(cfg.AnalysisAPI.MaxRetries+1) + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", "error", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error("shutdown error", "error", err)
	}
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	switch cfg.Database.Driver {
	case "memory":
		cat, err := loadCatalogFile(cfg.Database.CatalogFile)
		if err != nil {
			return nil, err
		}
		m := memory.NewStore(cat)
		log.Warn("using in-memory store; data is lost on restart")
		return &stores{
			catalog: m, assignments: m, snapshots: m, tx: m,
			health: middleware.CheckFunc(m.Ping),
			close:  func() error { return nil },
		}, nil

	case "postgres":
		conn, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := postgresp.EnsureSchema(ctx, conn); err != nil {
				conn.Close()
				return nil, err
			}
		}
		return sqlStores(conn,
			postgresp.NewCatalogRepository(conn),
			postgresp.NewAssignmentRepository(conn),
			postgresp.NewSnapshotRepository(conn),
		), nil

	case "mysql":
		conn, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := mysqlp.EnsureSchema(ctx, conn); err != nil {
				conn.Close()
				return nil, err
			}
		}
		return sqlStores(conn,
			mysqlp.NewCatalogRepository(conn),
			mysqlp.NewAssignmentRepository(conn),
			mysqlp.NewSnapshotRepository(conn),
		), nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func sqlStores(conn *sql.DB, c catalog.Repository, a assignments.Repository, s snapshots.Repository) *stores {
	return &stores{
		catalog:     c,
		assignments: a,
		snapshots:   s,
		tx:          db.NewTxManager(conn, 10*time.Second),
		health:      &middleware.DatabaseHealthChecker{DB: conn},
		close:       conn.Close,
	}
}

func loadCatalogFile(path string) (*catalog.Catalog, error) {
	if path == "" {
		return &catalog.Catalog{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var cat catalog.Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	return &cat, nil
}
