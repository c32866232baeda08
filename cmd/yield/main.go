package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/couchcryptid/relative-yield-service/internal/adapter/geotiff"
	"github.com/couchcryptid/relative-yield-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/relative-yield-service/internal/adapter/kafka"
	"github.com/couchcryptid/relative-yield-service/internal/adapter/minio"
	"github.com/couchcryptid/relative-yield-service/internal/adapter/netcdf"
	"github.com/couchcryptid/relative-yield-service/internal/adapter/remote"
	"github.com/couchcryptid/relative-yield-service/internal/adapter/sqlite"
	"github.com/couchcryptid/relative-yield-service/internal/aoi"
	"github.com/couchcryptid/relative-yield-service/internal/config"
	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/couchcryptid/relative-yield-service/internal/engine"
	"github.com/couchcryptid/relative-yield-service/internal/export"
	"github.com/couchcryptid/relative-yield-service/internal/observability"
	"github.com/couchcryptid/relative-yield-service/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	area, err := aoi.Load(cfg.AOIPath, cfg.AOICRS)
	if err != nil {
		logger.Error("failed to load AOI", "path", cfg.AOIPath, "error", err)
		os.Exit(1)
	}

	// Initialize the evaluation engine (ENGINE=local|remote).
	var (
		eng       domain.RasterPipeline
		evaluator domain.RasterPipeline
	)
	switch cfg.Engine {
	case config.EngineRemote:
		client := remote.NewClient(cfg.EngineURL, cfg.EngineTimeout, logger, metrics)
		eng = engine.NewRetrying(client, engine.RetryPolicy{
			Attempts:   cfg.EngineRetries + 1,
			Backoff:    cfg.EngineBackoff,
			MaxBackoff: 16 * cfg.EngineBackoff,
		}, logger, metrics)
		logger.Info("remote engine enabled", "url", cfg.EngineURL, "retries", cfg.EngineRetries)
	default:
		catalog := netcdf.NewCatalog(cfg.SceneDir, map[string]func() (domain.Raster, error){
			pipeline.LandCoverPrimary: sync.OnceValues(func() (domain.Raster, error) {
				return geotiff.ReadClassRaster(cfg.LandCoverPath, cfg.LandCoverCRS, cfg.LandCoverNodata)
			}),
			pipeline.LandCoverSecondary: sync.OnceValues(func() (domain.Raster, error) {
				return geotiff.ReadClassRaster(cfg.WorldCoverPath, cfg.WorldCoverCRS, cfg.WorldCoverNodata)
			}),
		}, logger)
		cached := engine.NewCachedCatalog(catalog, cfg.CacheSize, metrics)
		local := engine.NewLocal(cached, engine.Options{Workers: cfg.EngineWorkers, TileSize: cfg.TileSize}, logger, metrics)
		eng, evaluator = local, local
		logger.Info("local engine enabled", "scene_dir", cfg.SceneDir, "workers", cfg.EngineWorkers)
	}

	// Initialize export upload (enabled via MINIO_ENDPOINT).
	var uploader export.Uploader
	if cfg.MinioEndpoint != "" {
		u, err := minio.NewUploader(minio.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Secure:    cfg.MinioSecure,
		}, logger)
		if err == nil {
			err = u.EnsureBucket(ctx)
		}
		if err != nil {
			logger.Error("failed to initialize object storage", "endpoint", cfg.MinioEndpoint, "error", err)
			os.Exit(1)
		}
		uploader = u
		logger.Info("export upload enabled", "endpoint", cfg.MinioEndpoint, "bucket", cfg.MinioBucket)
	}
	exporter := export.New(cfg.OutputDir, cfg.OutputLabel, cfg.MaxPixels, uploader, logger)

	// Initialize report sinks (enabled via KAFKA_BROKERS / LEDGER_PATH).
	var (
		sinks     []pipeline.ReportSink
		history   httpadapter.RunHistory
		publisher *kafkaadapter.Publisher
		ledger    *sqlite.Ledger
	)
	if len(cfg.KafkaBrokers) > 0 {
		publisher = kafkaadapter.NewPublisher(cfg, logger)
		sinks = append(sinks, publisher)
		logger.Info("report publishing enabled", "topic", cfg.KafkaReportTopic)
	}
	if cfg.LedgerPath != "" {
		ledger, err = sqlite.Open(ctx, cfg.LedgerPath)
		if err != nil {
			logger.Error("failed to open run ledger", "path", cfg.LedgerPath, "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, ledger)
		history = ledger
		logger.Info("run ledger enabled", "path", cfg.LedgerPath)
	}

	mask := pipeline.NewLandCoverMask(pipeline.LandCoverPrimary, pipeline.LandCoverSecondary, domain.DefaultLandCoverClasses)
	p := pipeline.New(eng, pipeline.NewNormalizer(mask, cfg.MaxReducePixels), exporter, logger, metrics, sinks...)

	params := pipeline.Params{
		AOI: area,
		RunParams: domain.RunParams{
			StartYear:            cfg.StartYear,
			EndYear:              cfg.EndYear,
			StartMonth:           cfg.StartMonth,
			EndMonth:             cfg.EndMonth,
			CloudFilterThreshold: cfg.CloudFilterThreshold,
			ClearScoreThreshold:  cfg.ClearScoreThreshold,
			OutputCRS:            cfg.OutputCRS,
			OutputScale:          cfg.OutputScale,
		},
	}

	if cfg.RunOnce {
		_, err := p.Run(ctx, params)
		closeSinks(logger, publisher, ledger)
		if err != nil {
			os.Exit(1)
		}
		return
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, httpadapter.Routes{
		Outputs:           p,
		History:           history,
		Evaluator:         evaluator,
		EvaluateMaxPixels: cfg.MaxPixels,
	}, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Run the pipeline once; the server keeps serving its result.
	go func() {
		if _, err := p.Run(ctx, params); err != nil && ctx.Err() == nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	closeSinks(logger, publisher, ledger)

	logger.Info("shutdown complete")
}

func closeSinks(logger *slog.Logger, publisher *kafkaadapter.Publisher, ledger *sqlite.Ledger) {
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}
	if ledger != nil {
		if err := ledger.Close(); err != nil {
			logger.Error("run ledger close error", "error", err)
		}
	}
}
