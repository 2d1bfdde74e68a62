package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"auditflow/internal/artifact"
	"auditflow/internal/config"
	"auditflow/internal/events"
	"auditflow/internal/forward"
	"auditflow/internal/ingest"
	"auditflow/internal/pipeline"
	"auditflow/internal/runstore"
	"auditflow/internal/scanner"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	eventBuffer  = 64
	runCacheSize = 256
)

func newIngestor(cfg *config.Config, logger *zap.Logger) *ingest.Ingestor {
	return ingest.New(ingest.Limits{
		MaxArchiveBytes: cfg.Ingest.MaxArchiveBytes,
		MaxExtractBytes: cfg.Ingest.MaxExtractBytes,
	}, logger)
}

func newScanner(cfg *config.Config, logger *zap.Logger) *scanner.Scanner {
	runner := scanner.SemgrepRunner{
		Binary:    cfg.Scanner.Binary,
		Rules:     cfg.Scanner.Rules,
		ExtraArgs: cfg.Scanner.ExtraArgs,
	}
	return scanner.New(runner, scanner.Options{
		MaxBatchChars: cfg.Scanner.MaxBatchChars,
		BatchTimeout:  cfg.Scanner.BatchTimeout,
		Concurrency:   cfg.Scanner.Concurrency,
	}, logger)
}

func newForwarder(cfg *config.Config, logger *zap.Logger) *forward.Client {
	return forward.New(forward.Options{
		BaseURL:    cfg.Forward.BaseURL,
		Endpoint:   cfg.Forward.Endpoint,
		Timeout:    cfg.Forward.Timeout,
		Retries:    cfg.Forward.Retries,
		RetryDelay: cfg.Forward.RetryDelay,
	}, nil, logger)
}

// newPublisher returns the in-process hub used by the events stream and,
// when NATS is configured, a publisher that also fans out to it.
func newPublisher(cfg *config.Config, service string, logger *zap.Logger) (events.Publisher, *events.Hub, []func(), error) {
	hub := events.NewHub(eventBuffer)
	url := strings.TrimSpace(cfg.NATS.URL)
	if url == "" {
		return hub, hub, nil, nil
	}
	nc, err := events.ConnectNATS(url, cfg.NATS.Subject)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info("events: nats enabled", zap.String("service", service), zap.String("subject", cfg.NATS.Subject))
	return events.Multi{hub, nc}, hub, []func(){nc.Close}, nil
}

// newRunStore picks Postgres when a database URL is configured and the
// artifact files otherwise, with an LRU cache in front of either.
func newRunStore(ctx context.Context, cfg *config.Config, dataRoot string, logger *zap.Logger) (*runstore.CachedStore, []func(), error) {
	var (
		origin  runstore.Store
		closers []func()
	)
	if dsn := strings.TrimSpace(cfg.Database.URL); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open db: %w", err)
		}
		pg, err := runstore.NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		origin = pg
		logger.Info("run store: postgres")
	} else {
		abs, err := filepath.Abs(dataRoot)
		if err != nil {
			return nil, nil, err
		}
		origin = runstore.NewFileStore(filepath.Join(abs, pipeline.StageTwoOutput))
		logger.Info("run store: files")
	}
	cached, err := runstore.NewCachedStore(origin, runCacheSize)
	if err != nil {
		closeAll(closers)
		return nil, nil, err
	}
	return cached, closers, nil
}

// newMirror returns nil when artifact mirroring is off.
func newMirror(cfg *config.Config, logger *zap.Logger) (*artifact.Mirror, error) {
	if !cfg.Artifact.Enabled {
		return nil, nil
	}
	s3, err := artifact.NewS3Store(artifact.S3Config{
		Endpoint:  cfg.Artifact.Endpoint,
		Region:    cfg.Artifact.Region,
		AccessKey: cfg.Artifact.AccessKey,
		SecretKey: cfg.Artifact.SecretKey,
		Bucket:    cfg.Artifact.Bucket,
		UseSSL:    cfg.Artifact.UseSSL,
		URLExpiry: cfg.Artifact.URLExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact s3 store: %w", err)
	}
	logger.Info("artifact store: s3", zap.String("bucket", cfg.Artifact.Bucket), zap.String("endpoint", cfg.Artifact.Endpoint))
	return artifact.NewMirror(s3, logger), nil
}
