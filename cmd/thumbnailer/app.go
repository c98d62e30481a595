package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
	"go.uber.org/multierr"

	"github.com/Lunanaall/thumbnailer/internal/config"
	"github.com/Lunanaall/thumbnailer/internal/infra/postgres"
	"github.com/Lunanaall/thumbnailer/internal/lease"
	"github.com/Lunanaall/thumbnailer/internal/pipeline"
	"github.com/Lunanaall/thumbnailer/internal/processor"
	imagerepo "github.com/Lunanaall/thumbnailer/internal/repository/image"
	"github.com/Lunanaall/thumbnailer/internal/repository/migrate"
	"github.com/Lunanaall/thumbnailer/internal/storage/blob"
)

var errItemsFailed = errors.New("some images failed")

// closers releases resources acquired for a run in reverse order.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close() error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = multierr.Append(err, c[i]())
	}
	return err
}

func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.workers > 0 {
		cfg.Pipeline.Workers = f.workers
	}
	return cfg, nil
}

// runPass wires the pipeline from configuration and performs one run.
func runPass(ctx context.Context, f *flags, dryRun bool) (err error) {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	log := zlog.Logger.With().Str("run_id", runID).Logger()
	strategy := cfg.Retry.Strategy()

	var res closers
	defer func() {
		if cerr := res.close(); cerr != nil {
			log.Error().Err(cerr).Msg("failed to release resources")
			err = multierr.Append(err, cerr)
		}
	}()

	// Connect to the metadata store.
	db, err := postgres.Open(ctx, cfg.Database, strategy)
	if err != nil {
		return err
	}
	res.add(db.Close)

	repoOpts := []imagerepo.Option{
		imagerepo.WithTable(cfg.Database.Table),
		imagerepo.WithPolicy(cfg.Pipeline.Policy()),
	}
	if cfg.Lease.Backend == config.LeaseDB {
		repoOpts = append(repoOpts, imagerepo.WithLease(runID, cfg.Lease.TTL))
	}
	repo := imagerepo.NewRepository(db.Gorm, repoOpts...)

	// Connect to the object store.
	store, err := blob.New(ctx, blob.Options{
		Driver:        cfg.Storage.Driver,
		Endpoint:      cfg.Storage.Endpoint,
		Region:        cfg.Storage.Region,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		UseSSL:        cfg.Storage.UseSSL,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	if !dryRun {
		err = retry.Do(func() error {
			return store.EnsureContainer(ctx, cfg.Storage.ThumbnailsContainer)
		}, strategy)
		if err != nil {
			return fmt.Errorf("failed to prepare container %s: %w", cfg.Storage.ThumbnailsContainer, err)
		}
	}

	proc, err := processor.New(processor.Options{
		MaxEdge: cfg.Thumbnail.MaxEdge,
		Quality: cfg.Thumbnail.Quality,
	})
	if err != nil {
		return err
	}

	pipeOpts := []pipeline.Option{pipeline.WithLogger(log)}
	switch cfg.Lease.Backend {
	case config.LeaseDB:
		pipeOpts = append(pipeOpts, pipeline.WithClaimer(repo))
	case config.LeaseRedis:
		client, err := lease.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		res.add(client.Close)
		pipeOpts = append(pipeOpts, pipeline.WithClaimer(lease.NewRedis(client, cfg.Redis.Prefix, runID, cfg.Lease.TTL)))
	}

	p := pipeline.New(repo, store, proc, pipeline.Options{
		OriginalsContainer:  cfg.Storage.OriginalsContainer,
		ThumbnailsContainer: cfg.Storage.ThumbnailsContainer,
		KeyPrefix:           cfg.Thumbnail.KeyPrefix,
		Workers:             cfg.Pipeline.Workers,
		DryRun:              dryRun,
	}, pipeOpts...)

	log.Info().
		Str("table", cfg.Database.Table).
		Str("policy", cfg.Pipeline.PendingPolicy).
		Str("lease", cfg.Lease.Backend).
		Int("workers", cfg.Pipeline.Workers).
		Msg("starting run")

	summary, err := p.Run(ctx)
	if err != nil {
		return err
	}
	if !summary.OK() {
		return fmt.Errorf("%w: %d of %d", errItemsFailed, summary.Failed, summary.Total)
	}

	return nil
}

// runMigrate applies the embedded schema migrations.
func runMigrate(ctx context.Context, f *flags) (err error) {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	db, err := postgres.Open(ctx, cfg.Database, cfg.Retry.Strategy())
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	if err := migrate.Up(db.Pool.Master); err != nil {
		return err
	}

	version, err := migrate.Version(db.Pool.Master)
	if err != nil {
		return err
	}
	zlog.Logger.Info().Int64("version", version).Msg("schema up to date")

	return nil
}
