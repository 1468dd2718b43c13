package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/callcoach/internal/analyzer"
	"github.com/hpungsan/callcoach/internal/cancel"
	"github.com/hpungsan/callcoach/internal/config"
	"github.com/hpungsan/callcoach/internal/identity"
	"github.com/hpungsan/callcoach/internal/logger"
	"github.com/hpungsan/callcoach/internal/objectstore"
	"github.com/hpungsan/callcoach/internal/ops"
	"github.com/hpungsan/callcoach/internal/transcribe"
)

// mockPollsUntilDone keeps local mock runs exercising the poll loop.
const mockPollsUntilDone = 2

// appEnv is what every command gets. store is built on first use unless a
// test set it.
type appEnv struct {
	baseDir string
	db      *sql.DB
	cfg     *config.Config
	log     *logger.Logger
	store   objectstore.Store

	closers []func() error
}

func (e *appEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.WithError(err).Warn("close failed")
		}
	}
	e.closers = nil
}

func (e *appEnv) objectStore(ctx context.Context) (objectstore.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	switch e.cfg.StorageBackend {
	case "", "memory":
		e.log.Warn("using in-memory object storage; objects do not outlive the process")
		e.store = objectstore.NewMemory(e.cfg.Bucket, e.cfg.ObjectPrefix)
	case "gcs":
		g, err := objectstore.NewGCS(ctx, e.cfg.Bucket, e.cfg.ObjectPrefix, e.cfg.GCSCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("open bucket %q: %w", e.cfg.Bucket, err)
		}
		e.closers = append(e.closers, g.Close)
		e.store = g
	default:
		return nil, fmt.Errorf("unknown storage_backend %q (want gcs or memory)", e.cfg.StorageBackend)
	}
	return e.store, nil
}

func (e *appEnv) verifier() identity.Verifier {
	if e.cfg.IdentityURL != "" {
		return identity.NewHTTPVerifier(e.cfg.IdentityURL)
	}
	return identity.Static(e.cfg.StaticTokens)
}

func (e *appEnv) backend() (transcribe.Backend, error) {
	if e.cfg.MockTranscribe {
		return transcribe.NewMock(mockPollsUntilDone), nil
	}
	if e.cfg.TranscribeURL == "" {
		return nil, fmt.Errorf("transcribe_url is required unless mock_transcribe is set")
	}
	return transcribe.NewHTTPClient(e.cfg.TranscribeURL), nil
}

func (e *appEnv) analyzer(ctx context.Context) (analyzer.Analyzer, error) {
	if e.cfg.MockAnalyzer {
		return analyzer.Mock{}, nil
	}
	v, err := analyzer.NewVertex(ctx, e.cfg.VertexProject, e.cfg.VertexRegion, e.cfg.VertexModel)
	if err != nil {
		return nil, fmt.Errorf("vertex analyzer: %w", err)
	}
	e.closers = append(e.closers, v.Close)
	return v, nil
}

func (e *appEnv) sweeper(ctx context.Context) (*ops.Sweeper, error) {
	store, err := e.objectStore(ctx)
	if err != nil {
		return nil, err
	}
	return ops.NewSweeper(e.db, e.cfg, store, e.log.Entry), nil
}

// services is the fully wired ingestion stack used by serve.
type services struct {
	registry *cancel.Registry
	queue    *ops.Queue
	gateway  *ops.Gateway
	sweeper  *ops.Sweeper
	verifier identity.Verifier
}

func (e *appEnv) services(ctx context.Context) (*services, error) {
	store, err := e.objectStore(ctx)
	if err != nil {
		return nil, err
	}
	backend, err := e.backend()
	if err != nil {
		return nil, err
	}
	an, err := e.analyzer(ctx)
	if err != nil {
		return nil, err
	}
	signer, err := ops.NewSigner(e.cfg.SigningSecret)
	if err != nil {
		return nil, err
	}

	registry := cancel.NewRegistry(e.cfg.MaxOperations)
	pipeline := ops.NewPipeline(e.db, e.cfg, store, backend, an, registry, e.log.Entry)
	queue := ops.NewQueue(pipeline.Process, e.log.Entry,
		ops.WithWorkers(e.cfg.Workers),
		ops.WithQueueSize(e.cfg.QueueSize),
	)
	verifier := e.verifier()

	return &services{
		registry: registry,
		queue:    queue,
		gateway:  ops.NewGateway(e.db, e.cfg, store, verifier, signer, queue, e.log.Entry),
		sweeper:  ops.NewSweeper(e.db, e.cfg, store, e.log.Entry),
		verifier: verifier,
	}, nil
}
