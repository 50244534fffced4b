// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/giak/mnemo-lite-sub001/internal/breaker"
	"github.com/giak/mnemo-lite-sub001/internal/cache"
	"github.com/giak/mnemo-lite-sub001/internal/config"
	"github.com/giak/mnemo-lite-sub001/internal/embed"
	"github.com/giak/mnemo-lite-sub001/internal/server"
	"github.com/giak/mnemo-lite-sub001/internal/store"
	"github.com/giak/mnemo-lite-sub001/internal/worker"
	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

// app holds the wired control-plane subsystems. Construction order
// matters: the durable store first (it is the cascade's fallback and
// its absence is fatal), then the protected dependencies around it.
type app struct {
	breakers  *breaker.Registry
	artifacts *store.ArtifactStore
	vectors   *store.VectorStore
	cache     *cache.Cascading
	embedder  *embed.Client
	workers   *worker.Registry
	server    *server.Server

	redisClient *redis.Client
}

// buildApp constructs every subsystem from configuration.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{breakers: breaker.NewRegistry()}

	artifacts, err := store.NewArtifactStore(cfg.Storage.Path, cfg.Storage.QueryTimeout)
	if err != nil {
		return nil, err
	}
	a.artifacts = artifacts

	l1, err := cache.NewMemoryTier(cfg.Cache.L1Capacity)
	if err != nil {
		a.Close()
		return nil, err
	}

	cacheOpts := []cache.Option{cache.WithLogger(logger)}
	if cfg.Cache.Redis.Enabled {
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})

		redisCB, err := breaker.New("redis", breaker.Config{
			FailureThreshold: cfg.Cache.Redis.FailureThreshold,
			RecoveryTimeout:  cfg.Cache.Redis.RecoveryTimeout,
			HalfOpenMaxCalls: 1,
		}, nil)
		if err != nil {
			a.Close()
			return nil, err
		}
		redisCB.SetLogger(logger)
		a.breakers.Register(redisCB, false)

		l2 := cache.NewRedisTier(a.redisClient, redisCB, cfg.Cache.Redis.OpTimeout)
		cacheOpts = append(cacheOpts, cache.WithDistributedTier(l2, redisCB))
	}

	a.cache, err = cache.NewCascading(l1, artifacts.Loader(), cacheOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Embedding.Enabled {
		a.vectors, err = store.NewVectorStore(artifacts.DB(), cfg.Embedding.Dimensions, cfg.Storage.QueryTimeout)
		if err != nil {
			a.Close()
			return nil, err
		}

		a.embedder, err = embed.New(embed.Config{
			APIKey:           cfg.Embedding.APIKey,
			BaseURL:          cfg.Embedding.BaseURL,
			Model:            cfg.Embedding.Model,
			Dimensions:       cfg.Embedding.Dimensions,
			BatchTimeout:     cfg.Embedding.BatchTimeout,
			FailureThreshold: cfg.Embedding.FailureThreshold,
			RecoveryTimeout:  cfg.Embedding.RecoveryTimeout,
			Critical:         cfg.Embedding.Critical,
		}, a.breakers, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	if cfg.Workers.Manifest != "" {
		data, err := os.ReadFile(cfg.Workers.Manifest)
		if err != nil {
			a.Close()
			return nil, mnemoerr.Wrap(err, mnemoerr.CodeWorkerManifestInvalid, "reading worker manifest")
		}
		manifest, err := worker.ParseManifest(data)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.workers, err = worker.NewRegistry(manifest.Workers, a.breakers, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	var snapshotter server.WorkerSnapshotter
	if a.workers != nil {
		snapshotter = a.workers
	}

	a.server, err = server.New(server.Config{
		ListenAddr: cfg.Server.Listen,
	}, a.breakers, snapshotter, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Close tears subsystems down in reverse dependency order.
func (a *app) Close() {
	if a.workers != nil {
		a.workers.Shutdown()
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	if a.artifacts != nil {
		_ = a.artifacts.Close()
	}
}
