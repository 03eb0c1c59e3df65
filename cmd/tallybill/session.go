package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"tallybill/internal/config"
	"tallybill/internal/localstore"
	"tallybill/internal/remote"
	"tallybill/internal/syncengine"
)

const maxProbeTimeout = 5 * time.Second

type session struct {
	cfg    config.Client
	store  *localstore.SQLite
	client *remote.Client
	engine *syncengine.Engine
}

func configFilePath() (string, error) {
	if configFlag != "" {
		return configFlag, nil
	}
	return config.DefaultPath()
}

func loadClientConfig() (config.Client, error) {
	config.LoadDotEnv()
	path, err := configFilePath()
	if err != nil {
		return config.Client{}, err
	}
	file, err := config.ReadFile(path)
	if err != nil {
		return config.Client{}, err
	}
	return config.LoadClient(file), nil
}

// openSession restores local state and, unless --offline is set, probes the
// backend once to decide whether background sync starts right away.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := localstore.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	client := remote.NewClient(cfg.Endpoint, remote.WithTimeout(cfg.HTTPTimeout))

	online := false
	if !offlineFlag {
		online = probe(ctx, client, cfg.HTTPTimeout)
	}

	engine := syncengine.New(store, client, syncengine.Options{
		Online:         online,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	engine.Start(ctx)

	return &session{cfg: cfg, store: store, client: client, engine: engine}, nil
}

func probe(ctx context.Context, client *remote.Client, timeout time.Duration) bool {
	if timeout > maxProbeTimeout {
		timeout = maxProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(probeCtx); err != nil {
		log.Printf("[tallybill] backend unreachable, working offline: %v", err)
		return false
	}
	return true
}

// settle waits for background sync started by the session to finish.
func (s *session) settle(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(ctx, 2*s.cfg.HTTPTimeout)
	defer cancel()
	if err := s.engine.WaitIdle(waitCtx); err != nil {
		log.Printf("[tallybill] WARN: sync still running at exit: %v", err)
	}
}

func (s *session) Close() {
	s.engine.Close()
	if err := s.store.Close(); err != nil {
		log.Printf("[tallybill] WARN: failed to close local store: %v", err)
	}
}

// withSession runs fn between a settled start and a settled finish so reads
// see the latest snapshot and writes get a chance to reach the backend.
func withSession(ctx context.Context, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	s.settle(ctx)
	if err := fn(ctx, s); err != nil {
		return err
	}
	s.settle(ctx)
	return nil
}
