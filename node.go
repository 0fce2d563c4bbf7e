// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package devote composes the voting services into a runnable node
package devote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/blinklabs-io/devote/api"
	"github.com/blinklabs-io/devote/backend"
	"github.com/blinklabs-io/devote/backend/evm"
	"github.com/blinklabs-io/devote/backend/mockchain"
	"github.com/blinklabs-io/devote/commission"
	"github.com/blinklabs-io/devote/database"
	"github.com/blinklabs-io/devote/envelope"
	"github.com/blinklabs-io/devote/event"
	"github.com/blinklabs-io/devote/pool"
	"github.com/blinklabs-io/devote/provision"
	"github.com/blinklabs-io/devote/publish"
	"github.com/blinklabs-io/devote/scheduler"
	"github.com/blinklabs-io/devote/voting"
)

type Node struct {
	registry      *backend.Registry
	db            *database.Database
	eventBus      *event.EventBus
	publisher     *publish.Publisher
	provisioner   *provision.Provisioner
	poolTask      *pool.BatchTask
	votings       *voting.Service
	commission    *commission.Service
	scheduler     *scheduler.Scheduler
	apiServer     *api.Server
	shutdownFuncs []func(context.Context) error
	config        Config
	ready         chan struct{}
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	n := &Node{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	return n, nil
}

// Run starts all services and blocks until Stop is called. Startup errors
// are returned right away.
func (n *Node) Run(ctx context.Context) error {
	if err := n.start(ctx); err != nil {
		return err
	}
	close(n.ready)
	<-n.done
	return nil
}

// Ready is closed once Run has started all services
func (n *Node) Ready() <-chan struct{} {
	return n.ready
}

// Handler returns the HTTP API handler. It is nil until the node is ready.
func (n *Node) Handler() http.Handler {
	if n.apiServer == nil {
		return nil
	}
	return n.apiServer.Handler()
}

func (n *Node) start(ctx context.Context) error {
	logger := n.config.logger
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(ctx); err != nil {
			return err
		}
	}
	// Backend registry
	n.registry = backend.NewRegistry(logger, BuiltinBackends()...)
	for _, entry := range n.config.backends {
		n.registry.Register(entry)
	}
	for name, options := range n.config.backendOptions {
		n.registry.SetOptions(name, options)
	}
	// Envelope signer
	signer, err := n.loadSigner()
	if err != nil {
		return err
	}
	// Load database
	db, err := database.New(&database.Config{
		DataDir:        n.config.dataDir,
		Logger:         logger,
		PromRegistry:   n.config.promRegistry,
		BlobPlugin:     n.config.blobPlugin,
		MetadataPlugin: n.config.metadataPlugin,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	n.publisher = publish.New(db.Blob(), logger)
	// Services
	n.provisioner, err = provision.New(provision.Config{
		Logger:         logger,
		PromRegistry:   n.config.promRegistry,
		DB:             db,
		Registry:       n.registry,
		Publisher:      n.publisher,
		EventBus:       n.eventBus,
		MaxVotesCap:    n.config.maxVotesCap,
		BackendTimeout: n.config.backendTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create provisioner: %w", err)
	}
	n.poolTask, err = pool.New(pool.Config{
		Logger:         logger,
		PromRegistry:   n.config.promRegistry,
		DB:             db,
		Registry:       n.registry,
		EventBus:       n.eventBus,
		SampleSize:     n.config.poolSampleSize,
		Parallelism:    n.config.poolParallelism,
		BackendTimeout: n.config.backendTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create pool task: %w", err)
	}
	n.votings, err = voting.New(voting.Config{
		Logger: logger,
		DB:     db,
	})
	if err != nil {
		return fmt.Errorf("failed to create voting service: %w", err)
	}
	n.commission, err = commission.New(commission.Config{
		Logger:         logger,
		PromRegistry:   n.config.promRegistry,
		DB:             db,
		Registry:       n.registry,
		Signer:         signer,
		Readiness:      n.provisioner,
		BackendTimeout: n.config.backendTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create commission service: %w", err)
	}
	n.eventBus.SubscribeFunc(event.VotingProvisionedEventType, func(evt event.Event) {
		if data, ok := evt.Data.(event.VotingProvisionedEvent); ok {
			logger.Info(
				"voting provisioned",
				"component", "node",
				"voting_id", data.VotingID,
				"cid", data.Cid,
			)
		}
	})
	// Background tasks
	n.scheduler = scheduler.NewScheduler(n.config.poolInterval)
	n.scheduler.Register(1, n.poolTask.Run, func() {
		logger.Debug("pool pass still running, skipping tick", "component", "node")
	})
	n.scheduler.Register(
		retryTicks(n.config),
		n.provisioner.RetryPass,
		nil,
	)
	n.scheduler.Start()
	// HTTP API
	n.apiServer = api.New(
		api.Config{
			ListenAddress: n.config.listenAddress,
			Provisioner:   n.provisioner,
			Votings:       n.votings,
			Commission:    n.commission,
			Gatherer:      n.config.promGatherer,
		},
		logger,
	)
	if n.config.listenAddress != "" {
		if err := n.apiServer.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) loadSigner() (*envelope.Signer, error) {
	if n.config.signer != nil {
		return n.config.signer, nil
	}
	if n.config.envelopeKeyFile != "" {
		signer, err := envelope.Load(n.config.envelopeKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load envelope key: %w", err)
		}
		return signer, nil
	}
	n.config.logger.Warn(
		"no envelope key configured, generating one; envelope signatures will not survive a restart",
		"component", "node",
	)
	signer, err := envelope.Generate(generatedKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate envelope key: %w", err)
	}
	return signer, nil
}

// BuiltinBackends returns the ledger backends every node registers
func BuiltinBackends() []backend.Entry {
	return []backend.Entry{
		mockchain.New().Entry(),
		evm.NewEntry(),
	}
}

// retryTicks converts the retry interval into scheduler ticks
func retryTicks(cfg Config) int {
	return max(1, int(cfg.retryInterval/cfg.poolInterval))
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	shutdownTimeout := DefaultShutdownTimeout
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	logger := n.config.logger

	logger.Debug("starting graceful shutdown", "component", "node")

	// Phase 1: Stop accepting new work
	logger.Debug("shutdown phase 1: stopping new work", "component", "node")

	if n.apiServer != nil {
		if stopErr := n.apiServer.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}

	// Phase 2: Drain background work
	logger.Debug("shutdown phase 2: draining background work", "component", "node")

	if n.scheduler != nil {
		n.scheduler.Stop()
	}

	if n.provisioner != nil {
		n.provisioner.Stop()
	}

	// Phase 3: Close database
	logger.Debug("shutdown phase 3: closing database", "component", "node")

	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 4: Cleanup resources
	logger.Debug("shutdown phase 4: cleanup resources", "component", "node")

	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	logger.Debug("graceful shutdown complete", "component", "node")
	close(n.done)
	return err
}
