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

// Package pool fills the pooled accounts of provisioned votings in the
// background, one bounded batch per issuer and pass.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/blinklabs-io/devote/backend"
	"github.com/blinklabs-io/devote/database"
	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/event"
)

const (
	DefaultSampleSize     = 20
	DefaultParallelism    = 4
	DefaultClaimTTL       = 5 * time.Minute
	DefaultBackendTimeout = 30 * time.Second
)

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	DB           *database.Database
	Registry     *backend.Registry
	// EventBus is optional
	EventBus *event.EventBus
	// SampleSize bounds the progress rows handled per pass
	SampleSize  int
	Parallelism int
	// ClaimTTL is how long a claimed row is hidden from other passes
	ClaimTTL       time.Duration
	BackendTimeout time.Duration
}

type BatchTask struct {
	config  Config
	logger  *slog.Logger
	metrics *poolMetrics
}

func New(cfg Config) (*BatchTask, error) {
	if cfg.DB == nil {
		return nil, errors.New("pool: no database")
	}
	if cfg.Registry == nil {
		return nil, errors.New("pool: no backend registry")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = DefaultBackendTimeout
	}
	b := &BatchTask{
		config: cfg,
		logger: cfg.Logger.With("component", "pool"),
	}
	if cfg.PromRegistry != nil {
		b.metrics = newPoolMetrics(cfg.PromRegistry)
	}
	return b, nil
}

// Run is the scheduler entry point for RunPass
func (b *BatchTask) Run(ctx context.Context) {
	if _, err := b.RunPass(ctx); err != nil && ctx.Err() == nil {
		b.logger.Error("pool pass failed", "error", err)
	}
}

// RunPass samples unfinished progress rows and creates one batch of
// pooled accounts for each row it manages to claim. Rows are handled
// concurrently; a failing row is logged and left for a later pass. It
// returns the number of accounts created.
func (b *BatchTask) RunPass(ctx context.Context) (int64, error) {
	start := time.Now()
	rows, err := b.config.DB.SampleUnfinishedProgress(ctx, start, b.config.SampleSize)
	if err != nil {
		return 0, fmt.Errorf("sample progress: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	pass := &batchPass{
		task: b,
		ops:  make(map[opsKey]*backend.Ops),
	}
	var g errgroup.Group
	g.SetLimit(b.config.Parallelism)
	var mu sync.Mutex
	var created int64
	for i := range rows {
		row := rows[i]
		g.Go(func() error {
			n, err := pass.processRow(ctx, &row)
			mu.Lock()
			created += n
			mu.Unlock()
			if err != nil {
				b.logger.Warn(
					"pool batch failed",
					"voting_id", row.VotingID,
					"issuer_id", row.IssuerID,
					"created", n,
					"error", err,
				)
				if b.metrics != nil {
					b.metrics.batchFailures.Inc()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if b.metrics != nil {
		b.metrics.passDuration.Observe(time.Since(start).Seconds())
	}
	b.logger.Debug(
		"pool pass finished",
		"rows", len(rows),
		"created", created,
	)
	return created, nil
}

type opsKey struct {
	network    string
	useTestnet bool
}

// batchPass caches what rows of one pass share
type batchPass struct {
	task *BatchTask
	mu   sync.Mutex
	ops  map[opsKey]*backend.Ops
}

func (p *batchPass) opsFor(voting *models.Voting) (*backend.Ops, error) {
	key := opsKey{network: voting.Network, useTestnet: voting.UseTestnet}
	p.mu.Lock()
	defer p.mu.Unlock()
	if ops, ok := p.ops[key]; ok {
		return ops, nil
	}
	ops, err := p.task.config.Registry.Open(voting.Network, voting.UseTestnet)
	if err != nil {
		return nil, err
	}
	p.ops[key] = ops
	return ops, nil
}

func (p *batchPass) processRow(
	ctx context.Context,
	row *models.PooledAccountProgress,
) (int64, error) {
	b := p.task
	ok, err := b.config.DB.ClaimProgress(ctx, row, time.Now(), b.config.ClaimTTL)
	if err != nil {
		return 0, fmt.Errorf("claim progress: %w", err)
	}
	if !ok {
		// Claimed by a concurrent pass
		return 0, nil
	}
	voting, err := b.config.DB.GetVoting(ctx, row.VotingID, nil)
	if err != nil {
		return 0, p.release(ctx, row, err)
	}
	issuer, err := b.config.DB.GetIssuer(ctx, row.IssuerID, nil)
	if err != nil {
		return 0, p.release(ctx, row, err)
	}
	ops, err := p.opsFor(voting)
	if err != nil {
		return 0, p.release(ctx, row, err)
	}
	want := min(row.LeftToCreate, int64(ops.Pooled.MaxBatchSize()))
	accounts := make([]models.PooledAccount, 0, want)
	var createErr error
	for range want {
		callCtx, cancel := context.WithTimeout(ctx, b.config.BackendTimeout)
		account, err := ops.Pooled.Create(callCtx, issuer.VotesCap, backendIssuer(issuer))
		cancel()
		if err != nil {
			createErr = fmt.Errorf("create pooled account: %w", err)
			break
		}
		accounts = append(accounts, models.PooledAccount{
			VotingID:      row.VotingID,
			IssuerID:      row.IssuerID,
			AccountPublic: account.ID,
			AccountSecret: account.Secret,
		})
	}
	n := int64(len(accounts))
	// Accounts created before a failure or cancellation are still stored
	left, err := b.config.DB.CompleteBatch(context.WithoutCancel(ctx), row, accounts)
	if err != nil {
		return 0, errors.Join(createErr, fmt.Errorf("complete batch: %w", err))
	}
	if b.metrics != nil {
		b.metrics.accountsCreated.Add(float64(n))
	}
	if left == 0 {
		b.logger.Info(
			"pooled accounts complete",
			"voting_id", row.VotingID,
			"issuer_id", row.IssuerID,
			"created", row.ToCreate,
		)
		if b.metrics != nil {
			b.metrics.poolsCompleted.Inc()
		}
		if b.config.EventBus != nil {
			b.config.EventBus.PublishAsync(
				event.PoolCompleteEventType,
				event.NewEvent(
					event.PoolCompleteEventType,
					event.PoolCompleteEvent{
						VotingID: row.VotingID,
						IssuerID: row.IssuerID,
						Created:  row.ToCreate,
					},
				),
			)
		}
	}
	return n, createErr
}

// release gives up a claim without creating accounts so the row is picked
// up again by the next pass
func (p *batchPass) release(
	ctx context.Context,
	row *models.PooledAccountProgress,
	cause error,
) error {
	if _, err := p.task.config.DB.CompleteBatch(context.WithoutCancel(ctx), row, nil); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func backendIssuer(issuer *models.Issuer) backend.Issuer {
	return backend.Issuer{
		Account: backend.Account{
			ID:     issuer.AccountPublic,
			Secret: issuer.AccountSecret,
		},
		AssetCode: issuer.AssetCode,
		VotesCap:  issuer.VotesCap,
	}
}
