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

// Package provision creates votings and the ledger accounts they need.
//
// Provisioning runs in stages. Validation, the funding check and
// persisting the voting happen in the caller's request. Issuer accounts,
// the distribution and ballot accounts, pool progress rows and the
// published snapshot are created in the background. Every background
// stage is skipped when its result already exists, so an interrupted run
// is completed by Resume.
package provision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/devote/backend"
	"github.com/blinklabs-io/devote/database"
	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/disclosure"
	"github.com/blinklabs-io/devote/event"
	"github.com/blinklabs-io/devote/internal/errs"
	"github.com/blinklabs-io/devote/publish"
)

const (
	DefaultMaxVotesCap    = 200
	DefaultBackendTimeout = 30 * time.Second
	DefaultLeaseTTL       = 10 * time.Minute
	DefaultRetryBatchSize = 10

	assetCodeBaseLength = 8
	assetCodeFallback   = "VOTE"
)

var (
	// ErrInProgress is returned by Resume when another runner holds the
	// provisioning lease of the voting
	ErrInProgress = errors.New("provisioning already in progress")
	// ErrInsufficientFunds is the cause of a failed funding stage
	ErrInsufficientFunds = errors.New("funding account balance is insufficient")
)

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	DB           *database.Database
	Registry     *backend.Registry
	Publisher    *publish.Publisher
	// EventBus is optional
	EventBus       *event.EventBus
	MaxVotesCap    int64
	BackendTimeout time.Duration
	LeaseTTL       time.Duration
	RetryBatchSize int
}

type Provisioner struct {
	config  Config
	logger  *slog.Logger
	metrics *provisionMetrics
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config) (*Provisioner, error) {
	if cfg.DB == nil {
		return nil, errors.New("provision: no database")
	}
	if cfg.Registry == nil {
		return nil, errors.New("provision: no backend registry")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("provision: no publisher")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.MaxVotesCap <= 0 {
		cfg.MaxVotesCap = DefaultMaxVotesCap
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = DefaultBackendTimeout
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.RetryBatchSize <= 0 {
		cfg.RetryBatchSize = DefaultRetryBatchSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Provisioner{
		config: cfg,
		logger: cfg.Logger.With("component", "provision"),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.PromRegistry != nil {
		p.metrics = newProvisionMetrics(cfg.PromRegistry)
	}
	return p, nil
}

// Provision validates and persists a voting and starts the remaining
// stages in the background. It returns the id of the new voting.
func (p *Provisioner) Provision(ctx context.Context, req Request) (uint, error) {
	if err := req.Validate(p.config.MaxVotesCap); err != nil {
		return 0, p.fail(errs.NewStageError(errs.StageValidate, err))
	}
	ops, err := p.config.Registry.Open(req.Network, req.UseTestnet)
	if err != nil {
		return 0, p.fail(errs.NewStageError(errs.StageValidate, err))
	}
	if req.FundingAccountPublic != "" {
		if err := p.checkFunding(ctx, ops, req); err != nil {
			return 0, p.fail(errs.NewStageError(errs.StageFunding, err))
		}
	}
	voting := req.toModel()
	if voting.EncryptedUntil != nil {
		key, err := disclosure.GenerateKey()
		if err != nil {
			return 0, p.fail(errs.NewStageError(errs.StagePersist, err))
		}
		voting.EncryptionKey = &key
	}
	// The new voting starts out leased to the background run below
	holder := uuid.NewString()
	lease := time.Now().UTC().Add(p.config.LeaseTTL)
	voting.ProvisionLeaseUntil = &lease
	voting.ProvisionLeaseHolder = &holder
	if err := p.config.DB.CreateVoting(ctx, voting, nil); err != nil {
		return 0, p.fail(errs.NewStageError(errs.StagePersist, err))
	}
	p.logger.Info(
		"voting persisted",
		"voting_id", voting.ID,
		"network", voting.Network,
		"votes_cap", voting.VotesCap,
	)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.runLeased(p.ctx, voting.ID, holder, ops); err != nil {
			p.logger.Warn(
				"provisioning incomplete, will retry",
				"voting_id", voting.ID,
				"error", err,
			)
		}
	}()
	return voting.ID, nil
}

func (p *Provisioner) checkFunding(
	ctx context.Context,
	ops *backend.Ops,
	req Request,
) error {
	callCtx, cancel := context.WithTimeout(ctx, p.config.BackendTimeout)
	defer cancel()
	ok, err := ops.Funding.HasEnoughBalance(
		callCtx,
		backend.Account{
			ID:     req.FundingAccountPublic,
			Secret: req.FundingAccountSecret,
		},
		req.VotesCap,
	)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientFunds
	}
	return nil
}

// Resume runs the background stages of a persisted voting. It returns
// ErrInProgress when another runner holds the voting's lease.
func (p *Provisioner) Resume(ctx context.Context, votingID uint) error {
	if _, err := p.config.DB.GetVoting(ctx, votingID, nil); err != nil {
		return err
	}
	holder := uuid.NewString()
	ok, err := p.config.DB.AcquireProvisionLease(
		ctx,
		votingID,
		holder,
		time.Now(),
		p.config.LeaseTTL,
	)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInProgress
	}
	return p.runLeased(ctx, votingID, holder, nil)
}

// runLeased runs the background stages of a voting whose lease holder
// holds, and releases the lease when done. ops is opened from the voting's
// network when nil.
func (p *Provisioner) runLeased(
	ctx context.Context,
	votingID uint,
	holder string,
	ops *backend.Ops,
) error {
	defer func() {
		if err := p.config.DB.ReleaseProvisionLease(context.WithoutCancel(ctx), votingID, holder); err != nil {
			p.logger.Error(
				"failed to release provisioning lease",
				"voting_id", votingID,
				"error", err,
			)
		}
	}()
	start := time.Now()
	run := &stageRun{
		p:      p,
		ops:    ops,
		holder: holder,
		logger: p.logger.With("voting_id", votingID, "run", holder),
	}
	err := run.execute(ctx, votingID)
	if p.metrics != nil {
		p.metrics.duration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return p.fail(err)
	}
	if p.metrics != nil {
		p.metrics.provisioned.Inc()
	}
	return nil
}

func (p *Provisioner) fail(err error) error {
	if p.metrics != nil {
		stage, _ := errs.StageOf(err)
		p.metrics.failures.WithLabelValues(stage).Inc()
	}
	return err
}

// IsProvisionedProperly reports whether every stage of a voting has
// completed
func (p *Provisioner) IsProvisionedProperly(ctx context.Context, votingID uint) (bool, error) {
	voting, err := p.config.DB.GetVoting(ctx, votingID, nil)
	if err != nil {
		return false, err
	}
	return p.provisioned(ctx, voting)
}

func (p *Provisioner) provisioned(ctx context.Context, voting *models.Voting) (bool, error) {
	if len(voting.Issuers) == 0 ||
		voting.DistributionAccountPublic == nil ||
		voting.BallotAccountPublic == nil ||
		voting.IpfsCid == nil {
		return false, nil
	}
	rows, _, err := p.config.DB.ProgressSummary(ctx, voting.ID, nil)
	if err != nil {
		return false, err
	}
	return rows == int64(len(voting.Issuers)), nil
}

// RetryPass resumes votings whose provisioning did not finish. It is run
// by the scheduler.
func (p *Provisioner) RetryPass(ctx context.Context) {
	ids, err := p.config.DB.ListUnpublishedVotings(ctx, time.Now(), p.config.RetryBatchSize)
	if err != nil {
		p.logger.Error("failed to list unprovisioned votings", "error", err)
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		err := p.Resume(ctx, id)
		switch {
		case err == nil:
			p.logger.Info("resumed provisioning", "voting_id", id)
		case errors.Is(err, ErrInProgress):
		default:
			p.logger.Warn("provisioning retry failed", "voting_id", id, "error", err)
		}
	}
}

// Wait blocks until background runs started by Provision have returned
func (p *Provisioner) Wait() {
	p.wg.Wait()
}

// Stop cancels background runs and waits for them to return
func (p *Provisioner) Stop() {
	p.cancel()
	p.wg.Wait()
}

// partition spreads votesCap over n issuers, giving the remainder to the
// first issuers
func partition(votesCap int64, n int) []int64 {
	shares := make([]int64, n)
	base := votesCap / int64(n)
	rem := votesCap % int64(n)
	for i := range shares {
		shares[i] = base
		if int64(i) < rem {
			shares[i]++
		}
	}
	return shares
}

// assetCode derives the token code of the index'th issuer (1-based) from
// the voting title
func assetCode(title string, index int) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(title) {
		if b.Len() == assetCodeBaseLength {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	base := b.String()
	if base == "" {
		base = assetCodeFallback
	}
	return base + strconv.Itoa(index)
}

func numIssuers(ops *backend.Ops, votesCap int64) int {
	n := ops.Issuer.CalcNumOfAccountsNeeded(votesCap)
	if int64(n) > votesCap {
		n = int(votesCap)
	}
	return max(n, 1)
}

func backendIssuer(issuer models.Issuer) backend.Issuer {
	return backend.Issuer{
		Account: backend.Account{
			ID:     issuer.AccountPublic,
			Secret: issuer.AccountSecret,
		},
		AssetCode: issuer.AssetCode,
		VotesCap:  issuer.VotesCap,
	}
}
