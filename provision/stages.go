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

package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blinklabs-io/devote/backend"
	"github.com/blinklabs-io/devote/database"
	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/event"
	"github.com/blinklabs-io/devote/internal/errs"
	"github.com/blinklabs-io/devote/publish"
)

// stageRun carries the state of one pass over the background stages
type stageRun struct {
	p      *Provisioner
	ops    *backend.Ops
	logger *slog.Logger
	voting *models.Voting
	// holder owns the provisioning lease of the voting
	holder string
}

func (r *stageRun) execute(ctx context.Context, votingID uint) error {
	if err := r.reload(ctx, votingID); err != nil {
		return err
	}
	if r.ops == nil {
		ops, err := r.p.config.Registry.Open(r.voting.Network, r.voting.UseTestnet)
		if err != nil {
			return errs.NewStageError(errs.StageIssuers, err)
		}
		r.ops = ops
	}
	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{errs.StageIssuers, r.createIssuers},
		{errs.StageDistribution, r.createDistribution},
		{errs.StageProgress, r.seedProgress},
		{errs.StagePublish, r.publish},
	}
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return errs.NewStageError(stage.name, err)
		}
		if err := r.renewLease(ctx, nil); err != nil {
			return errs.NewStageError(stage.name, err)
		}
		if err := stage.fn(ctx); err != nil {
			return errs.NewStageError(stage.name, err)
		}
	}
	r.logger.Info(
		"voting provisioned",
		"issuers", len(r.voting.Issuers),
		"cid", *r.voting.IpfsCid,
	)
	if r.p.config.EventBus != nil {
		r.p.config.EventBus.PublishAsync(
			event.VotingProvisionedEventType,
			event.NewEvent(
				event.VotingProvisionedEventType,
				event.VotingProvisionedEvent{
					VotingID: r.voting.ID,
					Network:  r.voting.Network,
					Cid:      *r.voting.IpfsCid,
					Issuers:  len(r.voting.Issuers),
				},
			),
		)
	}
	return nil
}

func (r *stageRun) reload(ctx context.Context, votingID uint) error {
	voting, err := r.p.config.DB.GetVoting(ctx, votingID, nil)
	if err != nil {
		return err
	}
	r.voting = voting
	return nil
}

// renewLease extends the lease of the run, failing once it was taken over
func (r *stageRun) renewLease(ctx context.Context, txn *database.Txn) error {
	return r.p.config.DB.RenewProvisionLease(
		ctx,
		r.voting.ID,
		r.holder,
		time.Now(),
		r.p.config.LeaseTTL,
		txn,
	)
}

func (r *stageRun) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.p.config.BackendTimeout)
}

func (r *stageRun) createIssuers(ctx context.Context) error {
	if len(r.voting.Issuers) > 0 {
		r.logger.Debug("issuers exist, skipping stage")
		return nil
	}
	n := numIssuers(r.ops, r.voting.VotesCap)
	shares := partition(r.voting.VotesCap, n)
	issuers := make([]models.Issuer, 0, n)
	for i, share := range shares {
		callCtx, cancel := r.callContext(ctx)
		account, err := r.ops.Issuer.Create(callCtx, share)
		cancel()
		if err != nil {
			return fmt.Errorf("create issuer account %d of %d: %w", i+1, n, err)
		}
		issuers = append(issuers, models.Issuer{
			VotingID:      r.voting.ID,
			AccountPublic: account.ID,
			AccountSecret: account.Secret,
			AssetCode:     assetCode(r.voting.Title, i+1),
			VotesCap:      share,
		})
	}
	err := r.p.config.DB.CreateVotingIssuers(
		ctx,
		r.voting.ID,
		r.holder,
		time.Now(),
		r.p.config.LeaseTTL,
		issuers,
	)
	if err != nil {
		return err
	}
	r.logger.Debug("created issuer accounts", "count", n)
	r.voting.Issuers = issuers
	return nil
}

func (r *stageRun) createDistribution(ctx context.Context) error {
	if r.voting.DistributionAccountPublic != nil {
		r.logger.Debug("distribution account exists, skipping stage")
		return nil
	}
	issuers := make([]backend.Issuer, 0, len(r.voting.Issuers))
	for _, issuer := range r.voting.Issuers {
		issuers = append(issuers, backendIssuer(issuer))
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	result, err := r.ops.Distribution.Create(callCtx, issuers)
	if err != nil {
		return err
	}
	tokens := make(map[uint]string, len(result.Tokens))
	for _, issuer := range r.voting.Issuers {
		if token, ok := result.Tokens[issuer.AccountPublic]; ok {
			tokens[issuer.ID] = token
		}
	}
	err = r.p.config.DB.SetVotingAccounts(ctx, r.voting.ID, database.VotingAccounts{
		DistributionPublic: result.Distribution.ID,
		DistributionSecret: result.Distribution.Secret,
		BallotPublic:       result.Ballot.ID,
		BallotSecret:       result.Ballot.Secret,
		IssuerTokens:       tokens,
	})
	if err != nil {
		return err
	}
	r.logger.Debug(
		"created distribution and ballot accounts",
		"distribution", result.Distribution.ID,
		"ballot", result.Ballot.ID,
	)
	return r.reload(ctx, r.voting.ID)
}

func (r *stageRun) seedProgress(ctx context.Context) error {
	rows, _, err := r.p.config.DB.ProgressSummary(ctx, r.voting.ID, nil)
	if err != nil {
		return err
	}
	if rows == int64(len(r.voting.Issuers)) {
		r.logger.Debug("progress rows exist, skipping stage")
		return nil
	}
	progress := make([]models.PooledAccountProgress, 0, len(r.voting.Issuers))
	for _, issuer := range r.voting.Issuers {
		progress = append(progress, models.PooledAccountProgress{
			VotingID:     r.voting.ID,
			IssuerID:     issuer.ID,
			ToCreate:     issuer.VotesCap,
			LeftToCreate: issuer.VotesCap,
		})
	}
	return r.p.config.DB.SeedProgress(ctx, progress, nil)
}

func (r *stageRun) publish(ctx context.Context) error {
	if r.voting.IpfsCid != nil {
		r.logger.Debug("snapshot published, skipping stage")
		return nil
	}
	id, err := r.p.config.Publisher.Publish(ctx, publish.SnapshotOf(r.voting))
	if err != nil {
		return err
	}
	if err := r.p.config.DB.SetVotingCid(ctx, r.voting.ID, id); err != nil {
		return err
	}
	r.voting.IpfsCid = &id
	return nil
}
