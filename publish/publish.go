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

// Package publish writes voting snapshots to the blob store under their
// content id.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/database/plugin/blob"
	"github.com/blinklabs-io/devote/internal/errs"
)

// jsonCodec is the multicodec code for plain JSON
const jsonCodec = 0x0200

const keyPrefix = "snapshot/"

var cidPrefix = cid.Prefix{
	Version:  1,
	Codec:    jsonCodec,
	MhType:   mh.SHA2_256,
	MhLength: -1,
}

type SnapshotOption struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

type SnapshotPoll struct {
	Index    int              `json:"index"`
	Question string           `json:"question"`
	Options  []SnapshotOption `json:"options"`
}

// Snapshot is the public description of a provisioned voting
type Snapshot struct {
	CreatedAt             time.Time      `json:"createdAt"`
	StartDate             time.Time      `json:"startDate"`
	EndDate               time.Time      `json:"endDate"`
	EncryptedUntil        *time.Time     `json:"encryptedUntil"`
	Title                 string         `json:"title"`
	Network               string         `json:"network"`
	DistributionAccountID string         `json:"distributionAccountId"`
	BallotAccountID       string         `json:"ballotAccountId"`
	Authorization         string         `json:"authorization"`
	Visibility            string         `json:"visibility"`
	Polls                 []SnapshotPoll `json:"polls"`
	IssuerAccountIDs      []string       `json:"issuerAccountIds"`
	AssetCodes            []string       `json:"assetCodes"`
	VotesCap              int64          `json:"votesCap"`
}

// SnapshotOf builds the snapshot of a voting loaded with its polls and
// issuers. All timestamps are normalized to UTC.
func SnapshotOf(voting *models.Voting) *Snapshot {
	snap := &Snapshot{
		CreatedAt:        voting.CreatedAt.UTC(),
		StartDate:        voting.StartDate.UTC(),
		EndDate:          voting.EndDate.UTC(),
		Title:            voting.Title,
		Network:          voting.Network,
		Authorization:    string(voting.Authorization),
		Visibility:       string(voting.Visibility),
		VotesCap:         voting.VotesCap,
		Polls:            make([]SnapshotPoll, 0, len(voting.Polls)),
		IssuerAccountIDs: make([]string, 0, len(voting.Issuers)),
		AssetCodes:       make([]string, 0, len(voting.Issuers)),
	}
	if voting.EncryptedUntil != nil {
		t := voting.EncryptedUntil.UTC()
		snap.EncryptedUntil = &t
	}
	if voting.DistributionAccountPublic != nil {
		snap.DistributionAccountID = *voting.DistributionAccountPublic
	}
	if voting.BallotAccountPublic != nil {
		snap.BallotAccountID = *voting.BallotAccountPublic
	}
	for _, poll := range voting.Polls {
		sp := SnapshotPoll{
			Index:    poll.Index,
			Question: poll.Question,
			Options:  make([]SnapshotOption, 0, len(poll.Options)),
		}
		for _, opt := range poll.Options {
			sp.Options = append(sp.Options, SnapshotOption{
				Code: opt.Code,
				Name: opt.Name,
			})
		}
		snap.Polls = append(snap.Polls, sp)
	}
	for _, issuer := range voting.Issuers {
		snap.IssuerAccountIDs = append(snap.IssuerAccountIDs, issuer.AccountPublic)
		snap.AssetCodes = append(snap.AssetCodes, issuer.AssetCode)
	}
	return snap
}

// ContentID returns the CIDv1 of data as raw JSON, hashed with sha2-256 and
// rendered in lowercase base32
func ContentID(data []byte) (string, error) {
	c, err := cidPrefix.Sum(data)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

type Publisher struct {
	store  blob.BlobStore
	logger *slog.Logger
}

func New(store blob.BlobStore, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Publisher{
		store:  store,
		logger: logger.With("component", "publish"),
	}
}

// Publish stores snap and returns its content id. Publishing the same
// snapshot twice yields the same id.
func (p *Publisher) Publish(ctx context.Context, snap *Snapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	id, err := ContentID(data)
	if err != nil {
		return "", err
	}
	if err := p.store.Put(ctx, keyPrefix+id, data); err != nil {
		return "", fmt.Errorf("store snapshot %s: %w", id, err)
	}
	p.logger.Debug(
		"published snapshot",
		"cid", id,
		"size", len(data),
	)
	return id, nil
}

// Fetch loads a published snapshot and checks it against its content id
func (p *Publisher) Fetch(ctx context.Context, id string) (*Snapshot, error) {
	parsed, err := cid.Decode(id)
	if err != nil {
		return nil, errs.NewValidationError("cid", err.Error())
	}
	data, err := p.store.Get(ctx, keyPrefix+parsed.String())
	if err != nil {
		if errors.Is(err, blob.ErrBlobKeyNotFound) {
			return nil, fmt.Errorf("snapshot %s: %w", id, errs.ErrNotFound)
		}
		return nil, err
	}
	sum, err := parsed.Prefix().Sum(data)
	if err != nil {
		return nil, err
	}
	if !sum.Equals(parsed) {
		return nil, fmt.Errorf("snapshot %s: content does not match its id", id)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}
