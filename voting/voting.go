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

// Package voting serves reads of persisted votings, applying their
// visibility and disclosure rules.
package voting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/blinklabs-io/devote/database"
	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/disclosure"
	"github.com/blinklabs-io/devote/internal/base62"
	"github.com/blinklabs-io/devote/internal/errs"
	"github.com/blinklabs-io/devote/internal/identity"
	"github.com/blinklabs-io/devote/publish"
)

const (
	DefaultPageLimit = 25
	MaxPageLimit     = 100
)

type Config struct {
	Logger *slog.Logger
	DB     *database.Database
	// Now overrides the clock used for disclosure decisions
	Now func() time.Time
}

type Service struct {
	config Config
	logger *slog.Logger
}

// View is a voting as returned to callers
type View struct {
	ID string `json:"id"`
	publish.Snapshot
	IpfsCid *string `json:"ipfsCid"`
	// DecryptionKey is set once the voting's encryptedUntil has passed
	DecryptionKey *string `json:"decryptionKey"`
}

type Page struct {
	Items  []View `json:"items"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func New(cfg Config) (*Service, error) {
	if cfg.DB == nil {
		return nil, errors.New("voting: no database")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		config: cfg,
		logger: cfg.Logger.With("component", "voting"),
	}, nil
}

// Get returns a voting readable by user. Private votings are readable by
// their creator and by allowlisted voters and vote callers.
func (s *Service) Get(
	ctx context.Context,
	votingID uint,
	user identity.User,
) (*View, error) {
	voting, err := s.config.DB.GetVoting(ctx, votingID, nil)
	if err != nil {
		return nil, err
	}
	if !canRead(voting, user) {
		s.logger.Debug(
			"private voting read denied",
			"voting_id", votingID,
			"user_id", user.ID,
		)
		return nil, fmt.Errorf("voting %d: %w", votingID, errs.ErrForbidden)
	}
	view := s.viewOf(voting)
	return &view, nil
}

func canRead(voting *models.Voting, user identity.User) bool {
	if voting.Visibility != models.VisibilityPrivate {
		return true
	}
	if user.Anonymous() {
		return false
	}
	if voting.CreatedBy == user.ID {
		return true
	}
	return voting.AllowsEmail(user.Email) &&
		user.HasAnyRole(identity.RoleVoter, identity.RoleVoteCaller)
}

// ListPublic returns a page of public votings, newest first. A zero limit
// selects DefaultPageLimit.
func (s *Service) ListPublic(ctx context.Context, offset int, limit int) (*Page, error) {
	if offset < 0 {
		return nil, errs.NewValidationError("offset", "must not be negative")
	}
	switch {
	case limit < 0:
		return nil, errs.NewValidationError("limit", "must not be negative")
	case limit == 0:
		limit = DefaultPageLimit
	case limit > MaxPageLimit:
		limit = MaxPageLimit
	}
	votings, err := s.config.DB.ListPublicVotings(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	page := &Page{
		Items:  make([]View, 0, len(votings)),
		Offset: offset,
		Limit:  limit,
	}
	for i := range votings {
		page.Items = append(page.Items, s.viewOf(&votings[i]))
	}
	return page, nil
}

// EncryptOptionCode encrypts one of the voting's option codes with its
// disclosure key
func (s *Service) EncryptOptionCode(
	ctx context.Context,
	votingID uint,
	optionCode int,
) (string, error) {
	voting, err := s.config.DB.GetVoting(ctx, votingID, nil)
	if err != nil {
		return "", err
	}
	if !voting.Encrypted() {
		return "", errs.NewValidationError("votingId", "voting is not encrypted")
	}
	if !voting.HasOptionCode(optionCode) {
		return "", errs.NewValidationError(
			"optionCode",
			fmt.Sprintf("unknown option code %d", optionCode),
		)
	}
	return disclosure.Encrypt(*voting.EncryptionKey, strconv.Itoa(optionCode))
}

func (s *Service) viewOf(voting *models.Voting) View {
	return View{
		ID:       base62.Encode(voting.ID),
		Snapshot: *publish.SnapshotOf(voting),
		IpfsCid:  voting.IpfsCid,
		DecryptionKey: disclosure.VisibleKey(
			voting.EncryptionKey,
			voting.EncryptedUntil,
			s.config.Now(),
		),
	}
}
