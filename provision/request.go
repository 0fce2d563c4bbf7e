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
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/internal/errs"
)

type OptionInput struct {
	Name string `json:"name"`
	Code int    `json:"code"`
}

type PollInput struct {
	Question string        `json:"question"`
	Options  []OptionInput `json:"options"`
	Index    int           `json:"index"`
}

// Request describes a voting to provision
type Request struct {
	StartDate            time.Time            `json:"startDate"`
	EndDate              time.Time            `json:"endDate"`
	EncryptedUntil       *time.Time           `json:"encryptedUntil,omitempty"`
	Network              string               `json:"network"`
	Title                string               `json:"title"`
	Authorization        models.Authorization `json:"authorization"`
	Visibility           models.Visibility    `json:"visibility"`
	FundingAccountPublic string               `json:"fundingAccountPublic,omitempty"`
	FundingAccountSecret string               `json:"fundingAccountSecret,omitempty"`
	// CreatedBy is the id of the authenticated caller
	CreatedBy                 string      `json:"-"`
	AuthorizationEmailOptions []string    `json:"authorizationEmailOptions,omitempty"`
	Polls                     []PollInput `json:"polls"`
	VotesCap                  int64       `json:"votesCap"`
	UseTestnet                bool        `json:"useTestnet,omitempty"`
}

// Validate checks the request without touching storage or the backend
func (r *Request) Validate(maxVotesCap int64) error {
	if strings.TrimSpace(r.Network) == "" {
		return errs.NewValidationError("network", "must not be empty")
	}
	if strings.TrimSpace(r.Title) == "" {
		return errs.NewValidationError("title", "must not be empty")
	}
	if r.VotesCap < 1 || r.VotesCap > maxVotesCap {
		return errs.NewValidationError(
			"votesCap",
			fmt.Sprintf("must be between 1 and %d", maxVotesCap),
		)
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return errs.NewValidationError("startDate", "start and end dates are required")
	}
	if !r.StartDate.Before(r.EndDate) {
		return errs.NewValidationError("endDate", "must be after startDate")
	}
	if r.EncryptedUntil != nil && r.EncryptedUntil.IsZero() {
		return errs.NewValidationError("encryptedUntil", "must be a valid time")
	}
	if err := validatePolls(r.Polls); err != nil {
		return err
	}
	if !r.Authorization.Valid() {
		return errs.NewValidationError(
			"authorization",
			fmt.Sprintf("unknown value %q", r.Authorization),
		)
	}
	if r.Authorization == models.AuthorizationEmails {
		if len(r.AuthorizationEmailOptions) == 0 {
			return errs.NewValidationError(
				"authorizationEmailOptions",
				"must not be empty for EMAILS authorization",
			)
		}
		for _, email := range r.AuthorizationEmailOptions {
			addr, err := mail.ParseAddress(email)
			if err != nil || addr.Address != strings.TrimSpace(email) {
				return errs.NewValidationError(
					"authorizationEmailOptions",
					fmt.Sprintf("invalid email %q", email),
				)
			}
		}
	}
	if !r.Visibility.Valid() {
		return errs.NewValidationError(
			"visibility",
			fmt.Sprintf("unknown value %q", r.Visibility),
		)
	}
	if (r.FundingAccountPublic == "") != (r.FundingAccountSecret == "") {
		return errs.NewValidationError(
			"fundingAccountSecret",
			"funding account id and secret must be given together",
		)
	}
	return nil
}

func validatePolls(polls []PollInput) error {
	if len(polls) == 0 {
		return errs.NewValidationError("polls", "at least one poll is required")
	}
	indexes := make(map[int]struct{}, len(polls))
	for i, poll := range polls {
		field := "polls[" + strconv.Itoa(i) + "]"
		if strings.TrimSpace(poll.Question) == "" {
			return errs.NewValidationError(field+".question", "must not be empty")
		}
		if _, ok := indexes[poll.Index]; ok {
			return errs.NewValidationError(field+".index", "duplicate poll index")
		}
		indexes[poll.Index] = struct{}{}
		if len(poll.Options) == 0 {
			return errs.NewValidationError(field+".options", "at least one option is required")
		}
		codes := make(map[int]struct{}, len(poll.Options))
		for _, opt := range poll.Options {
			if _, ok := codes[opt.Code]; ok {
				return errs.NewValidationError(
					field+".options",
					fmt.Sprintf("duplicate option code %d", opt.Code),
				)
			}
			codes[opt.Code] = struct{}{}
		}
	}
	return nil
}

// toModel builds the voting row persisted by the persist stage
func (r *Request) toModel() *models.Voting {
	voting := &models.Voting{
		Title:         strings.TrimSpace(r.Title),
		Network:       r.Network,
		VotesCap:      r.VotesCap,
		StartDate:     r.StartDate.UTC(),
		EndDate:       r.EndDate.UTC(),
		Authorization: r.Authorization,
		Visibility:    r.Visibility,
		CreatedBy:     r.CreatedBy,
		UseTestnet:    r.UseTestnet,
		Polls:         make([]models.Poll, 0, len(r.Polls)),
	}
	if r.EncryptedUntil != nil {
		until := r.EncryptedUntil.UTC()
		voting.EncryptedUntil = &until
	}
	if r.FundingAccountPublic != "" {
		funding := r.FundingAccountPublic
		voting.FundingAccountPublic = &funding
	}
	for _, poll := range r.Polls {
		p := models.Poll{
			Index:    poll.Index,
			Question: poll.Question,
			Options:  make([]models.PollOption, 0, len(poll.Options)),
		}
		for _, opt := range poll.Options {
			p.Options = append(p.Options, models.PollOption{
				Code: opt.Code,
				Name: opt.Name,
			})
		}
		voting.Polls = append(voting.Polls, p)
	}
	if r.Authorization == models.AuthorizationEmails {
		for _, email := range r.AuthorizationEmailOptions {
			voting.AuthorizationEmails = append(
				voting.AuthorizationEmails,
				models.AuthorizationEmail{Email: strings.TrimSpace(email)},
			)
		}
	}
	return voting
}
