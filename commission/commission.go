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

// Package commission hands pooled accounts to voters. A voter opens a
// session, gets one blinded envelope signed per voting, and later trades
// the unblinded signature for a transaction transferring a pooled account.
package commission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/devote/backend"
	"github.com/blinklabs-io/devote/database"
	"github.com/blinklabs-io/devote/database/models"
	"github.com/blinklabs-io/devote/envelope"
	"github.com/blinklabs-io/devote/internal/base62"
	"github.com/blinklabs-io/devote/internal/errs"
	"github.com/blinklabs-io/devote/internal/identity"
)

const DefaultBackendTimeout = 30 * time.Second

// messageSeparator splits the voting id from the voter account id in the
// signed message
const messageSeparator = "|"

var errLostInsert = errors.New("stored transaction inserted concurrently")

// ReadinessChecker reports whether a voting finished provisioning
type ReadinessChecker interface {
	IsProvisionedProperly(ctx context.Context, votingID uint) (bool, error)
}

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	DB           *database.Database
	Registry     *backend.Registry
	Signer       *envelope.Signer
	Readiness    ReadinessChecker
	// BackendTimeout bounds building a voter transaction
	BackendTimeout time.Duration
}

type Service struct {
	config  Config
	logger  *slog.Logger
	metrics *commissionMetrics
}

// InitResult is returned to a voter opening a commission session
type InitResult struct {
	PublicKey string `json:"publicKey"`
	SessionID uint   `json:"sessionId"`
}

func New(cfg Config) (*Service, error) {
	if cfg.DB == nil {
		return nil, errors.New("commission: no database")
	}
	if cfg.Registry == nil {
		return nil, errors.New("commission: no backend registry")
	}
	if cfg.Signer == nil {
		return nil, errors.New("commission: no envelope signer")
	}
	if cfg.Readiness == nil {
		return nil, errors.New("commission: no readiness checker")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = DefaultBackendTimeout
	}
	s := &Service{
		config: cfg,
		logger: cfg.Logger.With("component", "commission"),
	}
	if cfg.PromRegistry != nil {
		s.metrics = newCommissionMetrics(cfg.PromRegistry)
	}
	return s, nil
}

// Init checks that user may take part in a voting, opens their session
// and returns the envelope public key
func (s *Service) Init(
	ctx context.Context,
	votingID uint,
	user identity.User,
) (*InitResult, error) {
	if user.Anonymous() {
		return nil, fmt.Errorf("commission init: %w", errs.ErrForbidden)
	}
	voting, err := s.config.DB.GetVoting(ctx, votingID, nil)
	if err != nil {
		return nil, err
	}
	if voting.Authorization == models.AuthorizationEmails &&
		!voting.AllowsEmail(user.Email) {
		return nil, fmt.Errorf("email not allowed to vote: %w", errs.ErrForbidden)
	}
	session, err := s.createSession(ctx, voting, user.ID)
	if err != nil {
		return nil, err
	}
	publicKey, err := s.config.Signer.PublicKeyPEM()
	if err != nil {
		return nil, err
	}
	return &InitResult{
		PublicKey: publicKey,
		SessionID: session.ID,
	}, nil
}

// CreateSession returns the session of (votingID, userID), creating it on
// the first call. The voting must be fully provisioned.
func (s *Service) CreateSession(
	ctx context.Context,
	votingID uint,
	userID string,
) (*models.CommissionSession, error) {
	voting, err := s.config.DB.GetVoting(ctx, votingID, nil)
	if err != nil {
		return nil, err
	}
	return s.createSession(ctx, voting, userID)
}

func (s *Service) createSession(
	ctx context.Context,
	voting *models.Voting,
	userID string,
) (*models.CommissionSession, error) {
	ok, err := s.config.Readiness.IsProvisionedProperly(ctx, voting.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting %d: %w", voting.ID, errs.ErrNotReady)
	}
	session, err := s.config.DB.CreateSession(ctx, voting.ID, userID, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Debug(
		"commission session ready",
		"voting_id", voting.ID,
		"session_id", session.ID,
	)
	return session, nil
}

// SignEnvelope blind signs the envelope of a user. Each session gets
// exactly one signature; any later request fails with errs.ErrForbidden.
func (s *Service) SignEnvelope(
	ctx context.Context,
	votingID uint,
	userID string,
	envelopeData string,
) (string, error) {
	if _, err := s.config.DB.GetSession(ctx, votingID, userID, nil); err != nil {
		return "", err
	}
	signature, err := s.config.Signer.Sign(envelopeData)
	if err != nil {
		return "", errs.NewValidationError("envelope", err.Error())
	}
	ok, err := s.config.DB.SetEnvelopeSignature(ctx, votingID, userID, signature)
	if err != nil {
		return "", err
	}
	if !ok {
		s.count(func(m *commissionMetrics) { m.rejected.WithLabelValues("resign").Inc() })
		return "", fmt.Errorf("envelope already signed: %w", errs.ErrForbidden)
	}
	s.count(func(m *commissionMetrics) { m.envelopesSigned.Inc() })
	s.logger.Info("envelope signed", "voting_id", votingID)
	return signature, nil
}

// EnvelopeSignatureOf returns the envelope signature recorded for a user
func (s *Service) EnvelopeSignatureOf(
	ctx context.Context,
	votingID uint,
	userID string,
) (string, error) {
	session, err := s.config.DB.GetSession(ctx, votingID, userID, nil)
	if err != nil {
		return "", err
	}
	if session.EnvelopeSignature == nil {
		return "", fmt.Errorf("envelope signature: %w", errs.ErrNotFound)
	}
	return *session.EnvelopeSignature, nil
}

// RequestAccountCreation trades a revealed signature over message for the
// transaction handing one pooled account to the voter. Repeated requests
// with the same revealed signature return the same stored transaction and
// consume no further accounts. The signature is checked first: only its
// canonical encoding verifies, and that encoding keys the stored
// transaction.
func (s *Service) RequestAccountCreation(
	ctx context.Context,
	envelopeSignature string,
	revealedSignature string,
	message string,
) (*models.StoredTransaction, error) {
	if err := s.config.Signer.Verify(message, revealedSignature); err != nil {
		return nil, s.reject("bad-signature", err.Error())
	}
	stored, err := s.config.DB.GetStoredTransaction(ctx, revealedSignature, nil)
	if err == nil {
		s.count(func(m *commissionMetrics) { m.replayed.Inc() })
		return stored, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	session, err := s.config.DB.GetSessionByEnvelope(ctx, envelopeSignature, nil)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, s.reject("unknown-envelope", "unknown envelope signature")
		}
		return nil, err
	}
	votingID, voterAccountID, err := parseMessage(message)
	if err != nil {
		return nil, s.reject("bad-message", err.Error())
	}
	if votingID != session.VotingID {
		return nil, s.reject("bad-message", "message is for another voting")
	}
	voting, err := s.config.DB.GetVoting(ctx, votingID, nil)
	if err != nil {
		return nil, err
	}
	ops, err := s.config.Registry.Open(voting.Network, voting.UseTestnet)
	if err != nil {
		return nil, err
	}
	stored, err = s.claim(ctx, ops, voting, session, revealedSignature, voterAccountID)
	switch {
	case err == nil:
	case errors.Is(err, errLostInsert):
		s.count(func(m *commissionMetrics) { m.replayed.Inc() })
		return s.config.DB.GetStoredTransaction(ctx, revealedSignature, nil)
	case errors.Is(err, database.ErrNoPooledAccount):
		return nil, s.noAccount(ctx, voting.ID)
	default:
		return nil, err
	}
	return stored, nil
}

// claim consumes one pooled account and stores the voter transaction in a
// single metadata transaction
func (s *Service) claim(
	ctx context.Context,
	ops *backend.Ops,
	voting *models.Voting,
	session *models.CommissionSession,
	revealedSignature string,
	voterAccountID string,
) (*models.StoredTransaction, error) {
	var ret *models.StoredTransaction
	replayed := false
	err := s.config.DB.Transaction(ctx, func(txn *database.Txn) error {
		existing, err := s.config.DB.GetStoredTransaction(ctx, revealedSignature, txn)
		if err == nil {
			ret = existing
			replayed = true
			return nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		account, err := s.config.DB.ClaimPooledAccount(ctx, voting.ID, revealedSignature, txn)
		if err != nil {
			return err
		}
		issuer, err := issuerOf(voting, account.IssuerID)
		if err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, s.config.BackendTimeout)
		payload, err := ops.VoterTx.CreateTransaction(
			callCtx,
			backend.VoterTransactionRequest{
				VotingID:       voting.ID,
				VoterAccountID: voterAccountID,
				PooledAccount: backend.Account{
					ID:     account.AccountPublic,
					Secret: account.AccountSecret,
				},
				Issuer: backend.Issuer{
					Account: backend.Account{
						ID:     issuer.AccountPublic,
						Secret: issuer.AccountSecret,
					},
					AssetCode: issuer.AssetCode,
					VotesCap:  issuer.VotesCap,
				},
				Distribution: accountOf(voting.DistributionAccountPublic, voting.DistributionAccountSecret),
				Ballot:       accountOf(voting.BallotAccountPublic, voting.BallotAccountSecret),
			},
		)
		cancel()
		if err != nil {
			return fmt.Errorf("create voter transaction: %w", err)
		}
		stored := &models.StoredTransaction{
			Signature:       revealedSignature,
			Transaction:     payload,
			VotingID:        voting.ID,
			PooledAccountID: account.ID,
		}
		created, err := s.config.DB.CreateStoredTransaction(ctx, stored, txn)
		if err != nil {
			return err
		}
		if !created {
			return errLostInsert
		}
		if err := s.config.DB.LinkSessionTransaction(ctx, session.ID, stored.ID, txn); err != nil {
			return err
		}
		ret = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		s.count(func(m *commissionMetrics) { m.replayed.Inc() })
		return ret, nil
	}
	s.count(func(m *commissionMetrics) { m.accountsClaimed.Inc() })
	s.logger.Info(
		"pooled account handed out",
		"voting_id", voting.ID,
		"stored_transaction_id", ret.ID,
	)
	return ret, nil
}

// noAccount tells a permanently drained pool from one that is still being
// filled
func (s *Service) noAccount(ctx context.Context, votingID uint) error {
	rows, left, err := s.config.DB.ProgressSummary(ctx, votingID, nil)
	if err != nil {
		return err
	}
	if rows > 0 && left == 0 {
		s.count(func(m *commissionMetrics) { m.rejected.WithLabelValues("exhausted").Inc() })
		return fmt.Errorf("voting %d: %w", votingID, errs.ErrResourceExhausted)
	}
	s.count(func(m *commissionMetrics) { m.rejected.WithLabelValues("try-again").Inc() })
	return fmt.Errorf("voting %d: %w", votingID, errs.ErrTryAgainLater)
}

// TransactionOf returns the transaction stored for a revealed signature
func (s *Service) TransactionOf(
	ctx context.Context,
	revealedSignature string,
) (*models.StoredTransaction, error) {
	return s.config.DB.GetStoredTransaction(ctx, revealedSignature, nil)
}

func (s *Service) reject(reason string, detail string) error {
	s.count(func(m *commissionMetrics) { m.rejected.WithLabelValues(reason).Inc() })
	s.logger.Warn("account creation rejected", "reason", reason, "detail", detail)
	return fmt.Errorf("%s: %w", detail, errs.ErrForbidden)
}

func (s *Service) count(fn func(*commissionMetrics)) {
	if s.metrics != nil {
		fn(s.metrics)
	}
}

// Message builds the message a voter signs for an account in a voting
func Message(votingID uint, voterAccountID string) string {
	return base62.Encode(votingID) + messageSeparator + voterAccountID
}

func parseMessage(message string) (uint, string, error) {
	encodedID, voterAccountID, ok := strings.Cut(message, messageSeparator)
	if !ok || voterAccountID == "" {
		return 0, "", errors.New("malformed message")
	}
	votingID, err := base62.Decode(encodedID)
	if err != nil {
		return 0, "", fmt.Errorf("malformed message: %w", err)
	}
	return votingID, voterAccountID, nil
}

func issuerOf(voting *models.Voting, issuerID uint) (*models.Issuer, error) {
	for i := range voting.Issuers {
		if voting.Issuers[i].ID == issuerID {
			return &voting.Issuers[i], nil
		}
	}
	return nil, fmt.Errorf("issuer %d of voting %d: %w", issuerID, voting.ID, errs.ErrNotFound)
}

func accountOf(public *string, secret *string) backend.Account {
	var ret backend.Account
	if public != nil {
		ret.ID = *public
	}
	if secret != nil {
		ret.Secret = *secret
	}
	return ret
}
