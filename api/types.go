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

package api

type HealthResponse struct {
	IsHealthy bool `json:"is_healthy"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

type CreateVotingResponse struct {
	ID string `json:"id"`
}

type EncryptOptionRequest struct {
	OptionCode int `json:"optionCode"`
}

type EncryptOptionResponse struct {
	Result string `json:"result"`
}

type CommissionInitRequest struct {
	VotingID string `json:"votingId"`
}

type CommissionInitResponse struct {
	PublicKey string `json:"publicKey"`
	SessionID string `json:"sessionId"`
}

type SignEnvelopeRequest struct {
	Envelope string `json:"envelope"`
}

type EnvelopeSignatureResponse struct {
	EnvelopeSignature string `json:"envelopeSignature"`
}

type AccountRequest struct {
	EnvelopeSignature string `json:"envelopeSignature"`
	RevealedSignature string `json:"revealedSignature"`
	Message           string `json:"message"`
}

type TransactionResponse struct {
	Transaction string `json:"transaction"`
}
