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

package event

// VotingProvisionedEventType is emitted once every provisioning stage of
// a voting has completed
const VotingProvisionedEventType = EventType("voting.provisioned")

type VotingProvisionedEvent struct {
	// Network is the backend the voting was provisioned on
	Network string
	// Cid is the content id of the published snapshot
	Cid      string
	VotingID uint
	Issuers  int
}

// PoolCompleteEventType is emitted when the last pooled account of an
// issuer has been created
const PoolCompleteEventType = EventType("pool.complete")

type PoolCompleteEvent struct {
	VotingID uint
	IssuerID uint
	Created  int64
}
