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

// Package identity describes the already verified caller of a request.
package identity

import (
	"net/http"
	"slices"
	"strings"
)

// Headers set by the trusted proxy in front of the API
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRoles = "X-User-Roles"
)

// Roles that grant access to private votings
const (
	RoleVoter      = "voter"
	RoleVoteCaller = "vote-caller"
)

type User struct {
	ID    string
	Email string
	Roles []string
}

// FromHeaders reads the caller from the proxy headers. Roles are a comma
// separated list.
func FromHeaders(h http.Header) User {
	user := User{
		ID:    strings.TrimSpace(h.Get(HeaderUserID)),
		Email: strings.TrimSpace(h.Get(HeaderUserEmail)),
	}
	for role := range strings.SplitSeq(h.Get(HeaderUserRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			user.Roles = append(user.Roles, role)
		}
	}
	return user
}

func (u User) Anonymous() bool {
	return u.ID == ""
}

func (u User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

func (u User) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, u.HasRole)
}
