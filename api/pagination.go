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

import (
	"errors"
	"net/http"
	"strconv"
)

var ErrInvalidPaginationParameters = errors.New(
	"invalid pagination parameters",
)

// PaginationParams contains parsed pagination query values. A zero Limit
// leaves the page size to the voting service.
type PaginationParams struct {
	Offset int
	Limit  int
}

// ParsePagination parses the offset and limit query parameters
func ParsePagination(r *http.Request) (PaginationParams, error) {
	var params PaginationParams
	query := r.URL.Query()
	if offsetParam := query.Get("offset"); offsetParam != "" {
		offset, err := strconv.Atoi(offsetParam)
		if err != nil || offset < 0 {
			return PaginationParams{},
				ErrInvalidPaginationParameters
		}
		params.Offset = offset
	}
	if limitParam := query.Get("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil || limit < 0 {
			return PaginationParams{},
				ErrInvalidPaginationParameters
		}
		params.Limit = limit
	}
	return params, nil
}
