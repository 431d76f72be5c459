/*
Copyright 2026 Altaira Labs.

SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apihandlers

import (
	"net/http"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"

	"github.com/altairalabs/assistant-core/internal/identity"
)

func testLogger(t *testing.T) logr.Logger {
	return testr.New(t)
}

// withUserID returns a copy of req carrying id as the resolved caller
// identity, as ResolveUser would have left it for a downstream handler.
func withUserID(req *http.Request, userID string) *http.Request {
	ctx := identity.WithIdentity(req.Context(), identity.Identity{UserID: userID})
	return req.WithContext(ctx)
}
