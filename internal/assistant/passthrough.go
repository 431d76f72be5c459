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

package assistant

import (
	"context"
	"fmt"
)

// PassthroughProcessor is a QueryProcessor that reflects the prompt
// back without any model involvement. It exists so the sealed-channel
// and composition RPC plumbing can be wired and exercised end to end
// ahead of a real model integration.
type PassthroughProcessor struct{}

// NewPassthroughProcessor constructs a PassthroughProcessor.
func NewPassthroughProcessor() *PassthroughProcessor {
	return &PassthroughProcessor{}
}

// Process implements QueryProcessor.
func (p *PassthroughProcessor) Process(_ context.Context, _ string, payload QueryPayload) (QueryResult, error) {
	return QueryResult{
		SessionID: payload.SessionID,
		Reply:     fmt.Sprintf("received: %s", payload.Prompt),
	}, nil
}
