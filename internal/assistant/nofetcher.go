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

import "context"

// NoFetcher is a ProviderFetcher that always reports no calendar
// events and no urgent mail. It stands in for the real Google
// Calendar/Gmail fetch, which is out of scope, so morning-brief and
// urgent-email composition still have something to call.
type NoFetcher struct{}

// NewNoFetcher constructs a NoFetcher.
func NewNoFetcher() *NoFetcher { return &NoFetcher{} }

// FetchCalendar implements ProviderFetcher.
func (NoFetcher) FetchCalendar(_ context.Context, _ string) ([]string, error) { return nil, nil }

// FetchUrgentMail implements ProviderFetcher.
func (NoFetcher) FetchUrgentMail(_ context.Context, _ string) ([]string, error) { return nil, nil }
