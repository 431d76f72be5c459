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

package audit

import "regexp"

// RedactedMarker replaces an entire metadata value when any secret
// pattern matches anywhere within it — the whole value is discarded,
// not just the matched substring, since a value carrying a credential
// fragment cannot be trusted to be safe once the credential part is
// stripped out.
const RedactedMarker = "[REDACTED]"

// secretPatterns is the deterministic set of case-insensitive
// substring patterns that mark a metadata value as carrying secret
// material.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer`),
	regexp.MustCompile(`(?i)authorization\s*=`),
	regexp.MustCompile(`(?i)refresh_token\s*=`),
	regexp.MustCompile(`(?i)access_token\s*=`),
	regexp.MustCompile(`(?i)client_secret\s*=`),
	regexp.MustCompile(`(?i)apns_token\s*=`),
}

// RedactMetadata returns a copy of metadata with any value matching a
// secret pattern replaced wholesale by RedactedMarker.
func RedactMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	redacted := make(map[string]string, len(metadata))
	for key, value := range metadata {
		if containsSecret(value) {
			redacted[key] = RedactedMarker
		} else {
			redacted[key] = value
		}
	}
	return redacted
}

func containsSecret(value string) bool {
	for _, pattern := range secretPatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}
