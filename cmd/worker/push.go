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

package main

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/altairalabs/assistant-core/internal/devices"
)

// pushDeliverer is the seam a rendered notification crosses on its way
// to a device. The real push transport (APNs for iOS, FCM for Android
// and web) sits outside this repo; pushDeliverer only fixes where it
// plugs in, the same way assistant.ProviderFetcher stands in for the
// real calendar/mail fetch.
type pushDeliverer interface {
	Deliver(ctx context.Context, device devices.Device, body string) error
}

// logPushDeliverer logs the notification it would have sent instead of
// delivering it. It is the only pushDeliverer this repo ships.
type logPushDeliverer struct {
	log logr.Logger
}

func newLogPushDeliverer(log logr.Logger) *logPushDeliverer {
	return &logPushDeliverer{log: log.WithName("push")}
}

func (d *logPushDeliverer) Deliver(_ context.Context, device devices.Device, body string) error {
	d.log.Info("notification ready for delivery", "deviceID", device.ID, "platform", device.Platform, "bodyLength", len(body))
	return nil
}
