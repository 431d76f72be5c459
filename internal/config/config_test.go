/*
Copyright 2025.

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

package config

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBindCommon_AppliesDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := BindCommon(fs)
	require.NoError(t, fs.Parse(nil))

	require.Equal(t, "", c.PostgresConn)
	require.Equal(t, ":9090", c.MetricsAddr)
	require.Equal(t, ":8081", c.HealthAddr)
}

func TestBindCommon_FlagOverridesDefault(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := BindCommon(fs)
	require.NoError(t, fs.Parse([]string{"-metrics-addr", ":7000"}))

	require.Equal(t, ":7000", c.MetricsAddr)
}

func TestCommon_ApplyEnvFallbacks_FillsUnsetFlag(t *testing.T) {
	t.Setenv("POSTGRES_CONN", "postgres://env-value")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := BindCommon(fs)
	require.NoError(t, fs.Parse(nil))

	c.ApplyEnvFallbacks()

	require.Equal(t, "postgres://env-value", c.PostgresConn)
}

func TestCommon_ApplyEnvFallbacks_FlagTakesPrecedenceOverEnv(t *testing.T) {
	t.Setenv("METRICS_ADDR", ":1234")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := BindCommon(fs)
	require.NoError(t, fs.Parse([]string{"-metrics-addr", ":9999"}))

	c.ApplyEnvFallbacks()

	require.Equal(t, ":9999", c.MetricsAddr)
}

func TestEnvFallback_LeavesNonDefaultValueUntouched(t *testing.T) {
	t.Setenv("SOME_KEY", "from-env")
	v := "explicit"
	EnvFallback(&v, "default", "SOME_KEY")
	require.Equal(t, "explicit", v)
}

func TestEnvFallback_IgnoresEmptyEnvValue(t *testing.T) {
	v := "default"
	EnvFallback(&v, "default", "UNSET_KEY_FOR_TEST")
	require.Equal(t, "default", v)
}

func TestEnvBoolFallback_EnablesFromEnv(t *testing.T) {
	t.Setenv("FEATURE_ENABLED", "true")
	v := false
	EnvBoolFallback(&v, "FEATURE_ENABLED")
	require.True(t, v)
}

func TestEnvBoolFallback_IgnoresNonTrueValue(t *testing.T) {
	t.Setenv("FEATURE_ENABLED", "yes")
	v := false
	EnvBoolFallback(&v, "FEATURE_ENABLED")
	require.False(t, v)
}

func TestEnvIntFallback_ParsesValidInt(t *testing.T) {
	t.Setenv("POOL_SIZE", "42")
	v := 10
	EnvIntFallback(&v, 10, "POOL_SIZE")
	require.Equal(t, 42, v)
}

func TestEnvIntFallback_IgnoresUnparsableValue(t *testing.T) {
	t.Setenv("POOL_SIZE", "not-a-number")
	v := 10
	EnvIntFallback(&v, 10, "POOL_SIZE")
	require.Equal(t, 10, v)
}
