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

// Package config loads flags shared by the host API, enclave runtime,
// and worker binaries, with environment-variable fallbacks for
// container deployment. There is no config file format: flags plus
// env fallbacks cover every deployment this repo targets.
package config

import (
	"flag"
	"os"
	"strconv"
)

// Common groups the settings every binary in this repo needs.
type Common struct {
	PostgresConn string
	RedisAddrs   string
	MetricsAddr  string
	HealthAddr   string
	LogLevel     string
}

// BindCommon registers Common's flags on fs and returns the struct
// fs.Parse will populate. Call ApplyEnvFallbacks after fs.Parse.
func BindCommon(fs *flag.FlagSet) *Common {
	c := &Common{}
	fs.StringVar(&c.PostgresConn, "postgres-conn", "", "Postgres connection string")
	fs.StringVar(&c.RedisAddrs, "redis-addrs", "", "Redis addresses (comma-separated); empty disables the hot cache")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", ":9090", "Metrics server listen address")
	fs.StringVar(&c.HealthAddr, "health-addr", ":8081", "Health probe listen address")
	fs.StringVar(&c.LogLevel, "log-level", "", "Log level override (debug, trace); defaults to LOG_LEVEL")
	return c
}

// ApplyEnvFallbacks applies environment variable overrides to flag
// defaults that were left unset on the command line.
func (c *Common) ApplyEnvFallbacks() {
	EnvFallback(&c.PostgresConn, "", "POSTGRES_CONN")
	EnvFallback(&c.RedisAddrs, "", "REDIS_ADDRS")
	EnvFallback(&c.MetricsAddr, ":9090", "METRICS_ADDR")
	EnvFallback(&c.HealthAddr, ":8081", "HEALTH_ADDR")
	EnvFallback(&c.LogLevel, "", "LOG_LEVEL")
}

// EnvFallback sets *dst from the environment variable envKey when
// *dst still equals the default value and the environment variable is
// non-empty.
func EnvFallback(dst *string, defaultVal, envKey string) {
	if *dst == defaultVal {
		if v := os.Getenv(envKey); v != "" {
			*dst = v
		}
	}
}

// EnvBoolFallback enables a boolean flag from an environment variable
// when the flag is still false and the env var is "true".
func EnvBoolFallback(dst *bool, envKey string) {
	if !*dst && os.Getenv(envKey) == "true" {
		*dst = true
	}
}

// EnvIntFallback sets *dst from envKey when *dst still equals
// defaultVal and envKey parses as an integer.
func EnvIntFallback(dst *int, defaultVal int, envKey string) {
	if *dst != defaultVal {
		return
	}
	v, err := strconv.Atoi(os.Getenv(envKey))
	if err != nil {
		return
	}
	*dst = v
}
