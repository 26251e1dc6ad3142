// Copyright 2021-2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-lookthrough/common"
	"github.com/penny-vault/pv-lookthrough/data"
)

var Profile bool
var Trace bool

// binding ties a viper key to its environment variable and persistent flag
type binding struct {
	key  string
	env  string
	flag string
}

var bindings = []binding{
	{"log.level", "PV_LOG_LEVEL", "log-level"},
	{"log.report_caller", "PV_LOG_REPORT_CALLER", "log-report-caller"},
	{"log.output", "PV_LOG_OUTPUT", "log-output"},
	{"log.pretty", "PV_LOG_PRETTY", "log-pretty"},

	{"cache.backend", "PV_CACHE_BACKEND", "cache-backend"},
	{"cache.dir", "PV_CACHE_DIR", "cache-dir"},
	{"cache.local_size", "PV_CACHE_LOCAL_SIZE", "cache-local-size"},
	{"cache.redis_url", "REDIS_URL", "cache-redis-url"},
	{"cache.composition_ttl", "PV_COMPOSITION_TTL", "cache-composition-ttl"},
	{"cache.classification_ttl", "PV_CLASSIFICATION_TTL", "cache-classification-ttl"},
	{"database.url", "DATABASE_URL", "database-url"},

	{"provider.api_key", "ALPHAVANTAGE_API_KEY", "provider-api-key"},
	{"provider.base_url", "ALPHAVANTAGE_URL", "provider-base-url"},
	{"provider.calls_per_minute", "PV_PROVIDER_CALLS_PER_MINUTE", "provider-calls-per-minute"},
	{"provider.timeout", "PV_PROVIDER_TIMEOUT", "provider-timeout"},
	{"provider.batch_size", "PV_PROVIDER_BATCH_SIZE", "provider-batch-size"},
	{"provider.run_deadline", "PV_PROVIDER_RUN_DEADLINE", "provider-run-deadline"},

	{"conversion.table", "PV_CONVERSION_TABLE", "conversion-table"},

	{"otlp.enabled", "PV_OTLP_ENABLED", "otlp-enabled"},
	{"otlp.http", "PV_OTLP_HTTP", "otlp-http"},
	{"otlp.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", "otlp-endpoint"},
}

func init() {
	flags := rootCmd.PersistentFlags()

	// Logging configuration
	flags.String("log-level", "warning", "Logging level")
	flags.Bool("log-report-caller", false, "Log function name that called log statement")
	flags.String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	flags.Bool("log-pretty", false, "Write human readable logs instead of JSON")

	// Persistent cache
	flags.String("cache-backend", "file", "Persistent cache backend one of: `file`, `redis`, or `postgres`")
	flags.String("cache-dir", ".lookthrough-cache", "Directory used by the file cache backend")
	flags.Int("cache-local-size", data.DefaultLocalCacheSize, "Number of records kept in the in-memory cache per kind")
	flags.String("cache-redis-url", "", "Redis connection string used by the redis cache backend")
	flags.Duration("cache-composition-ttl", data.DefaultCompositionTTL, "Age after which a fund composition is refreshed")
	flags.Duration("cache-classification-ttl", data.DefaultClassificationTTL, "Age after which a security classification is refreshed")
	flags.String("database-url", "", "PostgreSQL connection string used by the postgres cache backend")

	// Data provider
	flags.String("provider-api-key", "", "AlphaVantage API key")
	flags.String("provider-base-url", data.DefaultAlphaVantageURL, "AlphaVantage query endpoint")
	flags.Int("provider-calls-per-minute", data.DefaultCallsPerMinute, "Provider calls allowed per minute")
	flags.Duration("provider-timeout", data.DefaultProviderTimeout, "Timeout applied to each provider call")
	flags.Int("provider-batch-size", data.DefaultBatchSize, "Number of concurrent provider calls per batch")
	flags.Duration("provider-run-deadline", 0, "Stop issuing provider calls once a run is older than this; 0 disables")

	flags.String("conversion-table", "", "TOML conversion table; blank uses the built-in table")

	// Tracing
	flags.Bool("otlp-enabled", false, "Export traces over OTLP")
	flags.Bool("otlp-http", false, "Use OTLP over HTTP instead of gRPC")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint")

	for _, b := range bindings {
		if err := viper.BindEnv(b.key, b.env); err != nil {
			log.Panic().Err(err).Str("Key", b.key).Msg("could not bind environment variable")
		}
		if err := viper.BindPFlag(b.key, flags.Lookup(b.flag)); err != nil {
			log.Panic().Err(err).Str("Key", b.key).Msg("could not bind flag")
		}
	}

	flags.BoolVar(&Profile, "cpu-profile", false, "Run pprof and save in profile.out")
	flags.BoolVar(&Trace, "trace", false, "Trace program execution and save in trace.out")
}

var rootCmd = &cobra.Command{
	Use:     "pvlookthrough",
	Version: common.CurrentVersion.String(),
	Short:   "Look-through exposure of stock, fund and cash holdings",
	Long: `pvlookthrough expands fund holdings into the securities they hold and
aggregates the resulting exposure by symbol, sector, asset class and account.
Fund compositions and security classifications are cached in memory and in a
persistent store so the rate limited data provider is called sparingly.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// commandContext is cancelled when the process receives an interrupt
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
