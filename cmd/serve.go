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
	"os"
	"os/signal"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-lookthrough/handler"
	"github.com/penny-vault/pv-lookthrough/observability/opentelemetry"
	"github.com/penny-vault/pv-lookthrough/router"
)

func init() {
	viper.BindEnv("server.port", "PORT")
	serveCmd.Flags().IntP("port", "p", 3000, "Port to run application server on")
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	viper.BindEnv("server.api_key", "PV_API_KEY")
	serveCmd.Flags().String("api-key", "", "Key clients must present in the X-Pv-Api header; blank disables the check")
	viper.BindPFlag("server.api_key", serveCmd.Flags().Lookup("api-key"))

	viper.BindEnv("prewarm.schedule", "PV_PREWARM_SCHEDULE")
	serveCmd.Flags().String("prewarm-schedule", "0 6 * * *", "Cron expression (America/New_York) for refreshing fund compositions; blank disables")
	viper.BindPFlag("prewarm.schedule", serveCmd.Flags().Lookup("prewarm-schedule"))

	viper.BindEnv("prewarm.symbols", "PV_PREWARM_SYMBOLS")
	serveCmd.Flags().StringSlice("prewarm-symbols", []string{}, "Fund symbols to prewarm in addition to the conversion targets")
	viper.BindPFlag("prewarm.symbols", serveCmd.Flags().Lookup("prewarm-symbols"))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the look-through API server",
	Long:  `Run HTTP server that computes look-through exposure for posted holdings`,
	Run: func(cmd *cobra.Command, args []string) {
		if Profile {
			f, err := os.Create("profile.out")
			if err != nil {
				log.Fatal().Err(err).Msg("could not create profile.out")
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				log.Fatal().Err(err).Msg("could not start cpu profile")
			}
			defer pprof.StopCPUProfile()
		}

		if Trace {
			f, err := os.Create("trace.out")
			if err != nil {
				log.Fatal().Err(err).Msg("failed to create trace output file")
			}
			defer func() {
				if err := f.Close(); err != nil {
					log.Fatal().Err(err).Msg("failed to close trace file")
				}
			}()

			if err := trace.Start(f); err != nil {
				log.Fatal().Err(err).Msg("failed to start trace")
			}
			defer trace.Stop()
		}

		shutdownTracing, err := opentelemetry.Setup()
		if err != nil {
			log.Fatal().Err(err).Msg("could not setup tracing")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				log.Error().Err(err).Msg("flushing traces failed")
			}
		}()

		manager, engine, err := buildEngine(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("could not initialize look-through engine")
		}
		defer manager.Close()

		app := router.NewApp(handler.New(engine, manager), viper.GetString("server.api_key"))

		// shutdown cleanly on interrupt
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		go func() {
			sig := <-c
			log.Info().Str("Signal", sig.String()).Msg("shutting down")
			if err := app.Shutdown(); err != nil {
				log.Error().Err(err).Msg("server shutdown failed")
			}
		}()

		// keep fund compositions warm so the first request of the day does not
		// wait on the provider
		if schedule := viper.GetString("prewarm.schedule"); schedule != "" {
			tz, _ := time.LoadLocation("America/New_York")
			if tz == nil {
				tz = time.UTC
			}
			symbols := prewarmSymbols(engine.ConversionTable().TargetSymbols())

			scheduler := gocron.NewScheduler(tz)
			_, err := scheduler.Cron(schedule).SingletonMode().Do(func() {
				<-manager.Compositions.Prewarm(symbols)
			})
			if err != nil {
				log.Fatal().Err(err).Str("Schedule", schedule).Msg("invalid prewarm schedule")
			}
			scheduler.StartAsync()
			defer scheduler.Stop()

			log.Info().Str("Schedule", schedule).Int("NumSymbols", len(symbols)).Msg("scheduled composition prewarm")
		}

		if err := app.Listen(":" + viper.GetString("server.port")); err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
	},
}
