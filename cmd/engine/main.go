// Command engine runs the trading-engine kernel: it boots an
// internal/engine.Engine bound to a session, serves Prometheus metrics
// and a health endpoint, and drives either a backtest or a live loop,
// mirroring the boot sequence the kernel's teacher used for its own
// broker/model/trader wiring.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lumenquant/ctengine/internal/config"
	"github.com/lumenquant/ctengine/internal/engine"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	var sessionID string
	var backtestCSV string
	var live bool
	var intervalSec int

	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Run the trading-engine kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if sessionID != "" {
				cfg.App.SessionID = sessionID
			}

			log := newLogger(cfg.App.DebugMode)

			opts := []engine.Option{engine.WithLogger(log)}
			if cfg.App.PersistState {
				opts = append(opts, engine.WithStateFile(cfg.App.StateFile))
			}
			eng := engine.New(cfg.App.SessionID, opts...)
			defer eng.Close()

			if cfg.App.PersistState {
				if err := eng.LoadState(); err != nil {
					log.Warn().Err(err).Msg("no prior state loaded")
				}
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("ok\n"))
			})
			mux.Handle("/metrics", promhttp.Handler())

			srv := &http.Server{Addr: portAddr(cfg.App.Port), Handler: mux}
			go func() {
				log.Info().Int("port", cfg.App.Port).Msg("serving metrics")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("metrics server failed")
				}
			}()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if backtestCSV != "" && !live {
				runBacktest(ctx, eng, backtestCSV)
			} else {
				runLive(ctx, eng, intervalSec)
			}

			if cfg.App.PersistState {
				if err := eng.SaveState(); err != nil {
					log.Error().Err(err).Msg("failed to save state on shutdown")
				}
			}

			shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
			defer c()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "path to a config file (env vars always apply)")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "override app.session_id")
	cmd.Flags().StringVar(&backtestCSV, "backtest", "", "path to CSV candles (time,open,high,low,close,volume)")
	cmd.Flags().BoolVar(&live, "live", false, "run the live loop (ignores --backtest)")
	cmd.Flags().IntVar(&intervalSec, "interval", 60, "live loop interval in seconds")

	return cmd
}

func newLogger(debug bool) zerolog.Logger {
	if debug {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
