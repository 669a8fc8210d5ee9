// Command arbitrage runs the triangular-arbitrage side-bot standalone,
// polling three pairwise order books and logging the better of the
// forward/reverse cycle on every poll, whether or not it is profitable
// after fees, grounded on
// original_source/arbitrage/main.cpp's BotConfig flag set and
// monitorArbitrageOpportunities polling loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lumenquant/ctengine/internal/arbitrage"
)

const (
	defaultBaseURL = "https://api.nobitex.ir"
	defaultWSURL   = "wss://wss.nobitex.ir/connection/websocket"
	pollInterval   = 3 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		real         bool
		token        string
		symbolA      string
		symbolB      string
		symbolC      string
		amount       float64
		feePerLeg    float64
		noWebsocket  bool
	)

	cmd := &cobra.Command{
		Use:   "arbitrage",
		Short: "Monitor and report triangular arbitrage opportunities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := arbitrage.Config{
				SymbolA:      symbolA,
				SymbolB:      symbolB,
				SymbolC:      symbolC,
				TradeAmountA: amount,
				FeePerLeg:    feePerLeg,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

			rest, err := arbitrage.NewRESTClient(baseURLFor(real), token)
			if err != nil {
				return err
			}
			var source arbitrage.BookSource = rest

			if !noWebsocket {
				ws := arbitrage.NewWSClient(defaultWSURL, log)
				cached := arbitrage.NewCachedBookSource(rest)
				ws.OnOrderbook(cached.Update)

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := ws.Connect(ctx)
				cancel()
				if err != nil {
					log.Warn().Err(err).Msg("websocket unavailable, falling back to REST polling")
				} else {
					for _, sym := range []string{symbolPair(symbolA, symbolB), symbolPair(symbolB, symbolC), symbolPair(symbolA, symbolC)} {
						if err := ws.SubscribeOrderbook(sym); err != nil {
							log.Warn().Err(err).Str("symbol", sym).Msg("subscribe failed")
						}
					}
					go func() {
						if err := ws.Run(context.Background()); err != nil {
							log.Warn().Err(err).Msg("websocket stream ended")
						}
					}()
					source = cached
				}
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Info().
				Str("symbol_a", symbolA).Str("symbol_b", symbolB).Str("symbol_c", symbolC).
				Float64("amount", amount).Bool("real", real).
				Msg("arbitrage: monitoring started")

			monitor(ctx, log, cfg, source)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&real, "real", "r", false, "trade against the live venue instead of its testnet")
	cmd.Flags().StringVarP(&token, "token", "t", "", "venue API access token")
	cmd.Flags().StringVarP(&symbolA, "symbolA", "a", "DOGE", "first symbol in the triangle")
	cmd.Flags().StringVarP(&symbolB, "symbolB", "b", "USDT", "second symbol in the triangle")
	cmd.Flags().StringVarP(&symbolC, "symbolC", "c", "IRT", "third symbol in the triangle")
	cmd.Flags().Float64VarP(&amount, "amount", "m", 10, "trade amount denominated in symbolA")
	cmd.Flags().Float64Var(&feePerLeg, "fee-per-leg", 0.0035, "fraction of notional lost to fees per leg")
	cmd.Flags().BoolVar(&noWebsocket, "no-websocket", false, "disable the websocket push feed and poll REST only")

	return cmd
}

func baseURLFor(real bool) string {
	if real {
		return defaultBaseURL
	}
	return defaultBaseURL + "/testnet"
}

func symbolPair(base, quote string) string {
	return base + quote
}

// monitor polls the three books on a fixed cadence and logs the best
// available cycle profit, matching the original's
// monitorArbitrageOpportunities loop without placing live orders — order
// placement is left to the REST client's PlaceMarketOrder for callers that
// want to wire it in.
func monitor(ctx context.Context, log zerolog.Logger, cfg arbitrage.Config, source arbitrage.BookSource) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("arbitrage: shutting down")
			return
		case <-ticker.C:
			bookAB, errAB := source.OrderBook(ctx, symbolPair(cfg.SymbolA, cfg.SymbolB))
			bookBC, errBC := source.OrderBook(ctx, symbolPair(cfg.SymbolB, cfg.SymbolC))
			bookAC, errAC := source.OrderBook(ctx, symbolPair(cfg.SymbolA, cfg.SymbolC))
			if errAB != nil || errBC != nil || errAC != nil {
				log.Warn().Err(firstErr(errAB, errBC, errAC)).Msg("arbitrage: order book fetch failed")
				continue
			}

			result := arbitrage.CalculateProfit(cfg, bookAB, bookBC, bookAC)
			profit, forward := result.Best()
			direction := "forward"
			if !forward {
				direction = "reverse"
			}
			log.Info().
				Str("direction", direction).
				Str("profit_pct", fmt.Sprintf("%.4f", profit*100)).
				Msg("arbitrage: cycle evaluated")
		}
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
