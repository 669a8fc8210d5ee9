package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lumenquant/ctengine/internal/candle"
	"github.com/lumenquant/ctengine/internal/engine"
	"github.com/lumenquant/ctengine/internal/simulate"
	"github.com/lumenquant/ctengine/internal/timeframe"
)

// backtestExchange names the exchange of the single pair a CSV-driven
// backtest replays (the symbol comes from BACKTEST_SYMBOL, default
// BTC-USDT); strategy user code deciding what to trade is outside
// this kernel's scope, so the runner only exercises candle ingestion,
// order matching and position accounting.
const (
	backtestExchange = "backtest"
)

// loadCandlesCSV reads a generic candle CSV with headers
// time|timestamp, open, high, low, close, volume, matching the teacher's
// own loader in shape (RFC3339 or UNIX-seconds timestamps, case-insensitive
// headers, unknown columns ignored).
func loadCandlesCSV(path string) ([]candle.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []candle.Candle
	var headers []string
	rowIdx := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if rowIdx == 0 {
			headers = rec
			rowIdx++
			continue
		}
		row := map[string]string{}
		for j, h := range headers {
			k := strings.ToLower(strings.TrimSpace(h))
			if j < len(rec) {
				row[k] = strings.TrimSpace(rec[j])
			}
		}
		ts := firstNonEmpty(row, "time", "timestamp")
		op := firstNonEmpty(row, "open")
		hp := firstNonEmpty(row, "high")
		lp := firstNonEmpty(row, "low")
		cp := firstNonEmpty(row, "close")
		vp := firstNonEmpty(row, "volume", "vol")
		if ts == "" || op == "" || cp == "" {
			continue
		}
		tsMs, err := parseTimestampMs(ts)
		if err != nil {
			continue
		}
		o, _ := strconv.ParseFloat(op, 64)
		h, _ := strconv.ParseFloat(hp, 64)
		l, _ := strconv.ParseFloat(lp, 64)
		c, _ := strconv.ParseFloat(cp, 64)
		v, _ := strconv.ParseFloat(vp, 64)
		out = append(out, candle.Candle{TimestampMs: tsMs, Open: o, High: h, Low: l, Close: c, Volume: v})
		rowIdx++
	}

	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out, nil
}

func parseTimestampMs(s string) (int64, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return sec * 1000, nil
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

// runBacktest replays a CSV of 1-minute candles through the engine's
// candle aggregator, driving order matching via the simulation package.
func runBacktest(ctx context.Context, eng *engine.Engine, csvPath string) {
	log := eng.Log()
	candles, err := loadCandlesCSV(csvPath)
	if err != nil {
		log.Fatal().Err(err).Msg("backtest: loading CSV")
	}
	if len(candles) == 0 {
		log.Fatal().Msg("backtest: CSV had no usable rows")
	}

	symbol := os.Getenv("BACKTEST_SYMBOL")
	if symbol == "" {
		symbol = "BTC-USDT"
	}

	sim := simulate.New(backtestExchange, eng.Orders(), eng, eng)
	execHook := func(exchange, sym string, tf timeframe.Timeframe, c candle.Candle) {
		if tf != timeframe.Minute1 {
			return
		}
		if _, err := sim.Step(sym, c); err != nil {
			log.Error().Err(err).Str("symbol", sym).Msg("backtest: simulation step failed")
		}
	}
	genHook := func(exchange, sym string) {
		if err := eng.Candles().GenerateHigherTimeframes(exchange, sym); err != nil {
			log.Error().Err(err).Str("symbol", sym).Msg("backtest: higher-timeframe generation failed")
		}
	}

	log.Info().Str("csv", csvPath).Int("rows", len(candles)).Str("symbol", symbol).Msg("backtest: starting replay")

	for i, c := range candles {
		select {
		case <-ctx.Done():
			log.Warn().Msg("backtest: canceled")
			return
		default:
		}
		eng.SetNow(c.TimestampMs)
		opts := candle.AddCandleOptions{WithExecution: true, WithGeneration: true}
		if err := eng.Candles().AddCandle(backtestExchange, symbol, timeframe.Minute1, c, opts, c.TimestampMs, execHook, genHook); err != nil {
			log.Error().Err(err).Int("row", i).Msg("backtest: candle ingest failed")
		}
		if i%500 == 0 {
			log.Info().Int("row", i).Int("total", len(candles)).Msg("backtest: progress")
		}
	}

	log.Info().Int("rows", len(candles)).Msg("backtest: replay complete")
}

// runLive ticks on a fixed cadence, setting the engine clock to wall time on
// each tick; it performs no connectivity checks. TLS/websocket
// transport to exchanges is outside the kernel's scope (spec.md §1's
// out-of-scope list) — this loop only advances the engine clock and leaves
// ingestion to whatever external collaborator feeds candles in over
// eng.Candles().AddCandle.
func runLive(ctx context.Context, eng *engine.Engine, intervalSec int) {
	log := eng.Log()
	if intervalSec <= 0 {
		intervalSec = 60
	}
	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()

	log.Info().Int("interval_sec", intervalSec).Msg("live: entering poll loop")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("live: shutting down")
			return
		case t := <-ticker.C:
			eng.SetNow(t.UnixMilli())
		}
	}
}
