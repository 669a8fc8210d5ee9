// Package timeframe enumerates the closed set of candle timeframes and
// provides pure lookups over them. It holds no state.
package timeframe

import (
	"github.com/pkg/errors"

	"github.com/lumenquant/ctengine/internal/ctxerr"
)

// Timeframe is one of the 17 recognized candle periods.
type Timeframe string

const (
	Minute1   Timeframe = "1m"
	Minute3   Timeframe = "3m"
	Minute5   Timeframe = "5m"
	Minute15  Timeframe = "15m"
	Minute30  Timeframe = "30m"
	Minute45  Timeframe = "45m"
	Hour1     Timeframe = "1h"
	Hour2     Timeframe = "2h"
	Hour3     Timeframe = "3h"
	Hour4     Timeframe = "4h"
	Hour6     Timeframe = "6h"
	Hour8     Timeframe = "8h"
	Hour12    Timeframe = "12h"
	Day1      Timeframe = "1D"
	Day3      Timeframe = "3D"
	Week1     Timeframe = "1W"
	Month1    Timeframe = "1M"
)

// ordered lists every recognized timeframe from shortest to longest; ties in
// minute-count never occur in this set, but this ordering also breaks ties
// by declaration order as spec.md §4.2 requires.
var ordered = []Timeframe{
	Minute1, Minute3, Minute5, Minute15, Minute30, Minute45,
	Hour1, Hour2, Hour3, Hour4, Hour6, Hour8, Hour12,
	Day1, Day3, Week1, Month1,
}

var minutes = map[Timeframe]uint64{
	Minute1:  1,
	Minute3:  3,
	Minute5:  5,
	Minute15: 15,
	Minute30: 30,
	Minute45: 45,
	Hour1:    60,
	Hour2:    120,
	Hour3:    180,
	Hour4:    240,
	Hour6:    360,
	Hour8:    480,
	Hour12:   720,
	Day1:     1440,
	Day3:     4320,
	Week1:    10080,
	Month1:   43200,
}

// ToMinutes returns the duration of tf in minutes, or an error if tf isn't
// one of the 17 recognized timeframes.
func ToMinutes(tf Timeframe) (uint64, error) {
	m, ok := minutes[tf]
	if !ok {
		return 0, errors.Wrapf(ctxerr.ErrInvalidTimeframe, "timeframe: unknown %q", tf)
	}
	return m, nil
}

// Parse validates a raw string against the recognized set.
func Parse(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := minutes[tf]; !ok {
		return "", errors.Wrapf(ctxerr.ErrInvalidTimeframe, "timeframe: cannot parse %q", s)
	}
	return tf, nil
}

// Format renders tf back to its canonical string form. Format(Parse(s)) == s
// for every recognized timeframe.
func Format(tf Timeframe) string {
	return string(tf)
}

// MaxOf returns the timeframe with the largest minute-count in the list,
// breaking ties (which cannot occur in this closed set, but are defined
// anyway) by declaration order in `ordered`. Returns an error on an empty
// or invalid list.
func MaxOf(tfs []Timeframe) (Timeframe, error) {
	if len(tfs) == 0 {
		return "", errors.Wrap(ctxerr.ErrInvalidTimeframe, "timeframe: MaxOf called with empty list")
	}
	rank := make(map[Timeframe]int, len(ordered))
	for i, tf := range ordered {
		rank[tf] = i
	}
	best := tfs[0]
	bestMin, err := ToMinutes(best)
	if err != nil {
		return "", err
	}
	for _, tf := range tfs[1:] {
		m, err := ToMinutes(tf)
		if err != nil {
			return "", err
		}
		if m > bestMin || (m == bestMin && rank[tf] > rank[best]) {
			best = tf
			bestMin = m
		}
	}
	return best, nil
}

// All returns every recognized timeframe, shortest to longest.
func All() []Timeframe {
	out := make([]Timeframe, len(ordered))
	copy(out, ordered)
	return out
}
