package segment

import (
	"fmt"
	"math"
)

// Strategy maps a feature record to exactly one label of its scheme.
type Strategy interface {
	Scheme() Scheme
	Classify(f Features) Classified
	// Priority lists labels best → worst; the aggregator sorts by it.
	Priority() []Label
	CatchAll() Label
	// IncludeMembers asks the aggregator to attach member records per segment.
	IncludeMembers() bool
}

// Rule is one entry of an ordered rule table. The first matching rule wins.
type Rule struct {
	Label      Label
	Confidence float64
	Match      func(f Features, s Scores) bool
}

// StrategyFor returns the strategy registered for a scheme.
func StrategyFor(s Scheme) (Strategy, error) {
	switch s {
	case SchemeRFM:
		return RFMStrategy{}, nil
	case SchemeLifecycle:
		return LifecycleStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, s)
	}
}

// Score thresholds.
func RecencyScore(days int) int {
	switch {
	case days <= 30:
		return 5
	case days <= 60:
		return 4
	case days <= 90:
		return 3
	case days <= 180:
		return 2
	default:
		return 1
	}
}

func FrequencyScore(orders int) int {
	switch {
	case orders >= 10:
		return 5
	case orders >= 5:
		return 4
	case orders >= 3:
		return 3
	case orders >= 2:
		return 2
	default:
		return 1
	}
}

func MonetaryScore(spent float64) int {
	switch {
	case spent >= 1000:
		return 5
	case spent >= 500:
		return 4
	case spent >= 200:
		return 3
	case spent >= 50:
		return 2
	default:
		return 1
	}
}

// ScoreOf derives the RFM ordinals. Both schemes record them for display.
func ScoreOf(f Features) Scores {
	return Scores{
		Recency:   RecencyScore(f.DaysSinceLastOrder),
		Frequency: FrequencyScore(f.OrderCount),
		Monetary:  MonetaryScore(f.TotalSpent),
	}
}

// valid rejects records that can only come from corrupt data.
func valid(f Features) bool {
	if f.OrderCount < 0 || f.DaysSinceLastOrder < 0 {
		return false
	}
	for _, v := range []float64{f.TotalSpent, f.AvgOrderValue} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// evaluate walks rules in order. Zero-order and invalid records skip the table.
func evaluate(rules []Rule, catchAll Rule, f Features) Classified {
	s := ScoreOf(f)
	out := Classified{Features: f, Scores: s, Label: catchAll.Label, Confidence: catchAll.Confidence}
	if f.OrderCount == 0 || !valid(f) {
		return out
	}
	for _, r := range rules {
		if r.Match(f, s) {
			out.Label = r.Label
			out.Confidence = r.Confidence
			return out
		}
	}
	return out
}

// ClassifyAll applies st to every record, preserving input order.
func ClassifyAll(st Strategy, features []Features) []Classified {
	out := make([]Classified, 0, len(features))
	for _, f := range features {
		out = append(out, st.Classify(f))
	}
	return out
}
