package engine

import (
	"maps"
	"slices"
	"time"

	"genflow/services/storage"
)

// Tariff is the estimated price and wall time of running one node.
type Tariff struct {
	Cost     float64
	Duration time.Duration
}

// Tariffs maps node kinds to their tariff. Kinds missing from the table use
// the Fallback entry.
type Tariffs struct {
	Kinds    map[storage.NodeKind]Tariff
	Fallback Tariff
}

// DefaultTariffs is the built-in price list, in USD.
var DefaultTariffs = Tariffs{
	Kinds: map[storage.NodeKind]Tariff{
		storage.KindPrompt:            {Cost: 0, Duration: 100 * time.Millisecond},
		storage.KindImageGenerate:     {Cost: 0.003, Duration: 8 * time.Second},
		storage.KindImageEdit:         {Cost: 0.04, Duration: 12 * time.Second},
		storage.KindBackgroundReplace: {Cost: 0.02, Duration: 6 * time.Second},
		storage.KindVideoGenerate:     {Cost: 0.5, Duration: 60 * time.Second},
	},
	Fallback: Tariff{Cost: 0, Duration: 500 * time.Millisecond},
}

// For returns the tariff of kind.
func (t Tariffs) For(kind storage.NodeKind) Tariff {
	if tariff, ok := t.Kinds[kind]; ok {
		return tariff
	}
	return t.Fallback
}

// Estimate sums the tariffs of nodes. The result depends only on the
// multiset of node kinds, not on their order.
func (t Tariffs) Estimate(nodes []storage.Node) (float64, time.Duration) {
	counts := make(map[storage.NodeKind]int)
	for _, n := range nodes {
		counts[n.Kind]++
	}

	var (
		cost     float64
		duration time.Duration
	)
	// Float addition is not associative; a fixed kind order keeps the sum
	// reproducible.
	for _, kind := range slices.Sorted(maps.Keys(counts)) {
		tariff := t.For(kind)
		cost += tariff.Cost * float64(counts[kind])
		duration += tariff.Duration * time.Duration(counts[kind])
	}
	return cost, duration
}
