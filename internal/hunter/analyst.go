package hunter

import (
	"context"
	"sort"
)

// Candidate is one scored entry opportunity produced by an analyst. All
// prices are in quote currency; scores are 0-100.
type Candidate struct {
	Symbol           string  `json:"symbol"`
	Price            float64 `json:"price"`
	TrendScore       float64 `json:"trend_score"`
	FundamentalScore float64 `json:"fundamental_score"`
	MomentumScore    float64 `json:"momentum_score"`
	Composite        float64 `json:"composite_score"`
	EntryPrice       float64 `json:"entry_price"`
	TargetPrice      float64 `json:"target_price"`
	StopLoss         float64 `json:"stop_loss"`
	Trigger          string  `json:"entry_trigger"`
	Reasoning        string  `json:"reasoning"`
}

// Analyst supplies the family-specific half of a hunter cycle: finding
// symbols, scoring them, and quoting live marks. Implementations must be
// safe for concurrent use; the cycle loop and manual API calls overlap.
type Analyst interface {
	// Scan discovers this cycle's symbols, scores them, and returns the
	// candidates at or above minScore, best first, together with the
	// number of symbols that passed discovery.
	Scan(ctx context.Context, minScore float64) ([]Candidate, int, error)

	// Price returns the live mark for one symbol.
	Price(ctx context.Context, symbol string) (float64, error)

	// ManualCandidate builds a watchlist row for a hand-added symbol.
	ManualCandidate(ctx context.Context, symbol string) (*Candidate, error)

	// Normalize maps user input onto the venue symbol form, e.g. btc
	// becomes BTC-USD for crypto and aapl becomes AAPL for equities.
	Normalize(symbol string) string
}

// sortByComposite orders candidates best first, keeping discovery order
// for ties.
func sortByComposite(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Composite > candidates[j].Composite
	})
}
