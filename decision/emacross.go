package decision

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rustyeddy/sessiond/indicators"
	"github.com/rustyeddy/sessiond/market"
)

// EmaCross trades a fast/slow EMA crossover per symbol:
//   - enters long on a bull cross (fast crosses above slow)
//   - flattens and goes short on a bear cross
//   - otherwise holds
//
// Streaming EMAs carry the state, so Decide only needs the latest bar from
// the history it is handed.
type EmaCross struct {
	mu sync.Mutex

	FastPeriod int
	SlowPeriod int
	Units      float64

	state map[string]*crossState
}

type crossState struct {
	fast     *indicators.ExponentialMA
	slow     *indicators.ExponentialMA
	lastDiff float64
	haveDiff bool
}

func NewEmaCross(fast, slow int, units float64) *EmaCross {
	if fast <= 0 {
		fast = 20
	}
	if slow <= fast {
		slow = fast * 2
	}
	if units <= 0 {
		units = 100
	}
	return &EmaCross{
		FastPeriod: fast,
		SlowPeriod: slow,
		Units:      units,
		state:      make(map[string]*crossState),
	}
}

func (e *EmaCross) Decide(ctx context.Context, symbol string, history []market.Bar, view PortfolioView) (Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.state[symbol]
	if !ok {
		st = &crossState{
			fast: indicators.NewEMA(e.FastPeriod),
			slow: indicators.NewEMA(e.SlowPeriod),
		}
		e.state[symbol] = st
	}

	if len(history) == 0 {
		return Action{Type: Hold}, nil
	}
	last := history[len(history)-1]
	st.fast.Update(last)
	st.slow.Update(last)

	if !st.fast.Ready() || !st.slow.Ready() {
		return Action{Type: Hold, Reason: "warming up"}, nil
	}

	diff := st.fast.Value() - st.slow.Value()
	if !st.haveDiff {
		st.lastDiff = diff
		st.haveDiff = true
		return Action{Type: Hold}, nil
	}

	bullCross := diff > 0 && st.lastDiff <= 0
	bearCross := diff < 0 && st.lastDiff >= 0
	st.lastDiff = diff

	switch {
	case bullCross && view.Units <= 0:
		// Close any short and open the long in one signed order.
		return Action{Type: Buy, Units: e.Units - view.Units, Reason: "bull cross"}, nil
	case bearCross && view.Units >= 0:
		return Action{Type: Sell, Units: e.Units + view.Units, Reason: "bear cross"}, nil
	}
	return Action{Type: Hold}, nil
}

func (e *EmaCross) OnFill(symbol string, out Outcome) {}

type emaCrossState struct {
	FastPeriod int                           `json:"fast_period"`
	SlowPeriod int                           `json:"slow_period"`
	Units      float64                       `json:"units"`
	Symbols    map[string]emaCrossSymbolBlob `json:"symbols"`
}

type emaCrossSymbolBlob struct {
	Fast     indicators.State `json:"fast"`
	Slow     indicators.State `json:"slow"`
	LastDiff float64          `json:"last_diff"`
	HaveDiff bool             `json:"have_diff"`
}

func (e *EmaCross) Save() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	blob := emaCrossState{
		FastPeriod: e.FastPeriod,
		SlowPeriod: e.SlowPeriod,
		Units:      e.Units,
		Symbols:    make(map[string]emaCrossSymbolBlob, len(e.state)),
	}
	for sym, st := range e.state {
		blob.Symbols[sym] = emaCrossSymbolBlob{
			Fast:     st.fast.State(),
			Slow:     st.slow.State(),
			LastDiff: st.lastDiff,
			HaveDiff: st.haveDiff,
		}
	}
	return json.Marshal(blob)
}

func (e *EmaCross) Load(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var blob emaCrossState
	if err := json.Unmarshal(data, &blob); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.FastPeriod = blob.FastPeriod
	e.SlowPeriod = blob.SlowPeriod
	e.Units = blob.Units
	e.state = make(map[string]*crossState, len(blob.Symbols))
	for sym, sb := range blob.Symbols {
		e.state[sym] = &crossState{
			fast:     indicators.RestoreEMA(sb.Fast),
			slow:     indicators.RestoreEMA(sb.Slow),
			lastDiff: sb.LastDiff,
			haveDiff: sb.HaveDiff,
		}
	}
	return nil
}

func init() {
	Register("emacross", func() Engine { return NewEmaCross(20, 50, 100) })
}
