package decision

import (
	"context"
	"encoding/json"
	"math"
	"sync"

	"github.com/rustyeddy/sessiond/market"
)

// MeanRev is a small z-score mean-reversion engine: buy when the close sits
// far below its rolling mean, flatten when it reverts. It exists to drive
// the demo CLI and integration tests with something better than a coin
// flip; it is deliberately simple.
type MeanRev struct {
	mu sync.Mutex

	Window    int     // rolling window length
	Threshold float64 // z-score that triggers an entry
	Units     float64 // order size

	closes map[string][]float64
	wins   map[string]int
	losses map[string]int
}

func NewMeanRev(window int, threshold, units float64) *MeanRev {
	if window <= 1 {
		window = 20
	}
	if threshold <= 0 {
		threshold = 2
	}
	if units <= 0 {
		units = 100
	}
	return &MeanRev{
		Window:    window,
		Threshold: threshold,
		Units:     units,
		closes:    make(map[string][]float64),
		wins:      make(map[string]int),
		losses:    make(map[string]int),
	}
}

func (m *MeanRev) Decide(ctx context.Context, symbol string, history []market.Bar, view PortfolioView) (Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(history) > 0 {
		last := history[len(history)-1]
		cs := append(m.closes[symbol], last.Close)
		if len(cs) > m.Window {
			cs = cs[len(cs)-m.Window:]
		}
		m.closes[symbol] = cs
	}

	cs := m.closes[symbol]
	if len(cs) < m.Window {
		return Action{Type: Hold, Reason: "warming up"}, nil
	}

	mean, std := meanStd(cs)
	if std == 0 {
		return Action{Type: Hold, Reason: "flat series"}, nil
	}
	z := (cs[len(cs)-1] - mean) / std

	switch {
	case view.Units == 0 && z < -m.Threshold:
		return Action{Type: Buy, Units: m.Units, Reason: "below mean"}, nil
	case view.Units > 0 && z >= 0:
		return Action{Type: Sell, Units: view.Units, Reason: "reverted"}, nil
	}
	return Action{Type: Hold}, nil
}

func (m *MeanRev) OnFill(symbol string, out Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case out.RealizedPL > 0:
		m.wins[symbol]++
	case out.RealizedPL < 0:
		m.losses[symbol]++
	}
}

type meanRevState struct {
	Window    int                  `json:"window"`
	Threshold float64              `json:"threshold"`
	Units     float64              `json:"units"`
	Closes    map[string][]float64 `json:"closes"`
	Wins      map[string]int       `json:"wins"`
	Losses    map[string]int       `json:"losses"`
}

func (m *MeanRev) Save() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Marshal(meanRevState{
		Window:    m.Window,
		Threshold: m.Threshold,
		Units:     m.Units,
		Closes:    m.closes,
		Wins:      m.wins,
		Losses:    m.losses,
	})
}

func (m *MeanRev) Load(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var st meanRevState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Window = st.Window
	m.Threshold = st.Threshold
	m.Units = st.Units
	m.closes = st.Closes
	m.wins = st.Wins
	m.losses = st.Losses
	if m.closes == nil {
		m.closes = make(map[string][]float64)
	}
	if m.wins == nil {
		m.wins = make(map[string]int)
	}
	if m.losses == nil {
		m.losses = make(map[string]int)
	}
	return nil
}

func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var varSum float64
	for _, x := range xs {
		varSum += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(varSum / float64(len(xs)))
}

func init() {
	Register("meanrev", func() Engine { return NewMeanRev(20, 2, 100) })
}
