// Package decision defines the narrow contract the session holds with its
// decision engine. The coordinator treats the engine as a black box: any
// strategy (rule-based, learned, hybrid) plugs in behind the same four
// methods.
package decision

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/sessiond/market"
)

type ActionType string

const (
	Hold ActionType = "HOLD"
	Buy  ActionType = "BUY"
	Sell ActionType = "SELL"
)

// Action is the engine's answer to a bar. Units is always positive; the
// type carries the direction.
type Action struct {
	Type   ActionType
	Units  float64
	Reason string
}

// SignedUnits folds type and size into the signed quantity an order wants.
func (a Action) SignedUnits() float64 {
	if a.Type == Sell {
		return -a.Units
	}
	return a.Units
}

// PortfolioView is the slice of portfolio state an engine may see when
// deciding: an immutable copy, never live ledger references.
type PortfolioView struct {
	Cash   float64
	Equity float64
	Units  float64 // current signed units of the symbol under decision
}

// Outcome reports a fill back to the engine for learning updates.
type Outcome struct {
	Symbol     string
	Units      float64
	Price      float64
	RealizedPL float64
	Time       time.Time
}

// Engine is the decision collaborator contract.
type Engine interface {
	Decide(ctx context.Context, symbol string, history []market.Bar, view PortfolioView) (Action, error)

	// OnFill notifies the engine of an execution outcome.
	OnFill(symbol string, out Outcome)

	// Save and Load persist the engine's opaque state. The session embeds
	// the same bytes into its checkpoints.
	Save() ([]byte, error)
	Load(data []byte) error
}

var (
	regMu    sync.Mutex
	registry = make(map[string]func() Engine)
)

// Register makes an engine constructor available to ByName.
func Register(name string, newFn func() Engine) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[strings.ToLower(name)] = newFn
}

// ByName builds a registered engine.
func ByName(name string) (Engine, error) {
	regMu.Lock()
	defer regMu.Unlock()
	newFn, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("decision: unknown engine %q (registered: %s)", name, names())
	}
	return newFn(), nil
}

func names() string {
	var out []string
	for n := range registry {
		out = append(out, n)
	}
	return strings.Join(out, ", ")
}
