package decision

import (
	"context"

	"github.com/rustyeddy/sessiond/market"
)

// Noop holds forever. Useful for dry runs and as the test stand-in.
type Noop struct{}

func (Noop) Decide(ctx context.Context, symbol string, history []market.Bar, view PortfolioView) (Action, error) {
	return Action{Type: Hold}, nil
}

func (Noop) OnFill(symbol string, out Outcome) {}

func (Noop) Save() ([]byte, error) { return nil, nil }

func (Noop) Load(data []byte) error { return nil }

func init() {
	Register("noop", func() Engine { return Noop{} })
}
