package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sessiond/broker"
	"github.com/rustyeddy/sessiond/portfolio"
	"github.com/rustyeddy/sessiond/telemetry"
)

var now = time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

// stubBroker implements just enough of broker.Broker for reconciliation.
type stubBroker struct {
	book map[string]broker.PositionReport
	err  error
}

func (s *stubBroker) Start(context.Context) error { return nil }
func (s *stubBroker) Stop(context.Context) error  { return nil }
func (s *stubBroker) Submit(context.Context, broker.Order) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (s *stubBroker) Cancel(context.Context, string) (bool, error) { return false, nil }
func (s *stubBroker) SetFillHandler(broker.FillHandler)            {}
func (s *stubBroker) Positions(context.Context) (map[string]broker.PositionReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.book, nil
}

type stubLedger []portfolio.Position

func (s stubLedger) Positions() []portfolio.Position { return s }

func TestNoDriftNoAlerts(t *testing.T) {
	t.Parallel()

	b := &stubBroker{book: map[string]broker.PositionReport{
		"AAPL": {Symbol: "AAPL", Units: 100},
	}}
	l := stubLedger{{Symbol: "AAPL", Units: 100}}
	r := New(b, l, telemetry.Func(func(telemetry.Event) {}), 10, nil)

	alerts, err := r.Reconcile(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, r.Alerts())
}

func TestDriftBothDirections(t *testing.T) {
	t.Parallel()

	var events []telemetry.Event
	b := &stubBroker{book: map[string]broker.PositionReport{
		"AAPL": {Symbol: "AAPL", Units: 95}, // broker short 5 vs internal
		"MSFT": {Symbol: "MSFT", Units: 10}, // only broker has it
	}}
	l := stubLedger{
		{Symbol: "AAPL", Units: 100},
		{Symbol: "EUR_USD", Units: 2000}, // only ledger has it
	}
	r := New(b, l, telemetry.Func(func(e telemetry.Event) { events = append(events, e) }), 10, nil)

	alerts, err := r.Reconcile(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, alerts, 3)

	byName := map[string]Alert{}
	for _, a := range alerts {
		byName[a.Symbol] = a
	}
	assert.InDelta(t, -5, byName["AAPL"].Delta, 1e-9)
	assert.InDelta(t, 10, byName["MSFT"].Delta, 1e-9)
	assert.InDelta(t, -2000, byName["EUR_USD"].Delta, 1e-9)

	assert.Len(t, events, 3)
	assert.Equal(t, telemetry.KindReconcileDrift, events[0].Kind)
}

func TestBrokerErrorPropagates(t *testing.T) {
	t.Parallel()

	b := &stubBroker{err: broker.ErrTimeout}
	r := New(b, stubLedger{{Symbol: "AAPL", Units: 100}}, nil, 10, nil)

	_, err := r.Reconcile(context.Background(), now)
	assert.ErrorIs(t, err, broker.ErrTimeout)
	assert.Empty(t, r.Alerts(), "a timeout must not be read as zero positions")
}

func TestFlatInternalPositionsIgnored(t *testing.T) {
	t.Parallel()

	b := &stubBroker{book: map[string]broker.PositionReport{}}
	l := stubLedger{{Symbol: "AAPL", Units: 0, RealizedPL: 500}}
	r := New(b, l, nil, 10, nil)

	alerts, err := r.Reconcile(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAlertHistoryBounded(t *testing.T) {
	t.Parallel()

	b := &stubBroker{book: map[string]broker.PositionReport{}}
	r := New(b, stubLedger{}, telemetry.Func(func(telemetry.Event) {}), 5, nil)

	for i := 0; i < 20; i++ {
		b.book = map[string]broker.PositionReport{
			fmt.Sprintf("SYM%d", i): {Units: 1},
		}
		_, err := r.Reconcile(context.Background(), now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	got := r.Alerts()
	assert.Len(t, got, 5)
	assert.Equal(t, "SYM19", got[4].Symbol, "newest kept, oldest dropped")
	assert.Equal(t, "SYM15", got[0].Symbol)
}
