package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "session.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('fills','equity','alerts','halts')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["fills"])
	assert.True(t, found["equity"])
	assert.True(t, found["alerts"])
	assert.True(t, found["halts"])
}

func TestSQLiteRecordFill(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	tm := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	require.NoError(t, j.RecordFill(FillRecord{
		OrderID:       "O1",
		ClientOrderID: "AAPL|1709303400000000000|+100.000000",
		Symbol:        "AAPL",
		Units:         100,
		Price:         50,
		Commission:    5,
		RealizedPL:    0,
		Time:          tm,
	}))
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var symbol string
	var units, price float64
	err = db.QueryRow(`SELECT symbol, units, price FROM fills`).Scan(&symbol, &units, &price)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", symbol)
	assert.InDelta(t, 100, units, 1e-9)
	assert.InDelta(t, 50, price, 1e-9)
}

func TestSQLiteRecordAlertAndHalt(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	tm := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordAlert(AlertRecord{
		Symbol: "AAPL", InternalUnits: 100, BrokerUnits: 95, Delta: -5, Time: tm,
	}))
	require.NoError(t, j.RecordHalt(HaltRecord{Reason: "DAILY_LOSS_LIMIT", Time: tm}))
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var delta float64
	require.NoError(t, db.QueryRow(`SELECT delta FROM alerts`).Scan(&delta))
	assert.InDelta(t, -5, delta, 1e-9)

	var reason string
	require.NoError(t, db.QueryRow(`SELECT reason FROM halts`).Scan(&reason))
	assert.Equal(t, "DAILY_LOSS_LIMIT", reason)
}
