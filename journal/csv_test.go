package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVRecordFillAndEquity(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fillsPath := filepath.Join(dir, "fills.csv")
	equityPath := filepath.Join(dir, "equity.csv")

	j, err := NewCSV(fillsPath, equityPath)
	require.NoError(t, err)

	tm := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	require.NoError(t, j.RecordFill(FillRecord{
		OrderID: "O1", ClientOrderID: "fp1", Symbol: "AAPL",
		Units: 100, Price: 50, Commission: 5, Time: tm,
	}))
	require.NoError(t, j.RecordEquity(EquitySnapshot{Time: tm, Cash: 94995, Equity: 99995}))
	require.NoError(t, j.Close())

	ff, err := os.Open(fillsPath)
	require.NoError(t, err)
	defer ff.Close()
	rows, err := csv.NewReader(ff).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "AAPL", rows[1][2])
	assert.Equal(t, "100", rows[1][3])

	ef, err := os.Open(equityPath)
	require.NoError(t, err)
	defer ef.Close()
	erows, err := csv.NewReader(ef).ReadAll()
	require.NoError(t, err)
	require.Len(t, erows, 2)
	assert.Equal(t, "94995", erows[1][1])
}
