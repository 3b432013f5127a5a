package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

// CSV journals fills and equity to two flat files. Alerts and halts are
// only kept by the SQLite backend; the CSV pair stays a simple export.
type CSV struct {
	fills  *csv.Writer
	equity *csv.Writer
	ff, ef *os.File
}

func NewCSV(fillsPath, equityPath string) (*CSV, error) {
	ff, err := os.Create(fillsPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		ff.Close()
		return nil, err
	}

	fw := csv.NewWriter(ff)
	ew := csv.NewWriter(ef)

	if err := fw.Write([]string{"order_id", "client_order_id", "symbol", "units", "price", "commission", "realized_pl", "time"}); err != nil {
		return nil, err
	}
	if err := ew.Write([]string{"time", "cash", "equity", "realized"}); err != nil {
		return nil, err
	}

	fw.Flush()
	if err := fw.Error(); err != nil {
		return nil, err
	}
	ew.Flush()
	if err := ew.Error(); err != nil {
		return nil, err
	}

	return &CSV{fills: fw, equity: ew, ff: ff, ef: ef}, nil
}

func (j *CSV) RecordFill(rec FillRecord) error {
	j.fills.Write([]string{
		rec.OrderID,
		rec.ClientOrderID,
		rec.Symbol,
		f(rec.Units),
		f(rec.Price),
		f(rec.Commission),
		f(rec.RealizedPL),
		rec.Time.Format(time.RFC3339),
	})
	j.fills.Flush()
	return j.fills.Error()
}

func (j *CSV) RecordEquity(e EquitySnapshot) error {
	j.equity.Write([]string{
		e.Time.Format(time.RFC3339),
		f(e.Cash),
		f(e.Equity),
		f(e.Realized),
	})
	j.equity.Flush()
	return j.equity.Error()
}

// Alerts and halts are only kept by the SQLite backend; the CSV pair stays
// a two-file fills/equity export.
func (j *CSV) RecordAlert(AlertRecord) error { return nil }
func (j *CSV) RecordHalt(HaltRecord) error   { return nil }

func (j *CSV) Close() error {
	j.fills.Flush()
	j.equity.Flush()
	if err := j.ff.Close(); err != nil {
		j.ef.Close()
		return err
	}
	return j.ef.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
