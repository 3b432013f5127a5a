package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// CSVBarFeed streams bars from a CSV file with columns:
//
//	time,symbol,open,high,low,close,volume
//
// A header row is allowed. Volume may be empty.
type CSVBarFeed struct {
	f *os.File
	r *csv.Reader

	sawFirst bool
}

func NewCSVBarFeed(path string) (*CSVBarFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return &CSVBarFeed{f: f, r: r}, nil
}

func (f *CSVBarFeed) Close() error {
	if f.f != nil {
		return f.f.Close()
	}
	return nil
}

// Next returns the next bar. The second return is false at end of file.
func (f *CSVBarFeed) Next() (Bar, bool, error) {
	for {
		row, err := f.r.Read()
		if err == io.EOF {
			return Bar{}, false, nil
		}
		if err != nil {
			return Bar{}, false, err
		}
		if len(row) == 0 {
			continue
		}

		if !f.sawFirst {
			f.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}

		bar, err := parseBarRow(row)
		if err != nil {
			return Bar{}, false, err
		}
		return bar, true, nil
	}
}

func parseBarRow(row []string) (Bar, error) {
	if len(row) < 6 {
		return Bar{}, fmt.Errorf("market: bar row needs at least 6 columns, got %d", len(row))
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0]))
	if err != nil {
		return Bar{}, fmt.Errorf("market: bar time: %w", err)
	}

	vals := make([]float64, 4)
	for i, col := range row[2:6] {
		v, err := strconv.ParseFloat(strings.TrimSpace(col), 64)
		if err != nil {
			return Bar{}, fmt.Errorf("market: bar column %d: %w", i+2, err)
		}
		vals[i] = v
	}

	var volume float64
	if len(row) > 6 && strings.TrimSpace(row[6]) != "" {
		volume, err = strconv.ParseFloat(strings.TrimSpace(row[6]), 64)
		if err != nil {
			return Bar{}, fmt.Errorf("market: bar volume: %w", err)
		}
	}

	return Bar{
		Symbol: strings.TrimSpace(row[1]),
		Time:   ts,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: volume,
	}, nil
}
