package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordFill(f FillRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO fills
		(order_id, client_order_id, symbol, units, price, commission, realized_pl, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.ClientOrderID, f.Symbol, f.Units, f.Price, f.Commission, f.RealizedPL, f.Time,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity (time, cash, equity, realized)
		VALUES (?, ?, ?, ?)`,
		e.Time, e.Cash, e.Equity, e.Realized,
	)
	return err
}

func (j *SQLite) RecordAlert(a AlertRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO alerts (symbol, internal_units, broker_units, delta, time)
		VALUES (?, ?, ?, ?, ?)`,
		a.Symbol, a.InternalUnits, a.BrokerUnits, a.Delta, a.Time,
	)
	return err
}

func (j *SQLite) RecordHalt(h HaltRecord) error {
	_, err := j.db.Exec(`INSERT INTO halts (reason, time) VALUES (?, ?)`, h.Reason, h.Time)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
