package journal

const Schema = `
CREATE TABLE IF NOT EXISTS fills (
	order_id TEXT NOT NULL,
	client_order_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	units REAL NOT NULL,
	price REAL NOT NULL,
	commission REAL NOT NULL,
	realized_pl REAL NOT NULL,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	cash REAL NOT NULL,
	equity REAL NOT NULL,
	realized REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	symbol TEXT NOT NULL,
	internal_units REAL NOT NULL,
	broker_units REAL NOT NULL,
	delta REAL NOT NULL,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS halts (
	reason TEXT NOT NULL,
	time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_time ON fills(time);
CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
`
