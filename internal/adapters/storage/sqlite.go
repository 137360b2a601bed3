package storage

// sqlite.go: archivo histórico de trades y alertas.
//
// Estrategia:
//   - `trade_orders`: UNA fila por orden terminal (UPSERT por id). Los importes
//     van como TEXT para no perder precisión decimal.
//   - `alerts`: append-only, una fila por alerta terminal.
//   - Timestamps en milisegundos UTC: los rangos son comparaciones enteras.
//   - Prune automático al arrancar: órdenes > 90d, alertas > 30d.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trade_orders (
    id              TEXT PRIMARY KEY,
    symbol_pair     TEXT    NOT NULL,
    buy_venue       TEXT    NOT NULL,
    sell_venue      TEXT    NOT NULL,
    amount          TEXT    NOT NULL,
    buy_price       TEXT    NOT NULL,
    sell_price      TEXT    NOT NULL,
    min_sell_price  TEXT    NOT NULL DEFAULT '0',
    expected_profit TEXT    NOT NULL DEFAULT '0',
    actual_profit   TEXT,
    status          TEXT    NOT NULL,
    tx_reference    TEXT    NOT NULL DEFAULT '',
    gas_used        INTEGER NOT NULL DEFAULT 0,
    failure_reason  TEXT    NOT NULL DEFAULT '',
    created_at_ms   INTEGER NOT NULL,
    executed_at_ms  INTEGER
);

CREATE TABLE IF NOT EXISTS alerts (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    severity TEXT    NOT NULL,
    kind     TEXT    NOT NULL,
    worker   TEXT    NOT NULL,
    message  TEXT    NOT NULL,
    at_ms    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_created ON trade_orders(created_at_ms DESC);
CREATE INDEX IF NOT EXISTS idx_orders_symbol  ON trade_orders(symbol_pair);
CREATE INDEX IF NOT EXISTS idx_alerts_at      ON alerts(at_ms DESC);
`

const (
	retentionOrders = 90 * 24 * time.Hour
	retentionAlerts = 30 * 24 * time.Hour
)

// SQLiteStorage implementa ports.TradeStore usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada,
// aplica el schema y limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background(), time.Now())
	return s, nil
}

// SaveOrder hace upsert de la orden por id.
func (s *SQLiteStorage) SaveOrder(ctx context.Context, o domain.TradeOrder) error {
	var actual *string
	if o.ActualProfit != nil {
		v := o.ActualProfit.String()
		actual = &v
	}
	var executed *int64
	if o.ExecutedAt != nil {
		v := o.ExecutedAt.UTC().UnixMilli()
		executed = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_orders
			(id, symbol_pair, buy_venue, sell_venue, amount, buy_price, sell_price,
			 min_sell_price, expected_profit, actual_profit, status, tx_reference,
			 gas_used, failure_reason, created_at_ms, executed_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			actual_profit  = excluded.actual_profit,
			status         = excluded.status,
			tx_reference   = excluded.tx_reference,
			gas_used       = excluded.gas_used,
			failure_reason = excluded.failure_reason,
			executed_at_ms = excluded.executed_at_ms
	`,
		o.ID, o.SymbolPair, o.BuyVenue, o.SellVenue,
		o.Amount.String(), o.BuyPrice.String(), o.SellPrice.String(),
		o.MinSellPrice.String(), o.ExpectedProfit.String(), actual,
		string(o.Status), o.TxReference, int64(o.GasUsed), o.FailureReason,
		o.CreatedAt.UTC().UnixMilli(), executed,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveOrder: upsert %s: %w", o.ID, err)
	}
	return nil
}

// GetOrders devuelve las órdenes creadas en [from, to], más recientes primero.
func (s *SQLiteStorage) GetOrders(ctx context.Context, from, to time.Time) ([]domain.TradeOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol_pair, buy_venue, sell_venue, amount, buy_price, sell_price,
		       min_sell_price, expected_profit, actual_profit, status, tx_reference,
		       gas_used, failure_reason, created_at_ms, executed_at_ms
		FROM trade_orders
		WHERE created_at_ms BETWEEN ? AND ?
		ORDER BY created_at_ms DESC
	`, from.UTC().UnixMilli(), to.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("storage.GetOrders: query: %w", err)
	}
	defer rows.Close()

	var orders []domain.TradeOrder
	for rows.Next() {
		var o domain.TradeOrder
		var amount, buy, sell, minSell, expected, stat string
		var actual sql.NullString
		var gasUsed, createdMs int64
		var executedMs sql.NullInt64
		if err := rows.Scan(
			&o.ID, &o.SymbolPair, &o.BuyVenue, &o.SellVenue,
			&amount, &buy, &sell, &minSell, &expected, &actual,
			&stat, &o.TxReference, &gasUsed, &o.FailureReason,
			&createdMs, &executedMs,
		); err != nil {
			return nil, fmt.Errorf("storage.GetOrders: scan row: %w", err)
		}

		o.Status = domain.TradeStatus(stat)
		o.GasUsed = uint64(gasUsed)
		o.CreatedAt = time.UnixMilli(createdMs).UTC()
		if executedMs.Valid {
			t := time.UnixMilli(executedMs.Int64).UTC()
			o.ExecutedAt = &t
		}
		if err := parseDecimals(
			decField{amount, &o.Amount},
			decField{buy, &o.BuyPrice},
			decField{sell, &o.SellPrice},
			decField{minSell, &o.MinSellPrice},
			decField{expected, &o.ExpectedProfit},
		); err != nil {
			return nil, fmt.Errorf("storage.GetOrders: %s: %w", o.ID, err)
		}
		if actual.Valid {
			p, err := decimal.NewFromString(actual.String)
			if err != nil {
				return nil, fmt.Errorf("storage.GetOrders: %s: actual_profit: %w", o.ID, err)
			}
			o.ActualProfit = &p
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// SaveAlert registra una alerta.
func (s *SQLiteStorage) SaveAlert(ctx context.Context, a domain.Alert) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (severity, kind, worker, message, at_ms) VALUES (?, ?, ?, ?, ?)`,
		string(a.Severity), string(a.Kind), a.Worker, a.Message, a.At.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("storage.SaveAlert: insert: %w", err)
	}
	return nil
}

// GetAlerts devuelve las alertas desde since, más recientes primero.
func (s *SQLiteStorage) GetAlerts(ctx context.Context, since time.Time) ([]domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, kind, worker, message, at_ms
		FROM alerts WHERE at_ms >= ?
		ORDER BY at_ms DESC, id DESC
	`, since.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("storage.GetAlerts: query: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var sev, kind string
		var atMs int64
		if err := rows.Scan(&sev, &kind, &a.Worker, &a.Message, &atMs); err != nil {
			return nil, fmt.Errorf("storage.GetAlerts: scan row: %w", err)
		}
		a.Severity = domain.AlertSeverity(sev)
		a.Kind = domain.AlertKind(kind)
		a.At = time.UnixMilli(atMs).UTC()
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context, now time.Time) {
	cutoffOrders := now.UTC().Add(-retentionOrders).UnixMilli()
	cutoffAlerts := now.UTC().Add(-retentionAlerts).UnixMilli()
	s.db.ExecContext(ctx, `DELETE FROM trade_orders WHERE created_at_ms < ?`, cutoffOrders)
	s.db.ExecContext(ctx, `DELETE FROM alerts WHERE at_ms < ?`, cutoffAlerts)
}

type decField struct {
	raw string
	dst *decimal.Decimal
}

func parseDecimals(fields ...decField) error {
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("parse decimal %q: %w", f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
