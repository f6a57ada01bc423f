package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/wallet-agent/pkg/chain"
)

// Store is the wallet transaction cache: one document per transaction, one
// summary document per address. Queryable fields are lifted into indexed
// columns; the full document lives in the doc column.
const schema = `
CREATE TABLE IF NOT EXISTS wallet_transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    address TEXT NOT NULL,
    chain TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    direction TEXT NOT NULL,
    time INTEGER NOT NULL,
    time_iso TEXT NOT NULL,
    value REAL NOT NULL DEFAULT 0,
    doc TEXT NOT NULL,
    UNIQUE(address, tx_hash)
);

CREATE TABLE IF NOT EXISTS wallet_summaries (
    address TEXT PRIMARY KEY,
    chain TEXT NOT NULL,
    doc TEXT NOT NULL,
    fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tx_address ON wallet_transactions(address);
CREATE INDEX IF NOT EXISTS idx_tx_time ON wallet_transactions(address, time);
CREATE INDEX IF NOT EXISTS idx_tx_time_iso ON wallet_transactions(address, time_iso);
CREATE INDEX IF NOT EXISTS idx_tx_value ON wallet_transactions(address, value);
`

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceWallet swaps the whole cached snapshot for one address: delete,
// bulk insert, summary upsert, all inside one transaction so concurrent
// fetches of the same address can't interleave half-written snapshots.
func (s *Store) ReplaceWallet(address string, txs []Transaction, summary *WalletSummary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM wallet_transactions WHERE address=?", address); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}

	ins, err := tx.Prepare(`INSERT INTO wallet_transactions (address, chain, tx_hash, direction, time, time_iso, value, doc) VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer ins.Close()

	for i := range txs {
		t := &txs[i]
		doc, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal tx %s: %w", t.TxHash, err)
		}
		if _, err := ins.Exec(t.Address, string(t.Chain), t.TxHash, t.Direction, t.Time, t.TimeISO, t.Value(), string(doc)); err != nil {
			return fmt.Errorf("insert tx %s: %w", t.TxHash, err)
		}
	}

	doc, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO wallet_summaries (address, chain, doc, fetched_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(address) DO UPDATE SET chain=excluded.chain, doc=excluded.doc, fetched_at=CURRENT_TIMESTAMP`,
		address, string(summary.Chain), string(doc)); err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}

	log.Info().Str("addr", abbrev(address)).Int("txs", len(txs)).Msg("💾 replaced wallet snapshot")
	return nil
}

// Search runs a term/range filtered, sorted query scoped to one address.
// It also returns the exact SQL issued, for the reasoning trace.
func (s *Store) Search(q SearchQuery) ([]Transaction, string, error) {
	var where []string
	var args []interface{}

	where = append(where, "address=?")
	args = append(args, q.Address)

	if q.Direction != "" {
		where = append(where, "direction=?")
		args = append(args, q.Direction)
	}
	if q.MinValue != nil {
		where = append(where, "value>=?")
		args = append(args, *q.MinValue)
	}
	if q.MaxValue != nil {
		where = append(where, "value<=?")
		args = append(args, *q.MaxValue)
	}
	if q.StartTime != "" {
		where = append(where, "time_iso>=?")
		args = append(args, q.StartTime)
	}
	if q.EndTime != "" {
		where = append(where, "time_iso<=?")
		args = append(args, q.EndTime)
	}

	sortCol := "time"
	if q.SortBy == "value" {
		sortCol = "value"
	}
	order := "DESC"
	if strings.EqualFold(q.SortOrder, "asc") {
		order = "ASC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(
		"SELECT doc FROM wallet_transactions WHERE %s ORDER BY %s %s LIMIT %d",
		strings.Join(where, " AND "), sortCol, order, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, query, err
	}
	defer rows.Close()

	txs, err := scanDocs(rows)
	return txs, renderQuery(query, args), err
}

// AllTransactions loads the full cached set for one address, ascending by
// time, the order the anomaly detectors expect.
func (s *Store) AllTransactions(address string) ([]Transaction, error) {
	rows, err := s.db.Query(
		"SELECT doc FROM wallet_transactions WHERE address=? ORDER BY time ASC", address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocs(rows)
}

// GetSummary is a point lookup. A missing summary returns (nil, nil): not
// having fetched yet is a recoverable outcome, not an error.
func (s *Store) GetSummary(address string) (*WalletSummary, error) {
	var doc string
	err := s.db.QueryRow("SELECT doc FROM wallet_summaries WHERE address=?", address).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var summary WalletSummary
	if err := json.Unmarshal([]byte(doc), &summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return &summary, nil
}

// ListWallets returns every address with a cached summary.
func (s *Store) ListWallets() ([]string, error) {
	rows, err := s.db.Query("SELECT address FROM wallet_summaries ORDER BY address")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			continue
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// DailyActivity is the date-histogram aggregation: per-day counts and value
// sums split by direction. Consumed by chart rendering outside the core.
func (s *Store) DailyActivity(address string) ([]DayBucket, error) {
	rows, err := s.db.Query(`
		SELECT substr(time_iso, 1, 10) AS day,
		       SUM(CASE WHEN direction='incoming' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN direction='incoming' THEN value ELSE 0 END),
		       SUM(CASE WHEN direction='outgoing' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN direction='outgoing' THEN value ELSE 0 END)
		FROM wallet_transactions WHERE address=?
		GROUP BY day ORDER BY day ASC`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []DayBucket
	for rows.Next() {
		var b DayBucket
		if err := rows.Scan(&b.Day, &b.IncomingCount, &b.IncomingValue, &b.OutgoingCount, &b.OutgoingValue); err != nil {
			continue
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// Chain returns the cached chain for an address, "" when unknown.
func (s *Store) Chain(address string) chain.Chain {
	var c string
	if err := s.db.QueryRow("SELECT chain FROM wallet_summaries WHERE address=?", address).Scan(&c); err != nil {
		return ""
	}
	return chain.Chain(c)
}

func scanDocs(rows *sql.Rows) ([]Transaction, error) {
	var txs []Transaction
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			continue
		}
		var t Transaction
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			continue
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// renderQuery inlines args so the trace shows the literal query that ran.
func renderQuery(query string, args []interface{}) string {
	var sb strings.Builder
	i := 0
	for _, r := range query {
		if r == '?' && i < len(args) {
			switch v := args[i].(type) {
			case string:
				sb.WriteString("'" + v + "'")
			default:
				fmt.Fprintf(&sb, "%v", v)
			}
			i++
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func abbrev(a string) string {
	if len(a) > 12 {
		return a[:6] + "..." + a[len(a)-4:]
	}
	return a
}
