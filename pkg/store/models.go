package store

import (
	"github.com/wallet-agent/pkg/chain"
)

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Transaction is the canonical shape both chains normalize into. Exactly one
// of the Bitcoin or Ethereum field groups is populated, selected by Chain.
type Transaction struct {
	TxHash    string      `json:"tx_hash"`
	Address   string      `json:"address"` // the wallet being analyzed
	Chain     chain.Chain `json:"chain"`
	Time      int64       `json:"time"`     // epoch seconds
	TimeISO   string      `json:"time_iso"` // derived, used for range queries
	Direction string      `json:"direction"`

	// Bitcoin
	ValueSatoshi    int64    `json:"value_satoshi,omitempty"`
	ValueBTC        float64  `json:"value_btc,omitempty"`
	FeeSatoshi      int64    `json:"fee_satoshi,omitempty"`
	FeeBTC          float64  `json:"fee_btc,omitempty"`
	InputAddresses  []string `json:"input_addresses,omitempty"`
	OutputAddresses []string `json:"output_addresses,omitempty"`
	InputCount      int      `json:"input_count,omitempty"`
	OutputCount     int      `json:"output_count,omitempty"`
	BlockHeight     int64    `json:"block_height,omitempty"`

	// Ethereum
	ValueWei     string  `json:"value_wei,omitempty"`
	ValueETH     float64 `json:"value_eth,omitempty"`
	FeeETH       float64 `json:"fee_eth,omitempty"`
	GasUsed      int64   `json:"gas_used,omitempty"`
	GasPriceGwei float64 `json:"gas_price_gwei,omitempty"`
	FromAddress  string  `json:"from_address,omitempty"`
	ToAddress    string  `json:"to_address,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`

	IsTokenTransfer bool    `json:"is_token_transfer"`
	TokenSymbol     string  `json:"token_symbol,omitempty"`
	TokenName       string  `json:"token_name,omitempty"`
	TokenDecimals   int     `json:"token_decimals,omitempty"`
	TokenContract   string  `json:"token_contract,omitempty"`
	TokenValue      float64 `json:"token_value,omitempty"`
	TokenValueRaw   string  `json:"token_value_raw,omitempty"` // smallest unit

	FetchedAt string `json:"fetched_at"` // cache bookkeeping, not chain time
}

// Value returns the native-unit amount regardless of chain.
func (t *Transaction) Value() float64 {
	if t.Chain == chain.ChainBitcoin {
		return t.ValueBTC
	}
	return t.ValueETH
}

// TokenSummary is a per-token rollup inside an Ethereum WalletSummary.
type TokenSummary struct {
	Symbol   string  `json:"symbol"`
	Name     string  `json:"name"`
	Contract string  `json:"contract"`
	TotalIn  float64 `json:"total_in"`
	TotalOut float64 `json:"total_out"`
	TxCount  int     `json:"tx_count"`
}

// WalletSummary is one document per address, overwritten on each fetch.
type WalletSummary struct {
	Address string      `json:"address"`
	Chain   chain.Chain `json:"chain"`
	NTx     int64       `json:"n_tx"`

	// Bitcoin totals
	TotalReceivedSat int64   `json:"total_received_satoshi,omitempty"`
	TotalSentSat     int64   `json:"total_sent_satoshi,omitempty"`
	BalanceSat       int64   `json:"balance_satoshi,omitempty"`
	TotalReceivedBTC float64 `json:"total_received_btc,omitempty"`
	TotalSentBTC     float64 `json:"total_sent_btc,omitempty"`
	BalanceBTC       float64 `json:"balance_btc,omitempty"`

	// Ethereum totals; wei kept as a string to avoid float loss
	BalanceWei       string  `json:"balance_wei,omitempty"`
	BalanceETH       float64 `json:"balance_eth,omitempty"`
	TotalReceivedETH float64 `json:"total_received_eth,omitempty"`
	TotalSentETH     float64 `json:"total_sent_eth,omitempty"`

	// Optional USD mirrors (0 when no price was available)
	BalanceUSD       float64 `json:"balance_usd,omitempty"`
	TotalReceivedUSD float64 `json:"total_received_usd,omitempty"`
	TotalSentUSD     float64 `json:"total_sent_usd,omitempty"`

	TokenSummary []TokenSummary `json:"token_summary,omitempty"`

	FirstSeen string `json:"first_seen,omitempty"`
	LastSeen  string `json:"last_seen,omitempty"`
	FetchedAt string `json:"fetched_at"`
}

// SearchQuery mirrors the store's term/range/sort surface.
type SearchQuery struct {
	Address   string
	Direction string   // "" | incoming | outgoing
	MinValue  *float64 // native units
	MaxValue  *float64
	StartTime string // ISO-8601, inclusive
	EndTime   string
	Limit     int
	SortBy    string // time | value
	SortOrder string // asc | desc
}

// DayBucket is one row of the date-histogram aggregation.
type DayBucket struct {
	Day           string  `json:"day"`
	IncomingCount int64   `json:"incoming_count"`
	IncomingValue float64 `json:"incoming_value"`
	OutgoingCount int64   `json:"outgoing_count"`
	OutgoingValue float64 `json:"outgoing_value"`
}
