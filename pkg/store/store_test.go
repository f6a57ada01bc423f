package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-agent/pkg/chain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func btcTx(address, hash string, ts int64, direction string, btc float64) Transaction {
	return Transaction{
		TxHash:    hash,
		Address:   address,
		Chain:     chain.ChainBitcoin,
		Time:      ts,
		TimeISO:   isoAt(ts),
		Direction: direction,
		ValueBTC:  btc,
	}
}

func isoAt(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func TestReplaceWalletRoundTrip(t *testing.T) {
	st := newTestStore(t)
	addr := "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

	txs := []Transaction{
		btcTx(addr, "aaa", 1000, DirectionIncoming, 1.5),
		btcTx(addr, "bbb", 2000, DirectionOutgoing, 0.5),
		btcTx(addr, "ccc", 3000, DirectionIncoming, 2.0),
	}
	summary := &WalletSummary{Address: addr, Chain: chain.ChainBitcoin, NTx: 3, BalanceBTC: 3.0}

	require.NoError(t, st.ReplaceWallet(addr, txs, summary))

	got, err := st.AllTransactions(addr)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Ascending by time
	assert.Equal(t, "aaa", got[0].TxHash)
	assert.Equal(t, "ccc", got[2].TxHash)
	// Full document survives the round trip
	assert.Equal(t, 1.5, got[0].ValueBTC)
	assert.Equal(t, DirectionIncoming, got[0].Direction)

	loaded, err := st.GetSummary(addr)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(3), loaded.NTx)
	assert.Equal(t, 3.0, loaded.BalanceBTC)
}

func TestReplaceWalletIsSnapshotReplace(t *testing.T) {
	st := newTestStore(t)
	addr := "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	summary := &WalletSummary{Address: addr, Chain: chain.ChainBitcoin, NTx: 1}

	require.NoError(t, st.ReplaceWallet(addr, []Transaction{
		btcTx(addr, "old-1", 1000, DirectionIncoming, 1),
		btcTx(addr, "old-2", 2000, DirectionIncoming, 1),
	}, summary))
	require.NoError(t, st.ReplaceWallet(addr, []Transaction{
		btcTx(addr, "new-1", 3000, DirectionIncoming, 1),
	}, summary))

	got, err := st.AllTransactions(addr)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new-1", got[0].TxHash)
}

func TestReplaceWalletIdempotent(t *testing.T) {
	st := newTestStore(t)
	addr := "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	txs := []Transaction{
		btcTx(addr, "aaa", 1000, DirectionIncoming, 1.5),
		btcTx(addr, "bbb", 2000, DirectionOutgoing, 0.5),
	}
	summary := &WalletSummary{Address: addr, Chain: chain.ChainBitcoin, NTx: 2, BalanceBTC: 1.0}

	require.NoError(t, st.ReplaceWallet(addr, txs, summary))
	first, err := st.GetSummary(addr)
	require.NoError(t, err)

	require.NoError(t, st.ReplaceWallet(addr, txs, summary))
	second, err := st.GetSummary(addr)
	require.NoError(t, err)

	assert.Equal(t, first.NTx, second.NTx)
	assert.Equal(t, first.BalanceBTC, second.BalanceBTC)

	got, err := st.AllTransactions(addr)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSearchFilters(t *testing.T) {
	st := newTestStore(t)
	addr := "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	other := "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy"

	require.NoError(t, st.ReplaceWallet(addr, []Transaction{
		btcTx(addr, "in-small", 1000, DirectionIncoming, 0.1),
		btcTx(addr, "in-big", 2000, DirectionIncoming, 5.0),
		btcTx(addr, "out-mid", 3000, DirectionOutgoing, 1.0),
	}, &WalletSummary{Address: addr, Chain: chain.ChainBitcoin}))
	require.NoError(t, st.ReplaceWallet(other, []Transaction{
		btcTx(other, "other-tx", 1500, DirectionIncoming, 9.0),
	}, &WalletSummary{Address: other, Chain: chain.ChainBitcoin}))

	t.Run("scoped to address", func(t *testing.T) {
		txs, query, err := st.Search(SearchQuery{Address: addr})
		require.NoError(t, err)
		assert.Len(t, txs, 3)
		assert.Contains(t, query, addr)
		assert.NotContains(t, query, "?")
	})

	t.Run("direction filter", func(t *testing.T) {
		txs, _, err := st.Search(SearchQuery{Address: addr, Direction: DirectionIncoming})
		require.NoError(t, err)
		assert.Len(t, txs, 2)
	})

	t.Run("value range", func(t *testing.T) {
		min, max := 0.5, 2.0
		txs, _, err := st.Search(SearchQuery{Address: addr, MinValue: &min, MaxValue: &max})
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, "out-mid", txs[0].TxHash)
	})

	t.Run("sort by value desc", func(t *testing.T) {
		txs, _, err := st.Search(SearchQuery{Address: addr, SortBy: "value", SortOrder: "desc"})
		require.NoError(t, err)
		require.Len(t, txs, 3)
		assert.Equal(t, "in-big", txs[0].TxHash)
	})

	t.Run("limit", func(t *testing.T) {
		txs, _, err := st.Search(SearchQuery{Address: addr, Limit: 1})
		require.NoError(t, err)
		assert.Len(t, txs, 1)
	})

	t.Run("unfetched wallet is empty not error", func(t *testing.T) {
		txs, _, err := st.Search(SearchQuery{Address: "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"})
		require.NoError(t, err)
		assert.Empty(t, txs)
	})
}

func TestGetSummaryMissing(t *testing.T) {
	st := newTestStore(t)
	summary, err := st.GetSummary("bc1qneverfetchedneverfetchedneverfet")
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestListWalletsAndChain(t *testing.T) {
	st := newTestStore(t)
	addr := "0xde0b295669a9fd93d5f28d9ec85e40f4cb697bae"
	require.NoError(t, st.ReplaceWallet(addr, nil,
		&WalletSummary{Address: addr, Chain: chain.ChainEthereum}))

	addrs, err := st.ListWallets()
	require.NoError(t, err)
	assert.Equal(t, []string{addr}, addrs)
	assert.Equal(t, chain.ChainEthereum, st.Chain(addr))
	assert.Equal(t, chain.Chain(""), st.Chain("unknown"))
}

func TestDailyActivity(t *testing.T) {
	st := newTestStore(t)
	addr := "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

	day1in := btcTx(addr, "d1-in", 3600, DirectionIncoming, 2.0)
	day1out := btcTx(addr, "d1-out", 7200, DirectionOutgoing, 1.0)
	day2in := btcTx(addr, "d2-in", 90000, DirectionIncoming, 3.0)
	require.NoError(t, st.ReplaceWallet(addr, []Transaction{day1in, day1out, day2in},
		&WalletSummary{Address: addr, Chain: chain.ChainBitcoin}))

	buckets, err := st.DailyActivity(addr)
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	assert.Equal(t, int64(1), buckets[0].IncomingCount)
	assert.Equal(t, 2.0, buckets[0].IncomingValue)
	assert.Equal(t, int64(1), buckets[0].OutgoingCount)
	assert.Equal(t, 1.0, buckets[0].OutgoingValue)

	assert.Equal(t, int64(1), buckets[1].IncomingCount)
	assert.Equal(t, 3.0, buckets[1].IncomingValue)
	assert.Equal(t, int64(0), buckets[1].OutgoingCount)
}
