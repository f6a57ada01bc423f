package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-agent/pkg/anomaly"
	"github.com/wallet-agent/pkg/chain"
	"github.com/wallet-agent/pkg/store"
)

type fakeStore struct {
	txs       map[string][]store.Transaction
	summaries map[string]*store.WalletSummary
}

func (f *fakeStore) Search(q store.SearchQuery) ([]store.Transaction, string, error) {
	return f.txs[q.Address], "SELECT doc FROM wallet_transactions WHERE address='" + q.Address + "'", nil
}

func (f *fakeStore) AllTransactions(address string) ([]store.Transaction, error) {
	return f.txs[address], nil
}

func (f *fakeStore) GetSummary(address string) (*store.WalletSummary, error) {
	return f.summaries[address], nil
}

func (f *fakeStore) Chain(address string) chain.Chain {
	if s := f.summaries[address]; s != nil {
		return s.Chain
	}
	return ""
}

type fakeFetcher struct {
	summary *store.WalletSummary
	txs     []store.Transaction
	err     error

	calls     int
	lastChain chain.Chain
	lastLimit int
}

func (f *fakeFetcher) FetchWallet(ctx context.Context, address string, ch chain.Chain, limit int) (*store.WalletSummary, []store.Transaction, error) {
	f.calls++
	f.lastChain = ch
	f.lastLimit = limit
	return f.summary, f.txs, f.err
}

const testBTCAddr = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
const testETHAddr = "0xde0b295669a9fd93d5f28d9ec85e40f4cb697bae"

func newFakes() (*fakeStore, *fakeFetcher) {
	st := &fakeStore{
		txs:       map[string][]store.Transaction{},
		summaries: map[string]*store.WalletSummary{},
	}
	fetcher := &fakeFetcher{
		summary: &store.WalletSummary{Address: testBTCAddr, Chain: chain.ChainBitcoin, NTx: 1},
		txs:     []store.Transaction{{TxHash: "aaa", Chain: chain.ChainBitcoin}},
	}
	return st, fetcher
}

func TestRegistryRegistration(t *testing.T) {
	r := NewRegistry()
	schema := objectSchema(map[string]interface{}{}, "x")

	require.NoError(t, r.Register(Tool{Name: "a", Schema: schema,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) { return nil, nil }}))

	assert.Error(t, r.Register(Tool{Name: "", Schema: schema,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) { return nil, nil }}))
	assert.Error(t, r.Register(Tool{Name: "b", Schema: schema}))
	assert.Error(t, r.Register(Tool{Name: "c", Schema: map[string]interface{}{"type": "string"},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) { return nil, nil }}))
	assert.Error(t, r.Register(Tool{Name: "a", Schema: schema,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) { return nil, nil }}))
}

func TestRegistryUnknownTool(t *testing.T) {
	st, fetcher := newFakes()
	r := NewToolRegistry(st, fetcher)

	_, err := r.Execute(context.Background(), ToolCall{Name: "transmute_gold"})
	require.Error(t, err)
	var uerr *UnknownToolError
	assert.ErrorAs(t, err, &uerr)
}

func TestToolDeclarations(t *testing.T) {
	st, fetcher := newFakes()
	defs := NewToolRegistry(st, fetcher).Defs()

	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	assert.Equal(t, []string{
		"fetch_wallet_data", "search_transactions", "get_wallet_summary", "detect_anomalies",
	}, names)
	for _, d := range defs {
		assert.NotEmpty(t, d.Description, d.Name)
		assert.Equal(t, "object", d.Schema["type"], d.Name)
	}
}

func TestFetchWalletData(t *testing.T) {
	st, fetcher := newFakes()
	r := NewToolRegistry(st, fetcher)

	t.Run("detects chain and caps limit", func(t *testing.T) {
		result, err := r.Execute(context.Background(), ToolCall{
			Name:      "fetch_wallet_data",
			Arguments: map[string]interface{}{"address": testBTCAddr, "limit": float64(500)},
		})
		require.NoError(t, err)
		assert.Equal(t, chain.ChainBitcoin, fetcher.lastChain)
		assert.Equal(t, 100, fetcher.lastLimit)

		m := result.(map[string]interface{})
		assert.Equal(t, 1, m["transaction_count"])
	})

	t.Run("explicit chain override", func(t *testing.T) {
		_, err := r.Execute(context.Background(), ToolCall{
			Name:      "fetch_wallet_data",
			Arguments: map[string]interface{}{"address": testETHAddr, "chain": "ethereum"},
		})
		require.NoError(t, err)
		assert.Equal(t, chain.ChainEthereum, fetcher.lastChain)
		assert.Equal(t, 50, fetcher.lastLimit) // default
	})

	t.Run("unrecognized address", func(t *testing.T) {
		calls := fetcher.calls
		_, err := r.Execute(context.Background(), ToolCall{
			Name:      "fetch_wallet_data",
			Arguments: map[string]interface{}{"address": "not-an-address"},
		})
		require.Error(t, err)
		var uerr *chain.UnrecognizedAddressError
		assert.ErrorAs(t, err, &uerr)
		assert.Equal(t, calls, fetcher.calls, "no fetch before validation passes")
	})

	t.Run("missing address", func(t *testing.T) {
		_, err := r.Execute(context.Background(), ToolCall{Name: "fetch_wallet_data"})
		require.Error(t, err)
		var ierr *InvalidArgumentsError
		require.ErrorAs(t, err, &ierr)
		assert.Contains(t, ierr.Fields, "address")
	})

	t.Run("sample capped at ten", func(t *testing.T) {
		fetcher.txs = make([]store.Transaction, 25)
		result, err := r.Execute(context.Background(), ToolCall{
			Name:      "fetch_wallet_data",
			Arguments: map[string]interface{}{"address": testBTCAddr},
		})
		require.NoError(t, err)
		m := result.(map[string]interface{})
		assert.Equal(t, 25, m["transaction_count"])
		assert.Len(t, m["sample_transactions"], 10)
	})
}

func TestSearchTransactions(t *testing.T) {
	st, fetcher := newFakes()
	st.txs[testBTCAddr] = []store.Transaction{{TxHash: "aaa"}, {TxHash: "bbb"}}
	r := NewToolRegistry(st, fetcher)

	t.Run("returns store query for the trace", func(t *testing.T) {
		result, err := r.Execute(context.Background(), ToolCall{
			Name:      "search_transactions",
			Arguments: map[string]interface{}{"address": testBTCAddr, "direction": "incoming"},
		})
		require.NoError(t, err)
		m := result.(map[string]interface{})
		assert.Equal(t, 2, m["count"])
		assert.Contains(t, m["store_query"], testBTCAddr)
	})

	t.Run("empty for unfetched wallet", func(t *testing.T) {
		result, err := r.Execute(context.Background(), ToolCall{
			Name:      "search_transactions",
			Arguments: map[string]interface{}{"address": testETHAddr},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, result.(map[string]interface{})["count"])
	})

	t.Run("invalid enums collected per field", func(t *testing.T) {
		_, err := r.Execute(context.Background(), ToolCall{
			Name: "search_transactions",
			Arguments: map[string]interface{}{
				"address":    testBTCAddr,
				"direction":  "sideways",
				"sort_by":    "vibes",
				"sort_order": "upward",
			},
		})
		require.Error(t, err)
		var ierr *InvalidArgumentsError
		require.ErrorAs(t, err, &ierr)
		assert.Len(t, ierr.Fields, 3)
	})

	t.Run("negative limit rejected", func(t *testing.T) {
		_, err := r.Execute(context.Background(), ToolCall{
			Name:      "search_transactions",
			Arguments: map[string]interface{}{"address": testBTCAddr, "limit": float64(-5)},
		})
		require.Error(t, err)
		var ierr *InvalidArgumentsError
		require.ErrorAs(t, err, &ierr)
		assert.Contains(t, ierr.Fields, "limit")
	})
}

func TestGetWalletSummary(t *testing.T) {
	st, fetcher := newFakes()
	st.summaries[testBTCAddr] = &store.WalletSummary{Address: testBTCAddr, Chain: chain.ChainBitcoin, NTx: 7}
	r := NewToolRegistry(st, fetcher)

	t.Run("found", func(t *testing.T) {
		result, err := r.Execute(context.Background(), ToolCall{
			Name:      "get_wallet_summary",
			Arguments: map[string]interface{}{"address": testBTCAddr},
		})
		require.NoError(t, err)
		m := result.(map[string]interface{})
		assert.Equal(t, true, m["found"])
	})

	t.Run("missing is guidance not error", func(t *testing.T) {
		result, err := r.Execute(context.Background(), ToolCall{
			Name:      "get_wallet_summary",
			Arguments: map[string]interface{}{"address": testETHAddr},
		})
		require.NoError(t, err)
		m := result.(map[string]interface{})
		assert.Equal(t, false, m["found"])
		assert.NotEmpty(t, m["message"])
	})
}

func TestDetectAnomaliesTool(t *testing.T) {
	st, fetcher := newFakes()
	r := NewToolRegistry(st, fetcher)

	t.Run("defaults to medium on empty cache", func(t *testing.T) {
		result, err := r.Execute(context.Background(), ToolCall{
			Name:      "detect_anomalies",
			Arguments: map[string]interface{}{"address": testBTCAddr},
		})
		require.NoError(t, err)
		report := result.(*anomaly.Report)
		assert.Equal(t, anomaly.SensitivityMedium, report.Sensitivity)
		assert.NotEmpty(t, report.Message)
	})

	t.Run("invalid sensitivity", func(t *testing.T) {
		_, err := r.Execute(context.Background(), ToolCall{
			Name:      "detect_anomalies",
			Arguments: map[string]interface{}{"address": testBTCAddr, "sensitivity": "paranoid"},
		})
		require.Error(t, err)
		var ierr *InvalidArgumentsError
		require.ErrorAs(t, err, &ierr)
		assert.Contains(t, ierr.Fields, "sensitivity")
	})
}
