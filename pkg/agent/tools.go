package agent

import (
	"context"
	"fmt"

	"github.com/wallet-agent/pkg/anomaly"
	"github.com/wallet-agent/pkg/chain"
	"github.com/wallet-agent/pkg/store"
)

// Handler executes one validated tool call and returns a JSON-serializable
// result. Validation happens before any side effect.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

type Tool struct {
	Name        string
	Description string
	Schema      map[string]interface{}
	Handler     Handler
}

// Registry is a closed set of tools addressable by name, validated at
// registration time.
type Registry struct {
	order []string
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s has no handler", t.Name)
	}
	if typ, _ := t.Schema["type"].(string); typ != "object" {
		return fmt.Errorf("tool %s schema must be an object schema", t.Name)
	}
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("tool %s registered twice", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Defs returns the tool declarations in registration order, for the model.
func (r *Registry) Defs() []ToolDef {
	defs := make([]ToolDef, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, ToolDef{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}
	return defs
}

func (r *Registry) Execute(ctx context.Context, call ToolCall) (interface{}, error) {
	t, ok := r.tools[call.Name]
	if !ok {
		return nil, &UnknownToolError{Name: call.Name}
	}
	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	return t.Handler(ctx, args)
}

// ============================================================================
// WALLET TOOLSET
// ============================================================================

// TxStore is the read side of the transaction cache, narrowed for tests.
type TxStore interface {
	Search(q store.SearchQuery) ([]store.Transaction, string, error)
	AllTransactions(address string) ([]store.Transaction, error)
	GetSummary(address string) (*store.WalletSummary, error)
	Chain(address string) chain.Chain
}

// WalletFetcher pulls a fresh snapshot from the chain providers and replaces
// the cache for that address.
type WalletFetcher interface {
	FetchWallet(ctx context.Context, address string, ch chain.Chain, limit int) (*store.WalletSummary, []store.Transaction, error)
}

const sampleTxCount = 10

// NewToolRegistry wires the four wallet-analysis tools.
func NewToolRegistry(st TxStore, fetcher WalletFetcher) *Registry {
	r := NewRegistry()

	r.Register(Tool{
		Name: "fetch_wallet_data",
		Description: "Fetch live blockchain data for a Bitcoin or Ethereum wallet address and cache it. " +
			"Must be called before search_transactions or detect_anomalies have anything to work with. " +
			"Returns the wallet summary and a sample of transactions.",
		Schema: objectSchema(map[string]interface{}{
			"address": map[string]interface{}{
				"type":        "string",
				"description": "The wallet address (Bitcoin base58/bech32 or Ethereum 0x-hex)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max transactions to fetch (default 50, max 100)",
			},
			"chain": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"bitcoin", "ethereum"},
				"description": "Override chain detection (optional)",
			},
		}, "address"),
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			a := newArgs("fetch_wallet_data", args)
			address := a.str("address", true)
			limit := a.intVal("limit", 50, 100)
			chainArg := a.enum("chain", "", "bitcoin", "ethereum")
			if err := a.invalid(); err != nil {
				return nil, err
			}

			ch := chain.Chain(chainArg)
			if ch == "" {
				detected, err := chain.Detect(address)
				if err != nil {
					return nil, err
				}
				ch = detected
			}

			summary, txs, err := fetcher.FetchWallet(ctx, address, ch, limit)
			if err != nil {
				return nil, err
			}

			sample := txs
			if len(sample) > sampleTxCount {
				sample = sample[:sampleTxCount]
			}
			return map[string]interface{}{
				"summary":             summary,
				"transaction_count":   len(txs),
				"sample_transactions": sample,
			}, nil
		},
	})

	r.Register(Tool{
		Name: "search_transactions",
		Description: "Query cached transactions for a wallet with optional direction, value-range, and " +
			"time-range filters. Returns an empty list if the wallet was never fetched.",
		Schema: objectSchema(map[string]interface{}{
			"address": map[string]interface{}{
				"type":        "string",
				"description": "The wallet address to search within",
			},
			"direction": map[string]interface{}{
				"type": "string",
				"enum": []string{"incoming", "outgoing"},
			},
			"min_value": map[string]interface{}{
				"type":        "number",
				"description": "Minimum value in native units (BTC or ETH)",
			},
			"max_value": map[string]interface{}{
				"type": "number",
			},
			"start_time": map[string]interface{}{
				"type":        "string",
				"description": "ISO-8601 lower bound, inclusive",
			},
			"end_time": map[string]interface{}{
				"type": "string",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max results (default 20, max 100)",
			},
			"sort_by": map[string]interface{}{
				"type": "string",
				"enum": []string{"time", "value"},
			},
			"sort_order": map[string]interface{}{
				"type": "string",
				"enum": []string{"asc", "desc"},
			},
		}, "address"),
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			a := newArgs("search_transactions", args)
			q := store.SearchQuery{
				Address:   a.str("address", true),
				Direction: a.enum("direction", "", "incoming", "outgoing"),
				MinValue:  a.floatPtr("min_value"),
				MaxValue:  a.floatPtr("max_value"),
				StartTime: a.str("start_time", false),
				EndTime:   a.str("end_time", false),
				Limit:     a.intVal("limit", 20, 100),
				SortBy:    a.enum("sort_by", "time", "time", "value"),
				SortOrder: a.enum("sort_order", "desc", "asc", "desc"),
			}
			if err := a.invalid(); err != nil {
				return nil, err
			}

			txs, query, err := st.Search(q)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"transactions": txs,
				"count":        len(txs),
				"store_query":  query,
			}, nil
		},
	})

	r.Register(Tool{
		Name: "get_wallet_summary",
		Description: "Point lookup of the cached summary for a wallet address. Returns found=false with " +
			"guidance when the wallet was never fetched.",
		Schema: objectSchema(map[string]interface{}{
			"address": map[string]interface{}{
				"type":        "string",
				"description": "The wallet address",
			},
		}, "address"),
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			a := newArgs("get_wallet_summary", args)
			address := a.str("address", true)
			if err := a.invalid(); err != nil {
				return nil, err
			}

			summary, err := st.GetSummary(address)
			if err != nil {
				return nil, err
			}
			if summary == nil {
				return map[string]interface{}{
					"found":   false,
					"message": "no cached data for this address, call fetch_wallet_data first",
				}, nil
			}
			return map[string]interface{}{
				"found":   true,
				"summary": summary,
			}, nil
		},
	})

	r.Register(Tool{
		Name: "detect_anomalies",
		Description: "Run statistical and pattern anomaly detection over a wallet's cached transactions: " +
			"large transactions, rapid sequences, round numbers, dormancy reactivation, fan-out/fan-in, " +
			"failed transactions, high gas prices.",
		Schema: objectSchema(map[string]interface{}{
			"address": map[string]interface{}{
				"type":        "string",
				"description": "The wallet address",
			},
			"sensitivity": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"low", "medium", "high"},
				"description": "Detection sensitivity (default medium)",
			},
		}, "address"),
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			a := newArgs("detect_anomalies", args)
			address := a.str("address", true)
			sensitivity := a.enum("sensitivity", "medium", "low", "medium", "high")
			if err := a.invalid(); err != nil {
				return nil, err
			}

			txs, err := st.AllTransactions(address)
			if err != nil {
				return nil, err
			}
			return anomaly.Detect(txs, anomaly.Sensitivity(sensitivity)), nil
		},
	})

	return r
}

// ============================================================================
// ARGUMENT VALIDATION
// ============================================================================

// argSet collects per-field problems so one InvalidArguments error can report
// everything wrong with a call at once.
type argSet struct {
	tool     string
	args     map[string]interface{}
	problems map[string]string
}

func newArgs(tool string, args map[string]interface{}) *argSet {
	return &argSet{tool: tool, args: args, problems: map[string]string{}}
}

func (a *argSet) invalid() error {
	if len(a.problems) == 0 {
		return nil
	}
	return &InvalidArgumentsError{Tool: a.tool, Fields: a.problems}
}

func (a *argSet) str(key string, required bool) string {
	v, ok := a.args[key]
	if !ok || v == nil {
		if required {
			a.problems[key] = "required"
		}
		return ""
	}
	s, ok := v.(string)
	if !ok {
		a.problems[key] = fmt.Sprintf("expected string, got %T", v)
		return ""
	}
	if required && s == "" {
		a.problems[key] = "required"
	}
	return s
}

func (a *argSet) enum(key, def string, allowed ...string) string {
	s := a.str(key, false)
	if s == "" {
		return def
	}
	for _, ok := range allowed {
		if s == ok {
			return s
		}
	}
	a.problems[key] = fmt.Sprintf("must be one of %v", allowed)
	return def
}

// intVal reads a numeric argument (JSON numbers arrive as float64), applying
// a default and a hard cap.
func (a *argSet) intVal(key string, def, ceil int) int {
	v, ok := a.args[key]
	if !ok || v == nil {
		return def
	}
	var n int
	switch x := v.(type) {
	case float64:
		n = int(x)
	case int:
		n = x
	default:
		a.problems[key] = fmt.Sprintf("expected integer, got %T", v)
		return def
	}
	if n <= 0 {
		a.problems[key] = "must be positive"
		return def
	}
	if n > ceil {
		n = ceil
	}
	return n
}

func (a *argSet) floatPtr(key string) *float64 {
	v, ok := a.args[key]
	if !ok || v == nil {
		return nil
	}
	switch x := v.(type) {
	case float64:
		return &x
	case int:
		f := float64(x)
		return &f
	default:
		a.problems[key] = fmt.Sprintf("expected number, got %T", v)
		return nil
	}
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
