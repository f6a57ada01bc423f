package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/ratelimit"
)

// EtherscanClient wraps the three account endpoints the agent needs:
// balance, normal transaction list, and ERC-20 transfer list.
type EtherscanClient struct {
	base    string
	apiKey  string
	client  *http.Client
	limiter ratelimit.Limiter
}

func NewEtherscanClient(base, apiKey string, minDelay time.Duration) *EtherscanClient {
	return &EtherscanClient{
		base:    base,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: ratelimit.New(1, ratelimit.Per(minDelay)),
	}
}

// EthTx is one entry from action=txlist. Etherscan returns everything as
// strings; numeric parsing happens in the normalizer.
type EthTx struct {
	Hash      string `json:"hash"`
	TimeStamp string `json:"timeStamp"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"` // wei
	Gas       string `json:"gas"`
	GasUsed   string `json:"gasUsed"`
	GasPrice  string `json:"gasPrice"` // wei
	IsError   string `json:"isError"`  // "0" | "1"
	BlockNum  string `json:"blockNumber"`
}

// EthTokenTx is one entry from action=tokentx.
type EthTokenTx struct {
	Hash         string `json:"hash"`
	TimeStamp    string `json:"timeStamp"`
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"` // raw smallest-unit amount
	ContractAddr string `json:"contractAddress"`
	TokenName    string `json:"tokenName"`
	TokenSymbol  string `json:"tokenSymbol"`
	TokenDecimal string `json:"tokenDecimal"`
	GasUsed      string `json:"gasUsed"`
	GasPrice     string `json:"gasPrice"`
	BlockNum     string `json:"blockNumber"`
}

// Balance returns the native balance in wei, as a decimal string to avoid
// float loss on large balances.
func (c *EtherscanClient) Balance(ctx context.Context, address string) (string, error) {
	var result string
	err := c.call(ctx, map[string]string{
		"module":  "account",
		"action":  "balance",
		"address": address,
		"tag":     "latest",
	}, &result)
	return result, err
}

// TxList returns up to limit normal transactions, newest first.
func (c *EtherscanClient) TxList(ctx context.Context, address string, limit int) ([]EthTx, error) {
	var result []EthTx
	err := c.call(ctx, map[string]string{
		"module":     "account",
		"action":     "txlist",
		"address":    address,
		"startblock": "0",
		"endblock":   "99999999",
		"page":       "1",
		"offset":     fmt.Sprintf("%d", limit),
		"sort":       "desc",
	}, &result)
	return result, err
}

// TokenTx returns up to limit ERC-20 transfers, newest first.
func (c *EtherscanClient) TokenTx(ctx context.Context, address string, limit int) ([]EthTokenTx, error) {
	var result []EthTokenTx
	err := c.call(ctx, map[string]string{
		"module":     "account",
		"action":     "tokentx",
		"address":    address,
		"startblock": "0",
		"endblock":   "99999999",
		"page":       "1",
		"offset":     fmt.Sprintf("%d", limit),
		"sort":       "desc",
	}, &result)
	return result, err
}

func (c *EtherscanClient) call(ctx context.Context, params map[string]string, out interface{}) error {
	c.limiter.Take()

	var sb strings.Builder
	sb.WriteString(c.base)
	sep := "?"
	for k, v := range params {
		sb.WriteString(sep)
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(v)
		sep = "&"
	}
	sb.WriteString("&apikey=")
	sb.WriteString(c.apiKey)

	req, err := http.NewRequestWithContext(ctx, "GET", sb.String(), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("etherscan: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{Provider: "etherscan"}
	case resp.StatusCode != http.StatusOK:
		return &APIError{Provider: "etherscan", Status: resp.StatusCode, Message: string(truncateBody(body))}
	}

	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &APIError{Provider: "etherscan", Message: fmt.Sprintf("bad payload: %v", err)}
	}

	if envelope.Status != "1" {
		// Empty result sets come back as status "0" with this message; not an error.
		if strings.Contains(envelope.Message, "No transactions found") {
			return nil
		}
		if strings.Contains(strings.ToLower(envelope.Message), "rate limit") {
			return &RateLimitedError{Provider: "etherscan"}
		}
		// Balance responses carry status "1" on success; anything else is real.
		if envelope.Message != "OK" {
			return &APIError{Provider: "etherscan", Message: fmt.Sprintf("status %s: %s", envelope.Status, envelope.Message)}
		}
	}

	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return &APIError{Provider: "etherscan", Message: fmt.Sprintf("bad result: %v", err)}
	}

	log.Debug().Str("action", params["action"]).Msg("etherscan call ok")
	return nil
}
