package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/ratelimit"
)

// BitcoinClient talks to a blockchain.info-compatible explorer.
// One rate limiter per client instance; unrelated providers never block
// each other.
type BitcoinClient struct {
	base    string
	client  *http.Client
	limiter ratelimit.Limiter
}

func NewBitcoinClient(base string, minDelay time.Duration) *BitcoinClient {
	return &BitcoinClient{
		base:    base,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: ratelimit.New(1, ratelimit.Per(minDelay)),
	}
}

// RawAddr is the explorer's per-address payload. All amounts are satoshis.
type RawAddr struct {
	Address       string  `json:"address"`
	NTx           int64   `json:"n_tx"`
	TotalReceived int64   `json:"total_received"`
	TotalSent     int64   `json:"total_sent"`
	FinalBalance  int64   `json:"final_balance"`
	Txs           []BTCTx `json:"txs"`
}

type BTCTx struct {
	Hash        string     `json:"hash"`
	Time        int64      `json:"time"`
	Fee         int64      `json:"fee"`
	Result      int64      `json:"result"` // net satoshi delta for the queried address
	BlockHeight int64      `json:"block_height"`
	Inputs      []BTCInput `json:"inputs"`
	Out         []BTCOut   `json:"out"`
}

type BTCInput struct {
	PrevOut *BTCOut `json:"prev_out"`
}

type BTCOut struct {
	Addr  string `json:"addr"`
	Value int64  `json:"value"`
}

// FetchAddress loads up to limit transactions for address.
func (c *BitcoinClient) FetchAddress(ctx context.Context, address string, limit, offset int) (*RawAddr, error) {
	c.limiter.Take()

	url := fmt.Sprintf("%s/rawaddr/%s?limit=%d&offset=%d", c.base, address, limit, offset)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bitcoin explorer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitedError{Provider: "bitcoin explorer"}
	case resp.StatusCode != http.StatusOK:
		return nil, &APIError{Provider: "bitcoin explorer", Status: resp.StatusCode, Message: string(truncateBody(body))}
	}

	var raw RawAddr
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &APIError{Provider: "bitcoin explorer", Message: fmt.Sprintf("bad payload: %v", err)}
	}

	log.Debug().Str("addr", abbrev(address)).Int("txs", len(raw.Txs)).Msg("fetched bitcoin address")
	return &raw, nil
}

func truncateBody(b []byte) []byte {
	if len(b) > 200 {
		return b[:200]
	}
	return b
}

func abbrev(a string) string {
	if len(a) > 12 {
		return a[:6] + "..." + a[len(a)-4:]
	}
	return a
}
