package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Spot USD prices for BTC and ETH via DexScreener (free, no API key).
// Cached for 60 seconds; summaries only carry USD mirrors, so staleness is fine.

var (
	priceCache     = map[string]cachedPrice{}
	priceCacheLock sync.RWMutex
)

type cachedPrice struct {
	price   float64
	fetched time.Time
}

const (
	wbtcContract = "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599" // WBTC tracks BTC
	wethContract = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
)

type PriceClient struct {
	client *http.Client
}

func NewPriceClient() *PriceClient {
	return &PriceClient{client: &http.Client{Timeout: 15 * time.Second}}
}

func (p *PriceClient) BTCUSD(ctx context.Context) float64 {
	return p.tokenPrice(ctx, wbtcContract)
}

func (p *PriceClient) ETHUSD(ctx context.Context) float64 {
	return p.tokenPrice(ctx, wethContract)
}

// tokenPrice picks the highest-liquidity pair. Returns 0 when the API is
// unreachable; callers treat 0 as "no USD mirror".
func (p *PriceClient) tokenPrice(ctx context.Context, tokenAddr string) float64 {
	priceCacheLock.RLock()
	if c, ok := priceCache[tokenAddr]; ok && time.Since(c.fetched) < 60*time.Second {
		priceCacheLock.RUnlock()
		return c.price
	}
	priceCacheLock.RUnlock()

	req, err := http.NewRequestWithContext(ctx, "GET", "https://api.dexscreener.com/latest/dex/tokens/"+tokenAddr, nil)
	if err != nil {
		return 0
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return 0
	}

	var result struct {
		Pairs []struct {
			PriceUSD  string `json:"priceUsd"`
			Liquidity struct {
				USD float64 `json:"usd"`
			} `json:"liquidity"`
		} `json:"pairs"`
	}
	if json.Unmarshal(body, &result) != nil || len(result.Pairs) == 0 {
		return 0
	}

	bestPrice, bestLiq := 0.0, 0.0
	for _, pair := range result.Pairs {
		price, _ := strconv.ParseFloat(pair.PriceUSD, 64)
		if price > 0 && pair.Liquidity.USD > bestLiq {
			bestPrice, bestLiq = price, pair.Liquidity.USD
		}
	}

	if bestPrice > 0 {
		priceCacheLock.Lock()
		priceCache[tokenAddr] = cachedPrice{price: bestPrice, fetched: time.Now()}
		priceCacheLock.Unlock()
	}
	return bestPrice
}
