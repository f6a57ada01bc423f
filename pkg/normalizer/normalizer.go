package normalizer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/wallet-agent/pkg/chain"
	"github.com/wallet-agent/pkg/provider"
	"github.com/wallet-agent/pkg/store"
)

// Providers are consumed through narrow interfaces so tests can fake them.

type BitcoinProvider interface {
	FetchAddress(ctx context.Context, address string, limit, offset int) (*provider.RawAddr, error)
}

type EthereumProvider interface {
	Balance(ctx context.Context, address string) (string, error)
	TxList(ctx context.Context, address string, limit int) ([]provider.EthTx, error)
	TokenTx(ctx context.Context, address string, limit int) ([]provider.EthTokenTx, error)
}

type PriceSource interface {
	BTCUSD(ctx context.Context) float64
	ETHUSD(ctx context.Context) float64
}

// Normalizer turns chain-native provider payloads into the canonical
// Transaction/WalletSummary shapes and persists them as one snapshot.
type Normalizer struct {
	store  *store.Store
	btc    BitcoinProvider
	eth    EthereumProvider
	prices PriceSource
}

func New(st *store.Store, btc BitcoinProvider, eth EthereumProvider, prices PriceSource) *Normalizer {
	return &Normalizer{store: st, btc: btc, eth: eth, prices: prices}
}

// FetchWallet fetches, normalizes, and replaces the cached snapshot for one
// address. All provider fetches complete before any store write: a failed
// fetch writes nothing.
func (n *Normalizer) FetchWallet(ctx context.Context, address string, ch chain.Chain, limit int) (*store.WalletSummary, []store.Transaction, error) {
	started := time.Now()

	var summary *store.WalletSummary
	var txs []store.Transaction
	var err error

	switch ch {
	case chain.ChainBitcoin:
		summary, txs, err = n.normalizeBitcoin(ctx, address, limit)
	case chain.ChainEthereum:
		summary, txs, err = n.normalizeEthereum(ctx, address, limit)
	default:
		return nil, nil, &chain.UnrecognizedAddressError{Address: address}
	}
	if err != nil {
		return nil, nil, err
	}

	if err := n.store.ReplaceWallet(address, txs, summary); err != nil {
		return nil, nil, fmt.Errorf("persist snapshot: %w", err)
	}

	log.Info().
		Str("addr", abbrev(address)).
		Str("chain", string(ch)).
		Int("txs", len(txs)).
		Dur("took", time.Since(started)).
		Msg("📦 wallet fetched")
	return summary, txs, nil
}

// ============================================================================
// BITCOIN
// ============================================================================

func (n *Normalizer) normalizeBitcoin(ctx context.Context, address string, limit int) (*store.WalletSummary, []store.Transaction, error) {
	raw, err := n.btc.FetchAddress(ctx, address, limit, 0)
	if err != nil {
		return nil, nil, err
	}

	fetchedAt := nowISO()
	txs := make([]store.Transaction, 0, len(raw.Txs))
	for _, bt := range raw.Txs {
		txs = append(txs, normalizeBTCTx(address, bt, fetchedAt))
	}

	summary := &store.WalletSummary{
		Address:          address,
		Chain:            chain.ChainBitcoin,
		NTx:              raw.NTx,
		TotalReceivedSat: raw.TotalReceived,
		TotalSentSat:     raw.TotalSent,
		BalanceSat:       raw.FinalBalance,
		TotalReceivedBTC: satToBTC(raw.TotalReceived),
		TotalSentBTC:     satToBTC(raw.TotalSent),
		BalanceBTC:       satToBTC(raw.FinalBalance),
		FetchedAt:        fetchedAt,
	}
	summary.FirstSeen, summary.LastSeen = timeRange(txs)

	if usd := n.prices.BTCUSD(ctx); usd > 0 {
		summary.BalanceUSD = summary.BalanceBTC * usd
		summary.TotalReceivedUSD = summary.TotalReceivedBTC * usd
		summary.TotalSentUSD = summary.TotalSentBTC * usd
	}
	return summary, txs, nil
}

// normalizeBTCTx maps one explorer transaction to one canonical record.
// Direction comes from the wallet's net satoshi delta.
func normalizeBTCTx(address string, bt provider.BTCTx, fetchedAt string) store.Transaction {
	direction := store.DirectionOutgoing
	if bt.Result > 0 {
		direction = store.DirectionIncoming
	}
	valueSat := bt.Result
	if valueSat < 0 {
		valueSat = -valueSat
	}

	var inputs, outputs []string
	for _, in := range bt.Inputs {
		if in.PrevOut != nil && in.PrevOut.Addr != "" {
			inputs = append(inputs, in.PrevOut.Addr)
		}
	}
	for _, out := range bt.Out {
		if out.Addr != "" {
			outputs = append(outputs, out.Addr)
		}
	}

	return store.Transaction{
		TxHash:          bt.Hash,
		Address:         address,
		Chain:           chain.ChainBitcoin,
		Time:            bt.Time,
		TimeISO:         toISO(bt.Time),
		Direction:       direction,
		ValueSatoshi:    valueSat,
		ValueBTC:        satToBTC(valueSat),
		FeeSatoshi:      bt.Fee,
		FeeBTC:          satToBTC(bt.Fee),
		InputAddresses:  inputs,
		OutputAddresses: outputs,
		InputCount:      len(bt.Inputs),
		OutputCount:     len(bt.Out),
		BlockHeight:     bt.BlockHeight,
		FetchedAt:       fetchedAt,
	}
}

// ============================================================================
// ETHEREUM
// ============================================================================

func (n *Normalizer) normalizeEthereum(ctx context.Context, address string, limit int) (*store.WalletSummary, []store.Transaction, error) {
	var (
		balanceWei string
		nativeTxs  []provider.EthTx
		tokenTxs   []provider.EthTokenTx
	)

	// The three fetches are independent; join them before any write.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balanceWei, err = n.eth.Balance(gctx, address)
		return err
	})
	g.Go(func() error {
		var err error
		nativeTxs, err = n.eth.TxList(gctx, address, limit)
		return err
	})
	g.Go(func() error {
		var err error
		tokenTxs, err = n.eth.TokenTx(gctx, address, limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	fetchedAt := nowISO()
	txs := make([]store.Transaction, 0, len(nativeTxs)+len(tokenTxs))
	byHash := make(map[string]int, len(nativeTxs))

	for _, et := range nativeTxs {
		txs = append(txs, normalizeEthTx(address, et, fetchedAt))
		byHash[et.Hash] = len(txs) - 1
	}

	// A token transfer riding on a native transaction annotates that record
	// instead of becoming a second one.
	for _, tt := range tokenTxs {
		if idx, ok := byHash[tt.Hash]; ok {
			annotateToken(&txs[idx], address, tt)
			continue
		}
		rec := normalizeEthTx(address, provider.EthTx{
			Hash:      tt.Hash,
			TimeStamp: tt.TimeStamp,
			From:      tt.From,
			To:        tt.To,
			Value:     "0",
			GasUsed:   tt.GasUsed,
			GasPrice:  tt.GasPrice,
			BlockNum:  tt.BlockNum,
		}, fetchedAt)
		annotateToken(&rec, address, tt)
		txs = append(txs, rec)
		byHash[tt.Hash] = len(txs) - 1
	}

	summary := buildEthSummary(address, balanceWei, txs, fetchedAt)
	if usd := n.prices.ETHUSD(ctx); usd > 0 {
		summary.BalanceUSD = summary.BalanceETH * usd
		summary.TotalReceivedUSD = summary.TotalReceivedETH * usd
		summary.TotalSentUSD = summary.TotalSentETH * usd
	}
	return summary, txs, nil
}

func normalizeEthTx(address string, et provider.EthTx, fetchedAt string) store.Transaction {
	ts := parseInt64(et.TimeStamp)
	gasUsed := parseInt64(et.GasUsed)
	gasPriceWei := parseInt64(et.GasPrice)

	direction := store.DirectionOutgoing
	if strings.EqualFold(et.To, address) {
		direction = store.DirectionIncoming
	}

	return store.Transaction{
		TxHash:       et.Hash,
		Address:      address,
		Chain:        chain.ChainEthereum,
		Time:         ts,
		TimeISO:      toISO(ts),
		Direction:    direction,
		ValueWei:     et.Value,
		ValueETH:     weiToEth(et.Value),
		FeeETH:       gasFeeETH(gasUsed, et.GasPrice),
		GasUsed:      gasUsed,
		GasPriceGwei: float64(gasPriceWei) / params.GWei,
		FromAddress:  et.From,
		ToAddress:    et.To,
		IsError:      et.IsError == "1",
		FetchedAt:    fetchedAt,
		BlockHeight:  parseInt64(et.BlockNum),
	}
}

func annotateToken(rec *store.Transaction, address string, tt provider.EthTokenTx) {
	decimals := int(parseInt64(tt.TokenDecimal))
	if decimals == 0 {
		decimals = 18
	}
	rec.IsTokenTransfer = true
	rec.TokenSymbol = tt.TokenSymbol
	rec.TokenName = tt.TokenName
	rec.TokenDecimals = decimals
	rec.TokenContract = tt.ContractAddr
	rec.TokenValueRaw = tt.Value
	rec.TokenValue = tokenValue(tt.Value, decimals)

	// Direction follows the token movement, which may differ from the
	// native call's (e.g. a contract call that pays tokens out).
	if strings.EqualFold(tt.To, address) {
		rec.Direction = store.DirectionIncoming
	} else if strings.EqualFold(tt.From, address) {
		rec.Direction = store.DirectionOutgoing
	}
}

func buildEthSummary(address, balanceWei string, txs []store.Transaction, fetchedAt string) *store.WalletSummary {
	summary := &store.WalletSummary{
		Address:    address,
		Chain:      chain.ChainEthereum,
		NTx:        int64(len(txs)),
		BalanceWei: balanceWei,
		BalanceETH: weiToEth(balanceWei),
		FetchedAt:  fetchedAt,
	}

	tokens := map[string]*store.TokenSummary{}
	for i := range txs {
		t := &txs[i]
		switch t.Direction {
		case store.DirectionIncoming:
			summary.TotalReceivedETH += t.ValueETH
		case store.DirectionOutgoing:
			summary.TotalSentETH += t.ValueETH
		}
		if !t.IsTokenTransfer {
			continue
		}
		key := t.TokenContract
		if key == "" {
			key = t.TokenSymbol
		}
		ts, ok := tokens[key]
		if !ok {
			ts = &store.TokenSummary{Symbol: t.TokenSymbol, Name: t.TokenName, Contract: t.TokenContract}
			tokens[key] = ts
		}
		ts.TxCount++
		if t.Direction == store.DirectionIncoming {
			ts.TotalIn += t.TokenValue
		} else {
			ts.TotalOut += t.TokenValue
		}
	}

	for _, ts := range tokens {
		summary.TokenSummary = append(summary.TokenSummary, *ts)
	}
	sort.Slice(summary.TokenSummary, func(i, j int) bool {
		return summary.TokenSummary[i].TxCount > summary.TokenSummary[j].TxCount
	})

	summary.FirstSeen, summary.LastSeen = timeRange(txs)
	return summary
}

// ============================================================================
// SHARED HELPERS
// ============================================================================

func timeRange(txs []store.Transaction) (first, last string) {
	for _, t := range txs {
		if first == "" || t.TimeISO < first {
			first = t.TimeISO
		}
		if last == "" || t.TimeISO > last {
			last = t.TimeISO
		}
	}
	return first, last
}

func satToBTC(sat int64) float64 {
	return math.Round(float64(sat)/1e8*1e8) / 1e8
}

func toISO(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(time.RFC3339)
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func abbrev(a string) string {
	if len(a) > 12 {
		return a[:6] + "..." + a[len(a)-4:]
	}
	return a
}
