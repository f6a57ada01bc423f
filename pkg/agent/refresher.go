package agent

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/wallet-agent/pkg/chain"
)

// WalletLister exposes the set of addresses already cached.
type WalletLister interface {
	ListWallets() ([]string, error)
}

// Refresher re-fetches watched wallets on a cron schedule so answers about
// them stay close to chain state. Watched wallets from config are merged with
// every wallet already in the cache.
type Refresher struct {
	cron    *cron.Cron
	fetcher WalletFetcher
	lister  WalletLister
	watched []string
	spec    string
}

func NewRefresher(fetcher WalletFetcher, lister WalletLister, watched []string, spec string) *Refresher {
	return &Refresher{
		cron:    cron.New(),
		fetcher: fetcher,
		lister:  lister,
		watched: watched,
		spec:    spec,
	}
}

func (r *Refresher) Start() error {
	if _, err := r.cron.AddFunc(r.spec, r.refreshAll); err != nil {
		return err
	}
	r.cron.Start()
	log.Info().Str("spec", r.spec).Int("watched", len(r.watched)).Msg("⏰ wallet refresher started")
	return nil
}

func (r *Refresher) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Refresher) refreshAll() {
	seen := map[string]bool{}
	addrs := append([]string{}, r.watched...)
	if cached, err := r.lister.ListWallets(); err == nil {
		addrs = append(addrs, cached...)
	}

	for _, addr := range addrs {
		if seen[addr] {
			continue
		}
		seen[addr] = true

		ch, err := chain.Detect(addr)
		if err != nil {
			log.Warn().Str("addr", addr).Msg("skipping watched wallet with unrecognized address")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		_, txs, err := r.fetcher.FetchWallet(ctx, addr, ch, 50)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("wallet refresh failed")
			continue
		}
		log.Debug().Str("addr", addr).Int("txs", len(txs)).Msg("wallet refreshed")
	}
}
