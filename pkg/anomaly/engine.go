package anomaly

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/wallet-agent/pkg/chain"
	"github.com/wallet-agent/pkg/store"
)

type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

func ValidSensitivity(s string) bool {
	switch Sensitivity(s) {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		return true
	}
	return false
}

// thresholds is the per-sensitivity profile. Lower sensitivity is stricter:
// fewer findings.
type thresholds struct {
	SigmaMultiplier float64
	RapidWindowMin  float64
	DormancyDays    float64
	FanThreshold    int
}

var profiles = map[Sensitivity]thresholds{
	SensitivityLow:    {SigmaMultiplier: 3.0, RapidWindowMin: 5, DormancyDays: 180, FanThreshold: 10},
	SensitivityMedium: {SigmaMultiplier: 2.0, RapidWindowMin: 10, DormancyDays: 90, FanThreshold: 5},
	SensitivityHigh:   {SigmaMultiplier: 1.5, RapidWindowMin: 30, DormancyDays: 30, FanThreshold: 3},
}

// Finding types.
const (
	TypeLargeTransaction    = "large_transaction"
	TypeRapidSequence       = "rapid_sequence"
	TypeRoundNumbers        = "round_numbers"
	TypeDormantReactivation = "dormant_reactivation"
	TypeFanOut              = "fan_out"
	TypeFanIn               = "fan_in"
	TypeFailedTransactions  = "failed_transactions"
	TypeHighGasPrice        = "high_gas_price"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Absolute floor below which large-transaction flags are suppressed, so
// dust-heavy wallets don't produce noise.
const largeTxFloor = 0.01

// roundEpsilon is the slack when testing for multiples of 0.1 unit.
const roundEpsilon = 1e-6

const maxEvidence = 5

// FlaggedTx is one evidence entry, capped at maxEvidence per finding.
type FlaggedTx struct {
	TxHash       string  `json:"tx_hash"`
	Value        float64 `json:"value"`
	Direction    string  `json:"direction"`
	Timestamp    string  `json:"timestamp"`
	OutputCount  int     `json:"output_count,omitempty"`
	InputCount   int     `json:"input_count,omitempty"`
	GasPriceGwei float64 `json:"gas_price_gwei,omitempty"`
	GapDays      float64 `json:"gap_days,omitempty"`
}

type Finding struct {
	Type                string      `json:"type"`
	Severity            string      `json:"severity"`
	Description         string      `json:"description"`
	FlaggedTransactions []FlaggedTx `json:"flagged_transactions"`
}

type Report struct {
	Findings                  []Finding   `json:"findings"`
	TotalTransactionsAnalyzed int         `json:"total_transactions_analyzed"`
	Sensitivity               Sensitivity `json:"sensitivity"`
	Message                   string      `json:"message,omitempty"`
}

// Detect runs every detector over one wallet's cached transaction set.
// Transactions are sorted ascending by time before the pattern detectors
// run; each detector is independent and a transaction may be flagged by
// more than one.
func Detect(txs []store.Transaction, sensitivity Sensitivity) *Report {
	report := &Report{
		Findings:                  []Finding{},
		TotalTransactionsAnalyzed: len(txs),
		Sensitivity:               sensitivity,
	}
	if len(txs) == 0 {
		report.Message = "no cached transactions for this wallet, run fetch_wallet_data first"
		return report
	}

	th, ok := profiles[sensitivity]
	if !ok {
		th = profiles[SensitivityMedium]
		report.Sensitivity = SensitivityMedium
	}

	sorted := make([]store.Transaction, len(txs))
	copy(sorted, txs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	report.add(detectLarge(sorted, th))
	report.add(detectRapid(sorted, th)...)
	report.add(detectRoundNumbers(sorted))
	report.add(detectDormancy(sorted, th))
	report.add(detectFan(sorted, th)...)
	report.add(detectFailed(sorted))
	report.add(detectHighGas(sorted))

	log.Debug().
		Int("txs", len(sorted)).
		Str("sensitivity", string(sensitivity)).
		Int("findings", len(report.Findings)).
		Msg("anomaly scan done")
	return report
}

func (r *Report) add(fs ...*Finding) {
	for _, f := range fs {
		if f != nil {
			r.Findings = append(r.Findings, *f)
		}
	}
}

// ============================================================================
// 1. LARGE TRANSACTIONS
// ============================================================================

func detectLarge(txs []store.Transaction, th thresholds) *Finding {
	values := make([]float64, len(txs))
	for i := range txs {
		values[i] = txs[i].Value()
	}
	mean, stddev := meanStddev(values)
	cutoff := mean + th.SigmaMultiplier*stddev

	var flagged []FlaggedTx
	for i := range txs {
		v := txs[i].Value()
		if v > cutoff && v > largeTxFloor {
			flagged = appendEvidence(flagged, evidence(&txs[i]))
		}
	}
	if len(flagged) == 0 {
		return nil
	}
	return &Finding{
		Type:     TypeLargeTransaction,
		Severity: SeverityHigh,
		Description: fmt.Sprintf("%d transaction(s) exceed %.1fσ above the wallet's mean value (mean %.6f, stddev %.6f)",
			len(flagged), th.SigmaMultiplier, mean, stddev),
		FlaggedTransactions: flagged,
	}
}

// ============================================================================
// 2. RAPID SEQUENCES
// ============================================================================

// One finding per maximal run of ≥3 transactions whose adjacent gaps are
// all within the window.
func detectRapid(txs []store.Transaction, th thresholds) []*Finding {
	windowSec := th.RapidWindowMin * 60
	var findings []*Finding

	runStart := 0
	for i := 1; i <= len(txs); i++ {
		inRun := i < len(txs) && float64(txs[i].Time-txs[i-1].Time) <= windowSec
		if inRun {
			continue
		}
		if runLen := i - runStart; runLen >= 3 {
			var flagged []FlaggedTx
			for j := runStart; j < i; j++ {
				flagged = appendEvidence(flagged, evidence(&txs[j]))
			}
			findings = append(findings, &Finding{
				Type:     TypeRapidSequence,
				Severity: SeverityMedium,
				Description: fmt.Sprintf("%d transactions in rapid succession, every gap within %.0f minutes",
					runLen, th.RapidWindowMin),
				FlaggedTransactions: flagged,
			})
		}
		runStart = i
	}
	return findings
}

// ============================================================================
// 3. ROUND NUMBERS
// ============================================================================

func detectRoundNumbers(txs []store.Transaction) *Finding {
	var flagged []FlaggedTx
	count := 0
	for i := range txs {
		v := txs[i].Value()
		if v < 0.1 {
			continue
		}
		ratio := v / 0.1
		if math.Abs(ratio-math.Round(ratio)) < roundEpsilon {
			count++
			flagged = appendEvidence(flagged, evidence(&txs[i]))
		}
	}
	if count < 3 {
		return nil
	}
	return &Finding{
		Type:                TypeRoundNumbers,
		Severity:            SeverityLow,
		Description:         fmt.Sprintf("%d transaction(s) with suspiciously round values (multiples of 0.1)", count),
		FlaggedTransactions: flagged,
	}
}

// ============================================================================
// 4. DORMANCY REACTIVATION
// ============================================================================

// Only the first qualifying gap is reported.
func detectDormancy(txs []store.Transaction, th thresholds) *Finding {
	gapSec := th.DormancyDays * 86400
	for i := 1; i < len(txs); i++ {
		gap := float64(txs[i].Time - txs[i-1].Time)
		if gap < gapSec {
			continue
		}
		gapDays := gap / 86400
		pre := evidence(&txs[i-1])
		post := evidence(&txs[i])
		pre.GapDays = gapDays
		post.GapDays = gapDays
		return &Finding{
			Type:     TypeDormantReactivation,
			Severity: SeverityHigh,
			Description: fmt.Sprintf("wallet dormant for %.0f days (threshold %.0f), then became active again",
				gapDays, th.DormancyDays),
			FlaggedTransactions: []FlaggedTx{pre, post},
		}
	}
	return nil
}

// ============================================================================
// 5. FAN-OUT / FAN-IN (BITCOIN ONLY)
// ============================================================================

// Each qualifying transaction is its own finding.
func detectFan(txs []store.Transaction, th thresholds) []*Finding {
	var findings []*Finding
	for i := range txs {
		t := &txs[i]
		if t.Chain != chain.ChainBitcoin {
			continue
		}
		if t.OutputCount >= th.FanThreshold {
			findings = append(findings, &Finding{
				Type:     TypeFanOut,
				Severity: SeverityMedium,
				Description: fmt.Sprintf("transaction %s distributes to %d outputs (threshold %d)",
					shortHash(t.TxHash), t.OutputCount, th.FanThreshold),
				FlaggedTransactions: []FlaggedTx{evidence(t)},
			})
		}
		if t.InputCount >= th.FanThreshold {
			findings = append(findings, &Finding{
				Type:     TypeFanIn,
				Severity: SeverityMedium,
				Description: fmt.Sprintf("transaction %s consolidates %d inputs (threshold %d)",
					shortHash(t.TxHash), t.InputCount, th.FanThreshold),
				FlaggedTransactions: []FlaggedTx{evidence(t)},
			})
		}
	}
	return findings
}

// ============================================================================
// 6. FAILED TRANSACTIONS (ETHEREUM ONLY)
// ============================================================================

func detectFailed(txs []store.Transaction) *Finding {
	var flagged []FlaggedTx
	count := 0
	for i := range txs {
		if txs[i].Chain == chain.ChainEthereum && txs[i].IsError {
			count++
			flagged = appendEvidence(flagged, evidence(&txs[i]))
		}
	}
	if count == 0 {
		return nil
	}
	return &Finding{
		Type:                TypeFailedTransactions,
		Severity:            SeverityMedium,
		Description:         fmt.Sprintf("%d failed transaction(s), possible bot activity or contract issues", count),
		FlaggedTransactions: flagged,
	}
}

// ============================================================================
// 7. HIGH GAS PRICE (ETHEREUM ONLY)
// ============================================================================

// Mean is taken over transactions that actually carry a gas price, so
// token-annotated zero-gas rows don't drag it down.
func detectHighGas(txs []store.Transaction) *Finding {
	var prices []float64
	for i := range txs {
		if txs[i].Chain == chain.ChainEthereum && txs[i].GasPriceGwei > 0 {
			prices = append(prices, txs[i].GasPriceGwei)
		}
	}
	if len(prices) == 0 {
		return nil
	}
	mean, _ := meanStddev(prices)
	cutoff := mean * 3

	var flagged []FlaggedTx
	count := 0
	for i := range txs {
		if txs[i].Chain == chain.ChainEthereum && txs[i].GasPriceGwei > cutoff {
			count++
			flagged = appendEvidence(flagged, evidence(&txs[i]))
		}
	}
	if count == 0 {
		return nil
	}
	return &Finding{
		Type:                TypeHighGasPrice,
		Severity:            SeverityLow,
		Description:         fmt.Sprintf("%d transaction(s) paid more than 3× the wallet's mean gas price (%.2f Gwei)", count, mean),
		FlaggedTransactions: flagged,
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func evidence(t *store.Transaction) FlaggedTx {
	return FlaggedTx{
		TxHash:       t.TxHash,
		Value:        t.Value(),
		Direction:    t.Direction,
		Timestamp:    t.TimeISO,
		OutputCount:  t.OutputCount,
		InputCount:   t.InputCount,
		GasPriceGwei: t.GasPriceGwei,
	}
}

func appendEvidence(list []FlaggedTx, ev FlaggedTx) []FlaggedTx {
	if len(list) >= maxEvidence {
		return list
	}
	return append(list, ev)
}

func meanStddev(vals []float64) (mean, stddev float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	sumSq := 0.0
	for _, v := range vals {
		sumSq += (v - mean) * (v - mean)
	}
	stddev = math.Sqrt(sumSq / float64(len(vals)))
	return mean, stddev
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:6] + "..." + h[len(h)-4:]
	}
	return h
}
