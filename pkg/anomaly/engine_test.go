package anomaly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-agent/pkg/chain"
	"github.com/wallet-agent/pkg/store"
)

const day = int64(86400)

func tx(hash string, ts int64, btc float64) store.Transaction {
	return store.Transaction{
		TxHash:    hash,
		Chain:     chain.ChainBitcoin,
		Time:      ts,
		TimeISO:   time.Unix(ts, 0).UTC().Format(time.RFC3339),
		Direction: store.DirectionIncoming,
		ValueBTC:  btc,
	}
}

func findingsOf(r *Report, typ string) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func TestEmptySet(t *testing.T) {
	r := Detect(nil, SensitivityMedium)
	assert.Empty(t, r.Findings)
	assert.Equal(t, 0, r.TotalTransactionsAnalyzed)
	assert.NotEmpty(t, r.Message)
}

func TestLargeTransaction(t *testing.T) {
	// Many small, one huge. Mean and stddev are dominated by the small ones.
	txs := []store.Transaction{}
	for i := 0; i < 20; i++ {
		txs = append(txs, tx("small", int64(i)*day, 0.5))
	}
	txs = append(txs, tx("whale", 30*day, 50))

	r := Detect(txs, SensitivityMedium)
	large := findingsOf(r, TypeLargeTransaction)
	require.Len(t, large, 1)
	assert.Equal(t, SeverityHigh, large[0].Severity)
	require.Len(t, large[0].FlaggedTransactions, 1)
	assert.Equal(t, "whale", large[0].FlaggedTransactions[0].TxHash)
}

func TestLargeTransactionDustFloor(t *testing.T) {
	// Outlier below the 0.01 absolute floor must not be flagged.
	txs := []store.Transaction{}
	for i := 0; i < 20; i++ {
		txs = append(txs, tx("dust", int64(i)*day, 0.0001))
	}
	txs = append(txs, tx("bigger-dust", 30*day, 0.009))

	r := Detect(txs, SensitivityHigh)
	assert.Empty(t, findingsOf(r, TypeLargeTransaction))
}

func TestRapidSequence(t *testing.T) {
	base := int64(1700000000)
	txs := []store.Transaction{
		tx("a", base, 1),
		tx("b", base+120, 1), // 2 min later
		tx("c", base+240, 1), // 2 min later
		tx("d", base+10*day, 1),
	}

	r := Detect(txs, SensitivityMedium) // 10 min window
	rapid := findingsOf(r, TypeRapidSequence)
	require.Len(t, rapid, 1)
	assert.Len(t, rapid[0].FlaggedTransactions, 3)

	// Two transactions in a burst are not a run
	r = Detect(txs[:2], SensitivityMedium)
	assert.Empty(t, findingsOf(r, TypeRapidSequence))
}

func TestRoundNumbers(t *testing.T) {
	three := []store.Transaction{
		tx("a", 0, 0.1),
		tx("b", day, 0.2),
		tx("c", 2*day, 0.3),
	}
	r := Detect(three, SensitivityMedium)
	round := findingsOf(r, TypeRoundNumbers)
	require.Len(t, round, 1)
	assert.Equal(t, SeverityLow, round[0].Severity)

	r = Detect(three[:2], SensitivityMedium)
	assert.Empty(t, findingsOf(r, TypeRoundNumbers))

	// Non-round values never qualify
	r = Detect([]store.Transaction{
		tx("a", 0, 0.137), tx("b", day, 0.251), tx("c", 2*day, 0.333),
	}, SensitivityMedium)
	assert.Empty(t, findingsOf(r, TypeRoundNumbers))
}

func TestDormancyReactivation(t *testing.T) {
	t.Run("200 day gap at medium threshold 90", func(t *testing.T) {
		txs := []store.Transaction{
			tx("before", 0, 1),
			tx("after", 200*day, 1),
		}
		r := Detect(txs, SensitivityMedium)
		dormant := findingsOf(r, TypeDormantReactivation)
		require.Len(t, dormant, 1)
		assert.Equal(t, SeverityHigh, dormant[0].Severity)
		require.Len(t, dormant[0].FlaggedTransactions, 2)
		assert.Equal(t, "before", dormant[0].FlaggedTransactions[0].TxHash)
		assert.Equal(t, "after", dormant[0].FlaggedTransactions[1].TxHash)
		assert.InDelta(t, 200, dormant[0].FlaggedTransactions[0].GapDays, 0.01)
	})

	t.Run("60 day gap is below threshold", func(t *testing.T) {
		txs := []store.Transaction{
			tx("before", 0, 1),
			tx("after", 60*day, 1),
		}
		r := Detect(txs, SensitivityMedium)
		assert.Empty(t, findingsOf(r, TypeDormantReactivation))
	})

	t.Run("only the first qualifying gap reports", func(t *testing.T) {
		txs := []store.Transaction{
			tx("a", 0, 1),
			tx("b", 100*day, 1),
			tx("c", 300*day, 1),
		}
		r := Detect(txs, SensitivityMedium)
		dormant := findingsOf(r, TypeDormantReactivation)
		require.Len(t, dormant, 1)
		assert.Equal(t, "a", dormant[0].FlaggedTransactions[0].TxHash)
	})
}

func TestFanOutThresholds(t *testing.T) {
	fan := tx("fan", 0, 1)
	fan.OutputCount = 6
	txs := []store.Transaction{fan}

	r := Detect(txs, SensitivityMedium) // threshold 5
	require.Len(t, findingsOf(r, TypeFanOut), 1)

	r = Detect(txs, SensitivityLow) // threshold 10
	assert.Empty(t, findingsOf(r, TypeFanOut))
}

func TestFanInBitcoinOnly(t *testing.T) {
	consolidation := tx("consolidate", 0, 1)
	consolidation.InputCount = 8
	r := Detect([]store.Transaction{consolidation}, SensitivityMedium)
	require.Len(t, findingsOf(r, TypeFanIn), 1)

	ethTx := store.Transaction{
		TxHash: "0xa", Chain: chain.ChainEthereum, Time: 0,
		Direction: store.DirectionIncoming, InputCount: 8, OutputCount: 8,
	}
	r = Detect([]store.Transaction{ethTx}, SensitivityHigh)
	assert.Empty(t, findingsOf(r, TypeFanIn))
	assert.Empty(t, findingsOf(r, TypeFanOut))
}

func TestFailedTransactions(t *testing.T) {
	failed := store.Transaction{
		TxHash: "0xfail", Chain: chain.ChainEthereum, Time: 0,
		Direction: store.DirectionOutgoing, IsError: true,
	}
	ok := store.Transaction{
		TxHash: "0xok", Chain: chain.ChainEthereum, Time: day,
		Direction: store.DirectionOutgoing,
	}
	r := Detect([]store.Transaction{failed, ok}, SensitivityMedium)
	f := findingsOf(r, TypeFailedTransactions)
	require.Len(t, f, 1)
	assert.Equal(t, SeverityMedium, f[0].Severity)
	require.Len(t, f[0].FlaggedTransactions, 1)
	assert.Equal(t, "0xfail", f[0].FlaggedTransactions[0].TxHash)
}

func TestHighGasPrice(t *testing.T) {
	ethTx := func(hash string, ts int64, gwei float64) store.Transaction {
		return store.Transaction{
			TxHash: hash, Chain: chain.ChainEthereum, Time: ts,
			Direction: store.DirectionOutgoing, GasPriceGwei: gwei,
		}
	}
	txs := []store.Transaction{
		ethTx("a", 0, 20),
		ethTx("b", day, 20),
		ethTx("c", 2*day, 20),
		ethTx("d", 3*day, 20),
		ethTx("spike", 4*day, 300),
	}
	r := Detect(txs, SensitivityMedium)
	gas := findingsOf(r, TypeHighGasPrice)
	require.Len(t, gas, 1)
	require.Len(t, gas[0].FlaggedTransactions, 1)
	assert.Equal(t, "spike", gas[0].FlaggedTransactions[0].TxHash)
}

func TestSensitivityMonotonicity(t *testing.T) {
	// A mixed set exercising several detectors
	base := int64(1700000000)
	var txs []store.Transaction
	for i := 0; i < 10; i++ {
		txs = append(txs, tx("steady", base+int64(i)*day, 0.4))
	}
	txs = append(txs, tx("big", base+11*day, 4))
	burst := base + 12*day
	for i := 0; i < 3; i++ {
		txs = append(txs, tx("burst", burst+int64(i)*60, 0.2))
	}
	fan := tx("fan", base+13*day, 0.3)
	fan.OutputCount = 6
	txs = append(txs, fan)
	txs = append(txs, tx("reawake", base+300*day, 0.5))

	counts := map[Sensitivity]map[string]int{}
	for _, s := range []Sensitivity{SensitivityLow, SensitivityMedium, SensitivityHigh} {
		r := Detect(txs, s)
		byType := map[string]int{}
		for _, f := range r.Findings {
			byType[f.Type]++
		}
		counts[s] = byType
		assert.Equal(t, len(txs), r.TotalTransactionsAnalyzed)
	}

	for _, typ := range []string{
		TypeLargeTransaction, TypeRapidSequence, TypeRoundNumbers,
		TypeDormantReactivation, TypeFanOut, TypeFanIn,
	} {
		assert.LessOrEqual(t, counts[SensitivityLow][typ], counts[SensitivityMedium][typ], typ)
		assert.LessOrEqual(t, counts[SensitivityMedium][typ], counts[SensitivityHigh][typ], typ)
	}
}

func TestEvidenceCap(t *testing.T) {
	var txs []store.Transaction
	for i := 0; i < 12; i++ {
		txs = append(txs, tx("round", int64(i)*day, 0.2))
	}
	r := Detect(txs, SensitivityMedium)
	round := findingsOf(r, TypeRoundNumbers)
	require.Len(t, round, 1)
	assert.Len(t, round[0].FlaggedTransactions, 5)
	assert.Contains(t, round[0].Description, "12")
}
