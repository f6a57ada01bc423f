package normalizer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// Wei amounts arrive as decimal strings and can exceed float64's integer
// range, so the division happens in big-number space and only the final
// display value drops to float64 (rounded there to 18 decimal places).

var weiPerEth = new(big.Float).SetPrec(256).SetInt64(params.Ether)

func weiToEth(weiStr string) float64 {
	if weiStr == "" || weiStr == "0" {
		return 0
	}
	wei, ok := new(big.Int).SetString(weiStr, 10)
	if !ok {
		return 0
	}
	f := new(big.Float).SetPrec(256).SetInt(wei)
	eth, _ := f.Quo(f, weiPerEth).Float64()
	return eth
}

// gasFeeETH computes gasUsed × gasPrice in wei, then converts. The product
// can overflow int64 for pathological gas prices, so it stays in big.Int.
func gasFeeETH(gasUsed int64, gasPriceWei string) float64 {
	if gasUsed == 0 || gasPriceWei == "" || gasPriceWei == "0" {
		return 0
	}
	price, ok := new(big.Int).SetString(gasPriceWei, 10)
	if !ok {
		return 0
	}
	feeWei := new(big.Int).Mul(big.NewInt(gasUsed), price)
	f := new(big.Float).SetPrec(256).SetInt(feeWei)
	fee, _ := f.Quo(f, weiPerEth).Float64()
	return fee
}

// tokenValue converts a raw smallest-unit amount using the token's decimals.
func tokenValue(rawStr string, decimals int) float64 {
	if rawStr == "" || rawStr == "0" {
		return 0
	}
	raw, ok := new(big.Int).SetString(rawStr, 10)
	if !ok {
		return 0
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	f := new(big.Float).SetPrec(256).SetInt(raw)
	v, _ := f.Quo(f, new(big.Float).SetPrec(256).SetInt(divisor)).Float64()
	return v
}
