package settlement

import (
	"github.com/shopspring/decimal"
)

const bpsDenominator = 10000

// Split divides a gross amount into the platform fee and the vendor's net
// share. The fee is rounded down so rounding always favors the vendor.
func Split(grossCents int64, feeBps int) (feeCents, netCents int64) {
	if grossCents <= 0 || feeBps <= 0 {
		return 0, grossCents
	}
	fee := decimal.NewFromInt(grossCents).
		Mul(decimal.NewFromInt(int64(feeBps))).
		Div(decimal.NewFromInt(bpsDenominator)).
		Floor().
		IntPart()
	return fee, grossCents - fee
}
