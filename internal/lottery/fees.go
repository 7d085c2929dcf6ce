package lottery

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const bpsDenominator = 10_000

// FeeSchedule is the pot split in basis points. The winner receives the remainder.
type FeeSchedule struct {
	TreasuryBps   uint64
	OperatorBps   uint64
	RewardPoolBps uint64
}

// DefaultFeeSchedule is 9% treasury, 3.5% operator, 1.5% reward pool.
var DefaultFeeSchedule = FeeSchedule{
	TreasuryBps:   900,
	OperatorBps:   350,
	RewardPoolBps: 150,
}

// Distribution is the split of a final pot in token base units.
type Distribution struct {
	TotalPot   uint64 `json:"total_pot"`
	Winner     uint64 `json:"winner"`
	Treasury   uint64 `json:"treasury"`
	Operator   uint64 `json:"operator"`
	RewardPool uint64 `json:"reward_pool"`
}

func share(total, bps uint64) uint64 {
	amount := decimal.NewFromBigInt(new(big.Int).SetUint64(total), 0).
		Mul(decimal.NewFromInt(int64(bps))).
		Div(decimal.NewFromInt(bpsDenominator)).
		Floor()
	return amount.BigInt().Uint64()
}

// Split divides total according to the schedule. Rounding dust goes to the winner.
func (f FeeSchedule) Split(total uint64) Distribution {
	d := Distribution{
		TotalPot:   total,
		Treasury:   share(total, f.TreasuryBps),
		Operator:   share(total, f.OperatorBps),
		RewardPool: share(total, f.RewardPoolBps),
	}
	d.Winner = total - d.Treasury - d.Operator - d.RewardPool
	return d
}

// FormatAmount renders base units with the given decimals, e.g. 1500000000 (9) -> "1.5".
func FormatAmount(amount uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals).String()
}
