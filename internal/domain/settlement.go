package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultFeeRate is the share of profit-before-fee withheld on every close (1 %).
var DefaultFeeRate = decimal.NewFromFloat(0.01)

// OutcomeSource records what decided a settlement.
type OutcomeSource string

const (
	SourcePrice    OutcomeSource = "price"
	SourceOverride OutcomeSource = "override"
	SourceManual   OutcomeSource = "manual"
)

// Settlement is the full money breakdown for closing one position.
type Settlement struct {
	Result          Result
	Source          OutcomeSource
	ExitPrice       decimal.Decimal
	ProfitBeforeFee decimal.Decimal
	Fee             decimal.Decimal
	NetProfit       decimal.Decimal
	ActualProfit    decimal.Decimal // signed
	Credit          decimal.Decimal // amount returned to wallet.available
	ClosedAt        time.Time
}

// DecideByPrice compares the exit price with the entry price.
//
// BUY_UP wins only when exit > entry and BUY_DOWN only when exit < entry;
// an unchanged price is a loss for both sides.
func DecideByPrice(side Side, entry, exit decimal.Decimal) Result {
	switch side {
	case SideBuyUp:
		if exit.GreaterThan(entry) {
			return ResultWin
		}
	case SideBuyDown:
		if exit.LessThan(entry) {
			return ResultWin
		}
	}
	return ResultLoss
}

// ComputeSettlement applies the fee schedule to a decided outcome.
//
// Formula:
//
//	profitBeforeFee = amount × profitability / 100
//	fee             = profitBeforeFee × feeRate
//	WIN:  actualProfit =  profitBeforeFee − fee     credit = amount + actualProfit
//	LOSS: actualProfit = −(profitBeforeFee + fee)   credit = amount + actualProfit
//
// Values are not rounded here; NUMERIC columns hold the exact result.
func ComputeSettlement(p *Position, result Result, exit, feeRate decimal.Decimal, now time.Time) Settlement {
	pbf := ExpectedProfitFor(p.Amount, p.Profitability)
	fee := pbf.Mul(feeRate)
	net := pbf.Sub(fee)

	actual := net
	if result != ResultWin {
		actual = pbf.Add(fee).Neg()
	}

	return Settlement{
		Result:          result,
		ExitPrice:       exit,
		ProfitBeforeFee: pbf,
		Fee:             fee,
		NetProfit:       net,
		ActualProfit:    actual,
		Credit:          p.Amount.Add(actual),
		ClosedAt:        now,
	}
}
