package lending

import (
	"strconv"

	"github.com/holiman/uint256"

	"lendledger/core/types"
	"lendledger/crypto"
)

const (
	EventTypeDeposit         = "lending.deposit"
	EventTypeWithdraw        = "lending.withdraw"
	EventTypeBorrow          = "lending.borrow"
	EventTypeRepay           = "lending.repay"
	EventTypeLiquidate       = "lending.liquidate"
	EventTypeParamsUpdated   = "lending.params.updated"
	EventTypeOperatorUpdated = "lending.operator.updated"
	EventTypePausesUpdated   = "lending.pauses.updated"
)

type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendingEvent) Event() *types.Event { return e.evt }

// NewDepositEvent returns the canonical payload for a liquidity deposit.
func NewDepositEvent(caller crypto.Address, amount *uint256.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDeposit,
		Attributes: map[string]string{
			"caller": caller.String(),
			"amount": formatAmount(amount),
		},
	}
}

// NewWithdrawEvent returns the canonical payload for an operator withdrawal.
func NewWithdrawEvent(caller crypto.Address, amount *uint256.Int) *types.Event {
	return &types.Event{
		Type: EventTypeWithdraw,
		Attributes: map[string]string{
			"caller": caller.String(),
			"amount": formatAmount(amount),
		},
	}
}

// NewBorrowEvent returns the canonical payload for a newly opened loan.
func NewBorrowEvent(caller crypto.Address, loan *Loan, borrowed *uint256.Int) *types.Event {
	attrs := map[string]string{
		"caller":   caller.String(),
		"borrowed": formatAmount(borrowed),
	}
	if loan != nil {
		attrs["loanId"] = formatLoanID(loan.ID)
		attrs["collateral"] = formatAmount(loan.CollateralAmount)
	}
	return &types.Event{Type: EventTypeBorrow, Attributes: attrs}
}

// NewRepayEvent returns the canonical payload for a repayment. closed reports
// whether the repayment settled the loan.
func NewRepayEvent(caller crypto.Address, loanID uint64, applied *uint256.Int, closed bool) *types.Event {
	return &types.Event{
		Type: EventTypeRepay,
		Attributes: map[string]string{
			"caller":  caller.String(),
			"loanId":  formatLoanID(loanID),
			"applied": formatAmount(applied),
			"closed":  strconv.FormatBool(closed),
		},
	}
}

// NewLiquidateEvent returns the canonical payload for a liquidation.
func NewLiquidateEvent(caller crypto.Address, result *LiquidationResult) *types.Event {
	attrs := map[string]string{"caller": caller.String()}
	if result != nil {
		attrs["loanId"] = formatLoanID(result.LoanID)
		attrs["repaid"] = formatAmount(result.Repaid)
		attrs["seized"] = formatAmount(result.Seized)
	}
	return &types.Event{Type: EventTypeLiquidate, Attributes: attrs}
}

// NewParamsUpdatedEvent returns the payload emitted after prices or LTV change.
func NewParamsUpdatedEvent(caller crypto.Address, params RiskParameters) *types.Event {
	return &types.Event{
		Type: EventTypeParamsUpdated,
		Attributes: map[string]string{
			"caller":          caller.String(),
			"assetPrice":      formatAmount(params.AssetPrice),
			"collateralPrice": formatAmount(params.CollateralPrice),
			"loanToValue":     formatAmount(params.LoanToValue),
		},
	}
}

// NewOperatorUpdatedEvent returns the payload emitted after an operator handover.
func NewOperatorUpdatedEvent(previous, next crypto.Address) *types.Event {
	return &types.Event{
		Type: EventTypeOperatorUpdated,
		Attributes: map[string]string{
			"previous": previous.String(),
			"operator": next.String(),
		},
	}
}

// NewPausesUpdatedEvent returns the payload emitted after the action pauses change.
func NewPausesUpdatedEvent(caller crypto.Address, pauses ActionPauses) *types.Event {
	return &types.Event{
		Type: EventTypePausesUpdated,
		Attributes: map[string]string{
			"caller":    caller.String(),
			"deposit":   strconv.FormatBool(pauses.Deposit),
			"borrow":    strconv.FormatBool(pauses.Borrow),
			"repay":     strconv.FormatBool(pauses.Repay),
			"liquidate": strconv.FormatBool(pauses.Liquidate),
		},
	}
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatLoanID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
