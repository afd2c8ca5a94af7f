package lending

import (
	"github.com/holiman/uint256"

	"lendledger/crypto"
)

// Loan records a single collateralised borrow. CollateralAmount is fixed for
// the life of the loan; Debt only ever decreases after creation.
type Loan struct {
	ID               uint64
	Borrower         crypto.Address
	CollateralAmount *uint256.Int
	Debt             *uint256.Int
	Open             bool
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	return &Loan{
		ID:               l.ID,
		Borrower:         l.Borrower,
		CollateralAmount: cloneAmount(l.CollateralAmount),
		Debt:             cloneAmount(l.Debt),
		Open:             l.Open,
	}
}

// RiskParameters groups the operator controlled prices and loan-to-value
// ratio. All three values are 18-decimal fixed point.
type RiskParameters struct {
	// AssetPrice is the unit price of the lendable asset.
	AssetPrice *uint256.Int
	// CollateralPrice is the unit price of the collateral asset.
	CollateralPrice *uint256.Int
	// LoanToValue is the share of collateral value that may be borrowed, at
	// most 1e18.
	LoanToValue *uint256.Int
}

// Clone returns a deep copy of the parameters.
func (p RiskParameters) Clone() RiskParameters {
	return RiskParameters{
		AssetPrice:      cloneAmount(p.AssetPrice),
		CollateralPrice: cloneAmount(p.CollateralPrice),
		LoanToValue:     cloneAmount(p.LoanToValue),
	}
}

// Validate enforces strictly positive prices and an LTV no greater than one.
func (p RiskParameters) Validate() error {
	if isZero(p.AssetPrice) || isZero(p.CollateralPrice) {
		return errInvalidPrice
	}
	if p.LoanToValue == nil || p.LoanToValue.Gt(FixedOne()) {
		return errInvalidLTV
	}
	return nil
}

// PoolLedger tracks the idle liquidity together with the running totals that
// explain how it got there.
type PoolLedger struct {
	TotalLiquidity *uint256.Int
	TotalDeposited *uint256.Int
	TotalWithdrawn *uint256.Int
	TotalBorrowed  *uint256.Int
	// TotalRepaid includes debt settled by liquidators.
	TotalRepaid *uint256.Int
}

// NewPoolLedger returns an empty ledger with every total set to zero.
func NewPoolLedger() *PoolLedger {
	return &PoolLedger{
		TotalLiquidity: new(uint256.Int),
		TotalDeposited: new(uint256.Int),
		TotalWithdrawn: new(uint256.Int),
		TotalBorrowed:  new(uint256.Int),
		TotalRepaid:    new(uint256.Int),
	}
}

// Clone returns a deep copy of the ledger with nil totals replaced by zero.
func (p *PoolLedger) Clone() *PoolLedger {
	if p == nil {
		return NewPoolLedger()
	}
	return &PoolLedger{
		TotalLiquidity: zeroIfNil(p.TotalLiquidity),
		TotalDeposited: zeroIfNil(p.TotalDeposited),
		TotalWithdrawn: zeroIfNil(p.TotalWithdrawn),
		TotalBorrowed:  zeroIfNil(p.TotalBorrowed),
		TotalRepaid:    zeroIfNil(p.TotalRepaid),
	}
}

// OutstandingDebt returns TotalBorrowed - TotalRepaid, which always equals the
// sum of debt across open loans.
func (p *PoolLedger) OutstandingDebt() *uint256.Int {
	pool := p.Clone()
	out, underflow := new(uint256.Int).SubOverflow(pool.TotalBorrowed, pool.TotalRepaid)
	if underflow {
		return new(uint256.Int)
	}
	return out
}

// ActionPauses exposes fine-grained switches for pausing individual lending
// flows. Withdrawals and operator actions cannot be paused.
type ActionPauses struct {
	Deposit   bool
	Borrow    bool
	Repay     bool
	Liquidate bool
}

// IsPaused implements common.PauseView keyed by the action module names.
func (p ActionPauses) IsPaused(module string) bool {
	switch module {
	case moduleDeposit:
		return p.Deposit
	case moduleBorrow:
		return p.Borrow
	case moduleRepay:
		return p.Repay
	case moduleLiquidate:
		return p.Liquidate
	default:
		return false
	}
}

// HealthReport is the valuation breakdown behind IsHealthy.
type HealthReport struct {
	LoanID          uint64
	CollateralValue *uint256.Int
	MaxBorrowable   *uint256.Int
	DebtValue       *uint256.Int
	Healthy         bool
}

// LiquidationResult summarises a completed liquidation.
type LiquidationResult struct {
	LoanID uint64
	Repaid *uint256.Int
	Seized *uint256.Int
}

// Settings is the persisted form of the operator controlled configuration.
type Settings struct {
	Operator crypto.Address
	Params   RiskParameters
	Pauses   ActionPauses
}

// StateUpdate is the set of record changes produced by one operation. The
// backing state must apply it atomically.
type StateUpdate struct {
	// Pool replaces the pool ledger when non-nil.
	Pool *PoolLedger
	// Loans are upserted by ID.
	Loans []*Loan
	// RemoveLoans deletes records; used only when undoing a borrow.
	RemoveLoans []uint64
	// LoanSequence replaces the last allocated loan id when non-nil.
	LoanSequence *uint64
	// Settings replaces the operator configuration when non-nil.
	Settings *Settings
}

// Empty reports whether the update carries no changes.
func (u *StateUpdate) Empty() bool {
	return u == nil || (u.Pool == nil && len(u.Loans) == 0 && len(u.RemoveLoans) == 0 && u.LoanSequence == nil && u.Settings == nil)
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}

func zeroIfNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}
