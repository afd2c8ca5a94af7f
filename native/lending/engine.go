package lending

import (
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/core/types"
	"lendledger/crypto"
	nativecommon "lendledger/native/common"
)

const (
	moduleDeposit   = "lending/deposit"
	moduleBorrow    = "lending/borrow"
	moduleRepay     = "lending/repay"
	moduleLiquidate = "lending/liquidate"

	defaultLoanPageSize = 50
	maxLoanPageSize     = 500
)

var errMissingCaller = fmt.Errorf("%w: caller identity required", ErrUnauthorized)

// Gateway moves one asset kind between an external party and the pool's
// custody account. Implementations must fail when the payer lacks balance or
// allowance, and a failed call must leave no funds moved.
type Gateway interface {
	PullFrom(payer crypto.Address, amount *uint256.Int) error
	PushTo(recipient crypto.Address, amount *uint256.Int) error
}

// engineState is the persistence surface required by the engine. Missing
// pool records load as an empty ledger; LendingCommit must apply the update
// atomically.
type engineState interface {
	LendingPool() (*PoolLedger, error)
	LendingLoan(id uint64) (*Loan, bool, error)
	LendingLoanSequence() (uint64, error)
	LendingCommit(update *StateUpdate) error
}

// Engine applies the lending state transitions. It is not safe for concurrent
// use; wrap it in a Sequencer when several goroutines share it.
type Engine struct {
	state      engineState
	asset      Gateway
	collateral Gateway
	emitter    events.Emitter
	guard      nativecommon.ReentrancyGuard

	operator crypto.Address
	params   RiskParameters
	pauses   ActionPauses
}

// NewEngine constructs an engine administered by operator with the supplied
// initial risk parameters.
func NewEngine(operator crypto.Address, params RiskParameters) (*Engine, error) {
	return NewEngineFromSettings(Settings{Operator: operator, Params: params})
}

// NewEngineFromSettings restores an engine from persisted settings.
func NewEngineFromSettings(settings Settings) (*Engine, error) {
	if settings.Operator.IsZero() {
		return nil, errInvalidOp
	}
	if err := settings.Params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		emitter:  events.NoopEmitter{},
		operator: settings.Operator,
		params:   settings.Params.Clone(),
		pauses:   settings.Pauses,
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetGateways configures the transfer gateways for the lendable asset and the
// collateral asset.
func (e *Engine) SetGateways(asset, collateral Gateway) {
	if e == nil {
		return
	}
	e.asset = asset
	e.collateral = collateral
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(lendingEvent{evt: event})
}

// begin acquires the reentrancy guard and checks the action pause. The
// returned release must be deferred by the caller.
func (e *Engine) begin(module string) (func(), error) {
	if e == nil {
		return nil, ErrNilState
	}
	release, err := e.guard.Enter()
	if err != nil {
		return nil, err
	}
	if e.state == nil {
		release()
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, module); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

func (e *Engine) requireGateways() error {
	if e.asset == nil || e.collateral == nil {
		return ErrGatewayNotConfigured
	}
	return nil
}

func (e *Engine) loadPool() (*PoolLedger, error) {
	pool, err := e.state.LendingPool()
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

func (e *Engine) loadOpenLoan(id uint64) (*Loan, error) {
	loan, ok, err := e.state.LendingLoan(id)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil {
		return nil, ErrLoanNotFound
	}
	if !loan.Open {
		return nil, ErrLoanClosed
	}
	return loan.Clone(), nil
}

type refund struct {
	gateway Gateway
	to      crypto.Address
	amount  *uint256.Int
}

// unwind restores the pre-operation records and returns inbound funds after a
// failed step. The cause is always part of the returned error.
func (e *Engine) unwind(cause error, undo *StateUpdate, refunds ...refund) error {
	errs := []error{cause}
	if !undo.Empty() {
		if err := e.state.LendingCommit(undo); err != nil {
			errs = append(errs, fmt.Errorf("lending engine: restore state: %w", err))
		}
	}
	for _, r := range refunds {
		if r.gateway == nil || isZero(r.amount) {
			continue
		}
		if err := r.gateway.PushTo(r.to, r.amount); err != nil {
			errs = append(errs, wrapTransfer("refund", err))
		}
	}
	if len(errs) == 1 {
		return cause
	}
	return errors.Join(errs...)
}

// Deposit pulls amount of the lendable asset from caller into the pool.
func (e *Engine) Deposit(caller crypto.Address, amount *uint256.Int) error {
	release, err := e.begin(moduleDeposit)
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireGateways(); err != nil {
		return err
	}
	if caller.IsZero() {
		return errMissingCaller
	}
	if isZero(amount) {
		return ErrInvalidAmount
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	next := pool.Clone()
	if next.TotalLiquidity, err = addAmount(pool.TotalLiquidity, amount); err != nil {
		return err
	}
	if next.TotalDeposited, err = addAmount(pool.TotalDeposited, amount); err != nil {
		return err
	}

	if err := e.asset.PullFrom(caller, amount); err != nil {
		return wrapTransfer("pull asset", err)
	}
	if err := e.state.LendingCommit(&StateUpdate{Pool: next}); err != nil {
		return e.unwind(err, nil, refund{e.asset, caller, amount})
	}
	e.emit(NewDepositEvent(caller, amount))
	return nil
}

// Withdraw moves idle liquidity out of the pool to the operator.
func (e *Engine) Withdraw(caller crypto.Address, amount *uint256.Int) error {
	release, err := e.begin("")
	if err != nil {
		return err
	}
	defer release()
	if err := e.requireGateways(); err != nil {
		return err
	}
	if err := e.requireOperator(caller); err != nil {
		return err
	}
	if isZero(amount) {
		return ErrInvalidAmount
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if pool.TotalLiquidity.Lt(amount) {
		return ErrInsufficientLiquidity
	}
	next := pool.Clone()
	if next.TotalLiquidity, err = subAmount(pool.TotalLiquidity, amount); err != nil {
		return err
	}
	if next.TotalWithdrawn, err = addAmount(pool.TotalWithdrawn, amount); err != nil {
		return err
	}

	if err := e.state.LendingCommit(&StateUpdate{Pool: next}); err != nil {
		return err
	}
	if err := e.asset.PushTo(caller, amount); err != nil {
		return e.unwind(wrapTransfer("push asset", err), &StateUpdate{Pool: pool})
	}
	e.emit(NewWithdrawEvent(caller, amount))
	return nil
}

// Borrow locks collateralAmount of collateral from caller and sends
// borrowAmount of the lendable asset back, opening a new loan.
func (e *Engine) Borrow(caller crypto.Address, collateralAmount, borrowAmount *uint256.Int) (uint64, error) {
	release, err := e.begin(moduleBorrow)
	if err != nil {
		return 0, err
	}
	defer release()
	if err := e.requireGateways(); err != nil {
		return 0, err
	}
	if caller.IsZero() {
		return 0, errMissingCaller
	}
	if isZero(collateralAmount) || isZero(borrowAmount) {
		return 0, ErrInvalidAmount
	}
	capacity, err := MaxBorrowAssetUnits(collateralAmount, e.params)
	if err != nil {
		return 0, err
	}
	if borrowAmount.Gt(capacity) {
		return 0, ErrExceedsBorrowingCapacity
	}
	pool, err := e.loadPool()
	if err != nil {
		return 0, err
	}
	if pool.TotalLiquidity.Lt(borrowAmount) {
		return 0, ErrInsufficientLiquidity
	}
	seq, err := e.state.LendingLoanSequence()
	if err != nil {
		return 0, err
	}
	if seq == math.MaxUint64 {
		return 0, ErrArithmeticOverflow
	}
	id := seq + 1
	loan := &Loan{
		ID:               id,
		Borrower:         caller,
		CollateralAmount: collateralAmount.Clone(),
		Debt:             borrowAmount.Clone(),
		Open:             true,
	}
	next := pool.Clone()
	if next.TotalLiquidity, err = subAmount(pool.TotalLiquidity, borrowAmount); err != nil {
		return 0, err
	}
	if next.TotalBorrowed, err = addAmount(pool.TotalBorrowed, borrowAmount); err != nil {
		return 0, err
	}

	if err := e.collateral.PullFrom(caller, collateralAmount); err != nil {
		return 0, wrapTransfer("pull collateral", err)
	}
	pulled := refund{e.collateral, caller, collateralAmount}
	update := &StateUpdate{Pool: next, Loans: []*Loan{loan}, LoanSequence: &id}
	if err := e.state.LendingCommit(update); err != nil {
		return 0, e.unwind(err, nil, pulled)
	}
	if err := e.asset.PushTo(caller, borrowAmount); err != nil {
		undo := &StateUpdate{Pool: pool, RemoveLoans: []uint64{id}, LoanSequence: &seq}
		return 0, e.unwind(wrapTransfer("push asset", err), undo, pulled)
	}
	e.emit(NewBorrowEvent(caller, loan, borrowAmount))
	return id, nil
}

// Repay applies amount against the caller's loan. Repaying the full debt
// closes the loan and releases the collateral. It reports whether the loan was
// closed.
func (e *Engine) Repay(caller crypto.Address, loanID uint64, amount *uint256.Int) (bool, error) {
	release, err := e.begin(moduleRepay)
	if err != nil {
		return false, err
	}
	defer release()
	if err := e.requireGateways(); err != nil {
		return false, err
	}
	loan, err := e.loadOpenLoan(loanID)
	if err != nil {
		return false, err
	}
	if !loan.Borrower.Equal(caller) {
		return false, ErrNotBorrower
	}
	if isZero(amount) {
		return false, ErrInvalidAmount
	}
	if amount.Gt(loan.Debt) {
		return false, ErrRepayExceedsDebt
	}
	updated := loan.Clone()
	if updated.Debt, err = subAmount(loan.Debt, amount); err != nil {
		return false, err
	}
	closed := updated.Debt.IsZero()
	if closed {
		updated.Open = false
	}
	pool, err := e.loadPool()
	if err != nil {
		return false, err
	}
	next := pool.Clone()
	if next.TotalLiquidity, err = addAmount(pool.TotalLiquidity, amount); err != nil {
		return false, err
	}
	if next.TotalRepaid, err = addAmount(pool.TotalRepaid, amount); err != nil {
		return false, err
	}

	if err := e.asset.PullFrom(caller, amount); err != nil {
		return false, wrapTransfer("pull asset", err)
	}
	pulled := refund{e.asset, caller, amount}
	if err := e.state.LendingCommit(&StateUpdate{Pool: next, Loans: []*Loan{updated}}); err != nil {
		return false, e.unwind(err, nil, pulled)
	}
	if closed {
		if err := e.collateral.PushTo(loan.Borrower, loan.CollateralAmount); err != nil {
			undo := &StateUpdate{Pool: pool, Loans: []*Loan{loan}}
			return false, e.unwind(wrapTransfer("release collateral", err), undo, pulled)
		}
	}
	e.emit(NewRepayEvent(caller, loanID, amount, closed))
	return closed, nil
}

// Liquidate settles the full debt of an unhealthy loan on behalf of caller and
// transfers the entire collateral to caller.
func (e *Engine) Liquidate(caller crypto.Address, loanID uint64) (*LiquidationResult, error) {
	release, err := e.begin(moduleLiquidate)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := e.requireGateways(); err != nil {
		return nil, err
	}
	if caller.IsZero() {
		return nil, errMissingCaller
	}
	loan, err := e.loadOpenLoan(loanID)
	if err != nil {
		return nil, err
	}
	healthy, err := IsHealthy(loan, e.params)
	if err != nil {
		return nil, err
	}
	if healthy {
		return nil, ErrLoanHealthy
	}
	debt := zeroIfNil(loan.Debt)
	seized := zeroIfNil(loan.CollateralAmount)
	closedLoan := loan.Clone()
	closedLoan.Debt = new(uint256.Int)
	closedLoan.Open = false
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	next := pool.Clone()
	if next.TotalLiquidity, err = addAmount(pool.TotalLiquidity, debt); err != nil {
		return nil, err
	}
	if next.TotalRepaid, err = addAmount(pool.TotalRepaid, debt); err != nil {
		return nil, err
	}

	if err := e.asset.PullFrom(caller, debt); err != nil {
		return nil, wrapTransfer("pull asset", err)
	}
	pulled := refund{e.asset, caller, debt}
	if err := e.state.LendingCommit(&StateUpdate{Pool: next, Loans: []*Loan{closedLoan}}); err != nil {
		return nil, e.unwind(err, nil, pulled)
	}
	if err := e.collateral.PushTo(caller, seized); err != nil {
		undo := &StateUpdate{Pool: pool, Loans: []*Loan{loan}}
		return nil, e.unwind(wrapTransfer("seize collateral", err), undo, pulled)
	}
	result := &LiquidationResult{LoanID: loanID, Repaid: debt, Seized: seized}
	e.emit(NewLiquidateEvent(caller, result))
	return result, nil
}

// Loan returns a snapshot of the loan with the supplied id.
func (e *Engine) Loan(id uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	loan, ok, err := e.state.LendingLoan(id)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil {
		return nil, ErrLoanNotFound
	}
	return loan.Clone(), nil
}

// Loans pages through the registry in id order. A non-positive limit selects
// the default page size.
func (e *Engine) Loans(offset uint64, limit int) ([]*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if limit <= 0 {
		limit = defaultLoanPageSize
	}
	if limit > maxLoanPageSize {
		limit = maxLoanPageSize
	}
	seq, err := e.state.LendingLoanSequence()
	if err != nil {
		return nil, err
	}
	out := make([]*Loan, 0, limit)
	for id := offset + 1; id <= seq && len(out) < limit; id++ {
		loan, ok, err := e.state.LendingLoan(id)
		if err != nil {
			return nil, err
		}
		if !ok || loan == nil {
			continue
		}
		out = append(out, loan.Clone())
		if id == math.MaxUint64 {
			break
		}
	}
	return out, nil
}

// LoanCount returns the number of loan ids allocated so far.
func (e *Engine) LoanCount() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	return e.state.LendingLoanSequence()
}

// Health values the loan with the current parameters.
func (e *Engine) Health(id uint64) (*HealthReport, error) {
	loan, err := e.Loan(id)
	if err != nil {
		return nil, err
	}
	return Evaluate(loan, e.params)
}

// Pool returns a snapshot of the pool ledger.
func (e *Engine) Pool() (*PoolLedger, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.loadPool()
}
