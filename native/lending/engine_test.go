package lending

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"lendledger/crypto"
)

func TestNewEngineValidatesSettings(t *testing.T) {
	params := RiskParameters{AssetPrice: fixed(t, "1"), CollateralPrice: fixed(t, "1"), LoanToValue: fixed(t, "0.5")}
	if _, err := NewEngine(testAddr(0), params); err == nil {
		t.Fatalf("expected zero operator to be rejected")
	}
	bad := params.Clone()
	bad.LoanToValue = fixed(t, "1.01")
	if _, err := NewEngine(testAddr(1), bad); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestEngineRequiresState(t *testing.T) {
	engine, err := NewEngine(testAddr(1), RiskParameters{AssetPrice: fixed(t, "1"), CollateralPrice: fixed(t, "1"), LoanToValue: fixed(t, "0.5")})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.Deposit(testAddr(2), fixed(t, "1")); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
	var nilEngine *Engine
	if _, err := nilEngine.Loan(1); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState from nil engine, got %v", err)
	}
}

func TestDepositCreditsPool(t *testing.T) {
	f := newFixture(t)
	lender := testAddr(0x10)
	f.fund(t, lender, "100")

	pool, err := f.engine.Pool()
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	requireAmount(t, "liquidity", pool.TotalLiquidity, fixed(t, "100"))
	requireAmount(t, "deposited", pool.TotalDeposited, fixed(t, "100"))
	requireAmount(t, "custody", f.asset.balance(f.asset.custody), fixed(t, "100"))
	if got := f.emitter.types(); len(got) != 1 || got[0] != EventTypeDeposit {
		t.Fatalf("unexpected events %v", got)
	}
	attrs := f.emitter.last(t)
	if attrs["caller"] != lender.String() || attrs["amount"] != fixed(t, "100").Dec() {
		t.Fatalf("unexpected deposit attributes %v", attrs)
	}
}

func TestDepositRejectsZeroAndUnfundedCallers(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Deposit(testAddr(0x10), new(uint256.Int)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	err := f.engine.Deposit(testAddr(0x11), fixed(t, "1"))
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, errInsufficient) {
		t.Fatalf("expected wrapped transfer failure, got %v", err)
	}
	pool, _ := f.engine.Pool()
	if !pool.TotalLiquidity.IsZero() {
		t.Fatalf("failed deposit changed liquidity: %s", pool.TotalLiquidity.Dec())
	}
	if len(f.emitter.events) != 0 {
		t.Fatalf("failed operations must not emit events")
	}
}

func TestDepositRefundsWhenCommitFails(t *testing.T) {
	f := newFixture(t)
	lender := testAddr(0x10)
	f.asset.credit(lender, fixed(t, "3"))
	f.state.failAt = 1
	if err := f.engine.Deposit(lender, fixed(t, "3")); !errors.Is(err, errCommitFailed) {
		t.Fatalf("expected commit failure, got %v", err)
	}
	requireAmount(t, "lender balance", f.asset.balance(lender), fixed(t, "3"))
	requireAmount(t, "custody", f.asset.balance(f.asset.custody), new(uint256.Int))
}

func TestWithdrawOperatorOnly(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "20")

	if err := f.engine.Withdraw(testAddr(0x10), fixed(t, "1")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.Withdraw(f.operator, fixed(t, "21")); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if err := f.engine.Withdraw(f.operator, fixed(t, "20")); err != nil {
		t.Fatalf("withdraw all: %v", err)
	}
	pool, _ := f.engine.Pool()
	if !pool.TotalLiquidity.IsZero() {
		t.Fatalf("expected empty pool, got %s", pool.TotalLiquidity.Dec())
	}
	requireAmount(t, "withdrawn", pool.TotalWithdrawn, fixed(t, "20"))
	requireAmount(t, "operator balance", f.asset.balance(f.operator), fixed(t, "20"))
}

func TestWithdrawRestoresPoolWhenPushFails(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "20")
	f.asset.failPush = true
	err := f.engine.Withdraw(f.operator, fixed(t, "5"))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	pool, _ := f.engine.Pool()
	requireAmount(t, "liquidity", pool.TotalLiquidity, fixed(t, "20"))
	if !pool.TotalWithdrawn.IsZero() {
		t.Fatalf("withdrawn total must be restored")
	}
}

func TestBorrowCapacityBoundary(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "100")
	borrower := testAddr(0x20)
	f.collateral.credit(borrower, fixed(t, "20"))

	if _, err := f.engine.Borrow(borrower, fixed(t, "10"), fixed(t, "5.000001")); !errors.Is(err, ErrExceedsBorrowingCapacity) {
		t.Fatalf("expected ErrExceedsBorrowingCapacity, got %v", err)
	}
	requireAmount(t, "collateral untouched", f.collateral.balance(borrower), fixed(t, "20"))

	id, err := f.engine.Borrow(borrower, fixed(t, "10"), fixed(t, "5"))
	if err != nil {
		t.Fatalf("borrow at capacity: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first loan id 1, got %d", id)
	}
	loan, err := f.engine.Loan(id)
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	if !loan.Open || !loan.Borrower.Equal(borrower) {
		t.Fatalf("unexpected loan %+v", loan)
	}
	requireAmount(t, "debt", loan.Debt, fixed(t, "5"))
	requireAmount(t, "collateral", loan.CollateralAmount, fixed(t, "10"))
	requireAmount(t, "borrower asset", f.asset.balance(borrower), fixed(t, "5"))
	requireAmount(t, "collateral custody", f.collateral.balance(f.collateral.custody), fixed(t, "10"))

	pool, _ := f.engine.Pool()
	requireAmount(t, "liquidity", pool.TotalLiquidity, fixed(t, "95"))

	second, err := f.engine.Borrow(borrower, fixed(t, "2"), fixed(t, "1"))
	if err != nil {
		t.Fatalf("second borrow: %v", err)
	}
	if second != 2 {
		t.Fatalf("expected loan id 2, got %d", second)
	}
	attrs := f.emitter.last(t)
	if attrs["loanId"] != "2" || attrs["borrowed"] != fixed(t, "1").Dec() || attrs["collateral"] != fixed(t, "2").Dec() {
		t.Fatalf("unexpected borrow attributes %v", attrs)
	}
}

func TestBorrowRejectsInvalidInputs(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "3")
	borrower := testAddr(0x20)
	f.collateral.credit(borrower, fixed(t, "100"))

	if _, err := f.engine.Borrow(borrower, new(uint256.Int), fixed(t, "1")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero collateral, got %v", err)
	}
	if _, err := f.engine.Borrow(borrower, fixed(t, "1"), new(uint256.Int)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero borrow, got %v", err)
	}
	if _, err := f.engine.Borrow(borrower, fixed(t, "10"), fixed(t, "4")); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if _, err := f.engine.Borrow(testAddr(0x21), fixed(t, "2"), fixed(t, "1")); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed for missing collateral, got %v", err)
	}
	if count, _ := f.engine.LoanCount(); count != 0 {
		t.Fatalf("failed borrows must not allocate ids, got %d", count)
	}
}

func TestBorrowOverflowFailsCleanly(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "1")
	huge := new(uint256.Int).SetAllOne()
	if _, err := f.engine.Borrow(testAddr(0x20), huge, fixed(t, "1")); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	if f.state.commits != 1 {
		t.Fatalf("overflowing borrow must not commit, commits=%d", f.state.commits)
	}
}

func TestBorrowRollsBackWhenPushFails(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "50")
	borrower := testAddr(0x20)
	f.collateral.credit(borrower, fixed(t, "10"))
	f.asset.failPush = true

	_, err := f.engine.Borrow(borrower, fixed(t, "10"), fixed(t, "5"))
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, errPushFailed) {
		t.Fatalf("expected push failure, got %v", err)
	}
	requireAmount(t, "collateral refunded", f.collateral.balance(borrower), fixed(t, "10"))
	requireAmount(t, "collateral custody", f.collateral.balance(f.collateral.custody), new(uint256.Int))
	pool, _ := f.engine.Pool()
	requireAmount(t, "liquidity", pool.TotalLiquidity, fixed(t, "50"))
	if !pool.TotalBorrowed.IsZero() {
		t.Fatalf("borrowed total must be restored")
	}
	if _, err := f.engine.Loan(1); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected rolled back loan to be absent, got %v", err)
	}
	f.asset.failPush = false
	id, err := f.engine.Borrow(borrower, fixed(t, "10"), fixed(t, "5"))
	if err != nil || id != 1 {
		t.Fatalf("expected retry to allocate id 1, got %d %v", id, err)
	}
}

func TestRepayPartialAndFull(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "100")
	borrower := testAddr(0x20)
	f.collateral.credit(borrower, fixed(t, "10"))
	id, err := f.engine.Borrow(borrower, fixed(t, "10"), fixed(t, "5"))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	closed, err := f.engine.Repay(borrower, id, fixed(t, "2"))
	if err != nil || closed {
		t.Fatalf("partial repay: closed=%v err=%v", closed, err)
	}
	loan, _ := f.engine.Loan(id)
	requireAmount(t, "remaining debt", loan.Debt, fixed(t, "3"))
	requireAmount(t, "collateral kept", loan.CollateralAmount, fixed(t, "10"))
	pool, _ := f.engine.Pool()
	requireAmount(t, "liquidity", pool.TotalLiquidity, fixed(t, "97"))

	if _, err := f.engine.Repay(borrower, id, fixed(t, "3.1")); !errors.Is(err, ErrRepayExceedsDebt) || !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected overpayment rejection, got %v", err)
	}
	if _, err := f.engine.Repay(testAddr(0x30), id, fixed(t, "1")); !errors.Is(err, ErrNotBorrower) {
		t.Fatalf("expected ErrNotBorrower, got %v", err)
	}
	if _, err := f.engine.Repay(borrower, id, new(uint256.Int)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	closed, err = f.engine.Repay(borrower, id, fixed(t, "3"))
	if err != nil || !closed {
		t.Fatalf("full repay: closed=%v err=%v", closed, err)
	}
	loan, _ = f.engine.Loan(id)
	if loan.Open || !loan.Debt.IsZero() {
		t.Fatalf("expected closed loan with zero debt, got %+v", loan)
	}
	requireAmount(t, "collateral released", f.collateral.balance(borrower), fixed(t, "10"))
	pool, _ = f.engine.Pool()
	requireAmount(t, "liquidity", pool.TotalLiquidity, fixed(t, "100"))
	attrs := f.emitter.last(t)
	if attrs["closed"] != "true" || attrs["applied"] != fixed(t, "3").Dec() {
		t.Fatalf("unexpected repay attributes %v", attrs)
	}

	if _, err := f.engine.Repay(borrower, id, fixed(t, "1")); !errors.Is(err, ErrLoanClosed) {
		t.Fatalf("expected ErrLoanClosed, got %v", err)
	}
	if _, err := f.engine.Repay(borrower, 99, fixed(t, "1")); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound, got %v", err)
	}
}

func TestRepayCheckOrder(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "10")
	borrower := testAddr(0x20)
	f.collateral.credit(borrower, fixed(t, "4"))
	id, err := f.engine.Borrow(borrower, fixed(t, "4"), fixed(t, "2"))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := f.engine.Repay(borrower, id, fixed(t, "2")); err != nil {
		t.Fatalf("repay: %v", err)
	}
	// A stranger repaying a closed loan sees the closure first.
	if _, err := f.engine.Repay(testAddr(0x30), id, fixed(t, "1")); !errors.Is(err, ErrLoanClosed) {
		t.Fatalf("expected ErrLoanClosed before ErrNotBorrower, got %v", err)
	}
}

func TestRepayRestoresLoanWhenCollateralReleaseFails(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "10")
	borrower := testAddr(0x20)
	f.collateral.credit(borrower, fixed(t, "4"))
	id, err := f.engine.Borrow(borrower, fixed(t, "4"), fixed(t, "2"))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.collateral.failPush = true
	if _, err := f.engine.Repay(borrower, id, fixed(t, "2")); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	loan, _ := f.engine.Loan(id)
	if !loan.Open {
		t.Fatalf("loan must stay open after failed release")
	}
	requireAmount(t, "debt", loan.Debt, fixed(t, "2"))
	requireAmount(t, "repayment refunded", f.asset.balance(borrower), fixed(t, "2"))
	pool, _ := f.engine.Pool()
	requireAmount(t, "liquidity", pool.TotalLiquidity, fixed(t, "8"))
}

func TestLiquidationAfterPriceDrop(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "100")
	borrower := testAddr(0x20)
	liquidator := testAddr(0x40)
	f.collateral.credit(borrower, fixed(t, "10"))
	id, err := f.engine.Borrow(borrower, fixed(t, "10"), fixed(t, "5"))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.asset.credit(liquidator, fixed(t, "5"))

	if _, err := f.engine.Liquidate(liquidator, id); !errors.Is(err, ErrLoanHealthy) {
		t.Fatalf("expected ErrLoanHealthy, got %v", err)
	}
	if err := f.engine.SetPrices(f.operator, fixed(t, "1"), fixed(t, "0.2")); err != nil {
		t.Fatalf("set prices: %v", err)
	}
	report, err := f.engine.Health(id)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Healthy {
		t.Fatalf("expected unhealthy loan")
	}
	requireAmount(t, "collateral value", report.CollateralValue, fixed(t, "2"))
	requireAmount(t, "max borrowable", report.MaxBorrowable, fixed(t, "1"))
	requireAmount(t, "debt value", report.DebtValue, fixed(t, "5"))

	result, err := f.engine.Liquidate(liquidator, id)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	requireAmount(t, "repaid", result.Repaid, fixed(t, "5"))
	requireAmount(t, "seized", result.Seized, fixed(t, "10"))
	requireAmount(t, "liquidator collateral", f.collateral.balance(liquidator), fixed(t, "10"))
	requireAmount(t, "liquidator asset", f.asset.balance(liquidator), new(uint256.Int))
	pool, _ := f.engine.Pool()
	requireAmount(t, "liquidity", pool.TotalLiquidity, fixed(t, "100"))
	loan, _ := f.engine.Loan(id)
	if loan.Open || !loan.Debt.IsZero() {
		t.Fatalf("expected closed loan, got %+v", loan)
	}
	if _, err := f.engine.Liquidate(liquidator, id); !errors.Is(err, ErrLoanClosed) {
		t.Fatalf("expected ErrLoanClosed, got %v", err)
	}
	if _, err := f.engine.Liquidate(liquidator, 42); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound, got %v", err)
	}
	attrs := f.emitter.last(t)
	if attrs["loanId"] != "1" || attrs["seized"] != fixed(t, "10").Dec() {
		t.Fatalf("unexpected liquidation attributes %v", attrs)
	}
}

func TestLiquidationBoundaryIsHealthy(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "100")
	borrower := testAddr(0x20)
	f.collateral.credit(borrower, fixed(t, "10"))
	id, err := f.engine.Borrow(borrower, fixed(t, "10"), fixed(t, "5"))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.asset.credit(testAddr(0x40), fixed(t, "5"))
	if _, err := f.engine.Liquidate(testAddr(0x40), id); !errors.Is(err, ErrLoanHealthy) {
		t.Fatalf("debt equal to the limit must be healthy, got %v", err)
	}
	if err := f.engine.SetLTV(f.operator, fixed(t, "0.49")); err != nil {
		t.Fatalf("set ltv: %v", err)
	}
	if _, err := f.engine.Liquidate(testAddr(0x40), id); err != nil {
		t.Fatalf("liquidate after ltv cut: %v", err)
	}
}

func TestNestedEntryIsRejected(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "100")
	borrower := testAddr(0x20)
	f.collateral.credit(borrower, fixed(t, "10"))
	f.asset.credit(borrower, fixed(t, "1"))

	var nested []error
	f.asset.onPush = func(crypto.Address) {
		nested = append(nested, f.engine.Deposit(borrower, fixed(t, "1")))
		_, err := f.engine.Borrow(borrower, fixed(t, "1"), fixed(t, "0.1"))
		nested = append(nested, err)
	}
	if _, err := f.engine.Borrow(borrower, fixed(t, "10"), fixed(t, "5")); err != nil {
		t.Fatalf("outer borrow: %v", err)
	}
	if len(nested) != 2 {
		t.Fatalf("expected nested calls to run, got %d", len(nested))
	}
	for _, err := range nested {
		if !errors.Is(err, ErrReentrantCall) {
			t.Fatalf("expected ErrReentrantCall, got %v", err)
		}
	}
	f.asset.onPush = nil
	if err := f.engine.Deposit(borrower, fixed(t, "1")); err != nil {
		t.Fatalf("guard must be released after the outer call: %v", err)
	}
}

func TestAdminOperations(t *testing.T) {
	f := newFixture(t)
	stranger := testAddr(0x50)

	if err := f.engine.SetPrices(stranger, fixed(t, "2"), fixed(t, "2")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.SetPrices(f.operator, new(uint256.Int), fixed(t, "2")); !errors.Is(err, ErrInvalidParameter) || !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if err := f.engine.SetLTV(f.operator, fixed(t, "1.000000000000000001")); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if err := f.engine.SetLTV(f.operator, fixed(t, "1")); err != nil {
		t.Fatalf("ltv of exactly one must be accepted: %v", err)
	}
	if err := f.engine.SetPrices(f.operator, fixed(t, "2"), fixed(t, "3")); err != nil {
		t.Fatalf("set prices: %v", err)
	}
	params := f.engine.Params()
	requireAmount(t, "asset price", params.AssetPrice, fixed(t, "2"))
	requireAmount(t, "collateral price", params.CollateralPrice, fixed(t, "3"))
	if f.state.settings == nil {
		t.Fatalf("settings were not persisted")
	}
	requireAmount(t, "persisted ltv", f.state.settings.Params.LoanToValue, fixed(t, "1"))
	if got := f.emitter.types(); len(got) != 2 || got[0] != EventTypeParamsUpdated || got[1] != EventTypeParamsUpdated {
		t.Fatalf("unexpected events %v", got)
	}

	next := testAddr(0x60)
	if err := f.engine.TransferOperator(stranger, next); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.TransferOperator(f.operator, next); err != nil {
		t.Fatalf("transfer operator: %v", err)
	}
	if !f.engine.Operator().Equal(next) {
		t.Fatalf("operator not updated")
	}
	if err := f.engine.SetLTV(f.operator, fixed(t, "0.5")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("previous operator must lose access, got %v", err)
	}
}

func TestAdminChangeNotAppliedWhenCommitFails(t *testing.T) {
	f := newFixture(t)
	f.state.failAt = 1
	if err := f.engine.SetLTV(f.operator, fixed(t, "0.1")); !errors.Is(err, errCommitFailed) {
		t.Fatalf("expected commit failure, got %v", err)
	}
	requireAmount(t, "ltv unchanged", f.engine.Params().LoanToValue, fixed(t, "0.5"))
}

func TestPausedActions(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "10")
	if err := f.engine.SetPauses(testAddr(0x50), ActionPauses{Borrow: true}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.SetPauses(f.operator, ActionPauses{Borrow: true, Deposit: true}); err != nil {
		t.Fatalf("set pauses: %v", err)
	}
	borrower := testAddr(0x20)
	f.collateral.credit(borrower, fixed(t, "4"))
	if _, err := f.engine.Borrow(borrower, fixed(t, "4"), fixed(t, "1")); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := f.engine.Deposit(testAddr(0x10), fixed(t, "1")); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := f.engine.Withdraw(f.operator, fixed(t, "1")); err != nil {
		t.Fatalf("withdraw must ignore pauses: %v", err)
	}
	if !f.engine.Pauses().Borrow {
		t.Fatalf("pauses not reported")
	}
}

func TestLoansPagination(t *testing.T) {
	f := newFixture(t)
	f.fund(t, testAddr(0x10), "100")
	borrower := testAddr(0x20)
	f.collateral.credit(borrower, fixed(t, "30"))
	for i := 0; i < 3; i++ {
		if _, err := f.engine.Borrow(borrower, fixed(t, "10"), fixed(t, "1")); err != nil {
			t.Fatalf("borrow %d: %v", i, err)
		}
	}
	page, err := f.engine.Loans(1, 10)
	if err != nil {
		t.Fatalf("loans: %v", err)
	}
	if len(page) != 2 || page[0].ID != 2 || page[1].ID != 3 {
		t.Fatalf("unexpected page %+v", page)
	}
	page, err = f.engine.Loans(0, 1)
	if err != nil || len(page) != 1 || page[0].ID != 1 {
		t.Fatalf("unexpected first page %+v %v", page, err)
	}
}

func TestLedgerConservation(t *testing.T) {
	f := newFixture(t)
	lender := testAddr(0x10)
	borrowerA := testAddr(0x20)
	borrowerB := testAddr(0x21)
	liquidator := testAddr(0x40)
	f.fund(t, lender, "100")
	f.collateral.credit(borrowerA, fixed(t, "40"))
	f.collateral.credit(borrowerB, fixed(t, "40"))
	f.asset.credit(liquidator, fixed(t, "50"))

	idA, err := f.engine.Borrow(borrowerA, fixed(t, "40"), fixed(t, "20"))
	if err != nil {
		t.Fatalf("borrow A: %v", err)
	}
	idB, err := f.engine.Borrow(borrowerB, fixed(t, "20"), fixed(t, "8"))
	if err != nil {
		t.Fatalf("borrow B: %v", err)
	}
	if _, err := f.engine.Repay(borrowerA, idA, fixed(t, "7")); err != nil {
		t.Fatalf("repay A: %v", err)
	}
	if err := f.engine.Withdraw(f.operator, fixed(t, "30")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := f.engine.SetPrices(f.operator, fixed(t, "1"), fixed(t, "0.5")); err != nil {
		t.Fatalf("set prices: %v", err)
	}
	if _, err := f.engine.Liquidate(liquidator, idB); err != nil {
		t.Fatalf("liquidate B: %v", err)
	}

	pool, err := f.engine.Pool()
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	expected := new(uint256.Int).Add(pool.TotalDeposited, pool.TotalRepaid)
	expected.Sub(expected, pool.TotalWithdrawn)
	expected.Sub(expected, pool.TotalBorrowed)
	requireAmount(t, "liquidity identity", pool.TotalLiquidity, expected)
	requireAmount(t, "custody matches liquidity", f.asset.balance(f.asset.custody), pool.TotalLiquidity)

	openDebt := new(uint256.Int)
	lockedCollateral := new(uint256.Int)
	loans, err := f.engine.Loans(0, 0)
	if err != nil {
		t.Fatalf("loans: %v", err)
	}
	for _, loan := range loans {
		if loan.Open {
			openDebt.Add(openDebt, loan.Debt)
			lockedCollateral.Add(lockedCollateral, loan.CollateralAmount)
		} else if !loan.Debt.IsZero() {
			t.Fatalf("closed loan %d carries debt", loan.ID)
		}
	}
	requireAmount(t, "open debt", openDebt, pool.OutstandingDebt())
	requireAmount(t, "open debt value", openDebt, fixed(t, "13"))
	requireAmount(t, "locked collateral", f.collateral.balance(f.collateral.custody), lockedCollateral)
}
