package state

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/holiman/uint256"

	"lendledger/crypto"
	"lendledger/native/lending"
)

var (
	lendingSettingsKey = []byte("lending/settings")
	lendingPoolKey     = []byte("lending/pool")
	lendingSequenceKey = []byte("lending/loan-seq")
	lendingLoanPrefix  = "lending/loan/"
)

func lendingLoanKey(id uint64) []byte {
	return []byte(lendingLoanPrefix + strconv.FormatUint(id, 10))
}

type storedRiskParameters struct {
	AssetPrice      *big.Int
	CollateralPrice *big.Int
	LoanToValue     *big.Int
}

type storedSettings struct {
	Operator       []byte
	OperatorPrefix string
	Params         storedRiskParameters
	PauseDeposit   bool
	PauseBorrow    bool
	PauseRepay     bool
	PauseLiquidate bool
}

type storedPool struct {
	TotalLiquidity *big.Int
	TotalDeposited *big.Int
	TotalWithdrawn *big.Int
	TotalBorrowed  *big.Int
	TotalRepaid    *big.Int
}

type storedLoan struct {
	ID               uint64
	Borrower         []byte
	BorrowerPrefix   string
	CollateralAmount *big.Int
	Debt             *big.Int
	Open             bool
}

func decodeAddress(prefix string, raw []byte) (crypto.Address, error) {
	if len(raw) == 0 {
		return crypto.Address{}, nil
	}
	return crypto.AddressFromBytes(crypto.AddressPrefix(prefix), raw)
}

func newStoredSettings(s *lending.Settings) storedSettings {
	return storedSettings{
		Operator:       s.Operator.Bytes(),
		OperatorPrefix: string(s.Operator.Prefix()),
		Params: storedRiskParameters{
			AssetPrice:      toBig(s.Params.AssetPrice),
			CollateralPrice: toBig(s.Params.CollateralPrice),
			LoanToValue:     toBig(s.Params.LoanToValue),
		},
		PauseDeposit:   s.Pauses.Deposit,
		PauseBorrow:    s.Pauses.Borrow,
		PauseRepay:     s.Pauses.Repay,
		PauseLiquidate: s.Pauses.Liquidate,
	}
}

func (s storedSettings) settings() (*lending.Settings, error) {
	operator, err := decodeAddress(s.OperatorPrefix, s.Operator)
	if err != nil {
		return nil, err
	}
	out := &lending.Settings{
		Operator: operator,
		Pauses: lending.ActionPauses{
			Deposit:   s.PauseDeposit,
			Borrow:    s.PauseBorrow,
			Repay:     s.PauseRepay,
			Liquidate: s.PauseLiquidate,
		},
	}
	if out.Params.AssetPrice, err = fromBig(s.Params.AssetPrice); err != nil {
		return nil, err
	}
	if out.Params.CollateralPrice, err = fromBig(s.Params.CollateralPrice); err != nil {
		return nil, err
	}
	if out.Params.LoanToValue, err = fromBig(s.Params.LoanToValue); err != nil {
		return nil, err
	}
	return out, nil
}

func newStoredPool(p *lending.PoolLedger) storedPool {
	pool := p.Clone()
	return storedPool{
		TotalLiquidity: toBig(pool.TotalLiquidity),
		TotalDeposited: toBig(pool.TotalDeposited),
		TotalWithdrawn: toBig(pool.TotalWithdrawn),
		TotalBorrowed:  toBig(pool.TotalBorrowed),
		TotalRepaid:    toBig(pool.TotalRepaid),
	}
}

func (s storedPool) pool() (*lending.PoolLedger, error) {
	fields := []*big.Int{s.TotalLiquidity, s.TotalDeposited, s.TotalWithdrawn, s.TotalBorrowed, s.TotalRepaid}
	values := make([]*uint256.Int, len(fields))
	for i, field := range fields {
		v, err := fromBig(field)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return &lending.PoolLedger{
		TotalLiquidity: values[0],
		TotalDeposited: values[1],
		TotalWithdrawn: values[2],
		TotalBorrowed:  values[3],
		TotalRepaid:    values[4],
	}, nil
}

func newStoredLoan(l *lending.Loan) storedLoan {
	return storedLoan{
		ID:               l.ID,
		Borrower:         l.Borrower.Bytes(),
		BorrowerPrefix:   string(l.Borrower.Prefix()),
		CollateralAmount: toBig(l.CollateralAmount),
		Debt:             toBig(l.Debt),
		Open:             l.Open,
	}
}

func (s storedLoan) loan() (*lending.Loan, error) {
	borrower, err := decodeAddress(s.BorrowerPrefix, s.Borrower)
	if err != nil {
		return nil, err
	}
	collateral, err := fromBig(s.CollateralAmount)
	if err != nil {
		return nil, err
	}
	debt, err := fromBig(s.Debt)
	if err != nil {
		return nil, err
	}
	return &lending.Loan{
		ID:               s.ID,
		Borrower:         borrower,
		CollateralAmount: collateral,
		Debt:             debt,
		Open:             s.Open,
	}, nil
}

// LendingSettings returns the persisted operator configuration, if any.
func (m *Manager) LendingSettings() (*lending.Settings, bool, error) {
	var stored storedSettings
	ok, err := m.KVGet(lendingSettingsKey, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	settings, err := stored.settings()
	if err != nil {
		return nil, false, err
	}
	return settings, true, nil
}

// LendingPool returns the pool ledger. A fresh ledger is returned before the
// first deposit.
func (m *Manager) LendingPool() (*lending.PoolLedger, error) {
	var stored storedPool
	ok, err := m.KVGet(lendingPoolKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return lending.NewPoolLedger(), nil
	}
	return stored.pool()
}

// LendingLoan loads a loan by id.
func (m *Manager) LendingLoan(id uint64) (*lending.Loan, bool, error) {
	var stored storedLoan
	ok, err := m.KVGet(lendingLoanKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	loan, err := stored.loan()
	if err != nil {
		return nil, false, err
	}
	return loan, true, nil
}

// LendingLoanSequence returns the last allocated loan id, zero before the
// first borrow.
func (m *Manager) LendingLoanSequence() (uint64, error) {
	var seq uint64
	if _, err := m.KVGet(lendingSequenceKey, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// LendingCommit writes every record in update with a single batch.
func (m *Manager) LendingCommit(update *lending.StateUpdate) error {
	if update.Empty() {
		return nil
	}
	b := m.NewBatch()
	if update.Settings != nil {
		b.KVPut(lendingSettingsKey, newStoredSettings(update.Settings))
	}
	if update.Pool != nil {
		b.KVPut(lendingPoolKey, newStoredPool(update.Pool))
	}
	for _, loan := range update.Loans {
		if loan == nil || loan.ID == 0 {
			return fmt.Errorf("state: loan id required")
		}
		b.KVPut(lendingLoanKey(loan.ID), newStoredLoan(loan))
	}
	for _, id := range update.RemoveLoans {
		b.KVDelete(lendingLoanKey(id))
	}
	if update.LoanSequence != nil {
		b.KVPut(lendingSequenceKey, *update.LoanSequence)
	}
	return b.Write()
}
