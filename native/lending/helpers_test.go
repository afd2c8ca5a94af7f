package lending

import (
	"bytes"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/crypto"
)

var (
	errCommitFailed = errors.New("commit failed")
	errPushFailed   = errors.New("push failed")
	errInsufficient = errors.New("insufficient balance")
)

type mockState struct {
	pool     *PoolLedger
	loans    map[uint64]*Loan
	seq      uint64
	settings *Settings
	commits  int
	failAt   int
}

func newMockState() *mockState {
	return &mockState{pool: NewPoolLedger(), loans: make(map[uint64]*Loan)}
}

func (m *mockState) LendingPool() (*PoolLedger, error) { return m.pool.Clone(), nil }

func (m *mockState) LendingLoan(id uint64) (*Loan, bool, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, false, nil
	}
	return loan.Clone(), true, nil
}

func (m *mockState) LendingLoanSequence() (uint64, error) { return m.seq, nil }

func (m *mockState) LendingCommit(update *StateUpdate) error {
	m.commits++
	if m.failAt != 0 && m.commits == m.failAt {
		return errCommitFailed
	}
	if update.Pool != nil {
		m.pool = update.Pool.Clone()
	}
	for _, loan := range update.Loans {
		m.loans[loan.ID] = loan.Clone()
	}
	for _, id := range update.RemoveLoans {
		delete(m.loans, id)
	}
	if update.LoanSequence != nil {
		m.seq = *update.LoanSequence
	}
	if update.Settings != nil {
		copied := *update.Settings
		m.settings = &copied
	}
	return nil
}

type mockToken struct {
	custody  crypto.Address
	balances map[string]*uint256.Int
	failPush bool
	onPush   func(recipient crypto.Address)
}

func newMockToken(custody crypto.Address) *mockToken {
	return &mockToken{custody: custody, balances: make(map[string]*uint256.Int)}
}

func (t *mockToken) balance(addr crypto.Address) *uint256.Int {
	if bal, ok := t.balances[addr.String()]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

func (t *mockToken) credit(addr crypto.Address, amount *uint256.Int) {
	t.balances[addr.String()] = new(uint256.Int).Add(t.balance(addr), amount)
}

func (t *mockToken) move(from, to crypto.Address, amount *uint256.Int) error {
	bal := t.balance(from)
	if bal.Lt(amount) {
		return errInsufficient
	}
	t.balances[from.String()] = new(uint256.Int).Sub(bal, amount)
	t.credit(to, amount)
	return nil
}

func (t *mockToken) PullFrom(payer crypto.Address, amount *uint256.Int) error {
	return t.move(payer, t.custody, amount)
}

func (t *mockToken) PushTo(recipient crypto.Address, amount *uint256.Int) error {
	if t.failPush {
		return errPushFailed
	}
	if err := t.move(t.custody, recipient, amount); err != nil {
		return err
	}
	if t.onPush != nil {
		t.onPush(recipient)
	}
	return nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *capturingEmitter) types() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

func (c *capturingEmitter) last(t *testing.T) map[string]string {
	t.Helper()
	if len(c.events) == 0 {
		t.Fatalf("no events captured")
	}
	payload, ok := c.events[len(c.events)-1].(events.Payload)
	if !ok {
		t.Fatalf("event does not expose attributes")
	}
	return payload.Event().Attributes
}

func testAddr(b byte) crypto.Address {
	return crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{b}, 20))
}

func fixed(t *testing.T, value string) *uint256.Int {
	t.Helper()
	out, err := ParseFixed(value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return out
}

type fixture struct {
	engine     *Engine
	state      *mockState
	asset      *mockToken
	collateral *mockToken
	emitter    *capturingEmitter
	operator   crypto.Address
}

// newFixture builds an engine priced at 1:1 with a 50% LTV.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	operator := testAddr(0x01)
	params := RiskParameters{
		AssetPrice:      fixed(t, "1"),
		CollateralPrice: fixed(t, "1"),
		LoanToValue:     fixed(t, "0.5"),
	}
	engine, err := NewEngine(operator, params)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	custody := crypto.ModuleAddress("lending")
	f := &fixture{
		engine:     engine,
		state:      newMockState(),
		asset:      newMockToken(custody),
		collateral: newMockToken(custody),
		emitter:    &capturingEmitter{},
		operator:   operator,
	}
	engine.SetState(f.state)
	engine.SetGateways(f.asset, f.collateral)
	engine.SetEmitter(f.emitter)
	return f
}

func (f *fixture) fund(t *testing.T, lender crypto.Address, amount string) {
	t.Helper()
	f.asset.credit(lender, fixed(t, amount))
	if err := f.engine.Deposit(lender, fixed(t, amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func requireAmount(t *testing.T, label string, got, want *uint256.Int) {
	t.Helper()
	if got == nil || want == nil || !got.Eq(want) {
		t.Fatalf("%s: got %v want %v", label, got, want)
	}
}
