package bank

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	nhbstate "lendledger/core/state"
	"lendledger/crypto"
)

var (
	ErrInsufficientBalance   = nhbstate.ErrInsufficientBalance
	ErrInsufficientAllowance = nhbstate.ErrInsufficientAllowance
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
	ErrInvalidAddress        = errors.New("bank: address required")
	ErrRecipientRejected     = errors.New("bank: recipient rejected transfer")
)

// ReceiveHook runs before a push or transfer credits its recipient. Returning
// an error refuses the funds and nothing moves. The hook cannot spend the
// incoming amount because it has not been credited yet.
type ReceiveHook func(symbol string, amount *uint256.Int) error

// Token is a fungible ledger for one registered symbol. Pulls and pushes move
// funds between holders and the custody account, which is also the spender
// that holders approve.
type Token struct {
	mu      sync.Mutex
	state   *nhbstate.Manager
	symbol  string
	custody crypto.Address

	hookMu sync.RWMutex
	hooks  map[string]ReceiveHook
}

// NewToken binds a registered symbol to its custody account.
func NewToken(state *nhbstate.Manager, symbol string, custody crypto.Address) (*Token, error) {
	if state == nil {
		return nil, fmt.Errorf("bank: state manager required")
	}
	if custody.IsZero() {
		return nil, fmt.Errorf("bank: custody address required")
	}
	meta, err := state.Token(symbol)
	if err != nil {
		return nil, fmt.Errorf("bank: %s: %w", strings.TrimSpace(symbol), err)
	}
	return &Token{
		state:   state,
		symbol:  meta.Symbol,
		custody: custody,
		hooks:   make(map[string]ReceiveHook),
	}, nil
}

// Symbol returns the normalised token symbol.
func (t *Token) Symbol() string { return t.symbol }

// Custody returns the account that holds pooled funds.
func (t *Token) Custody() crypto.Address { return t.custody }

func validAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

// Mint credits new units to addr.
func (t *Token) Mint(to crypto.Address, amount *uint256.Int) error {
	if to.IsZero() {
		return ErrInvalidAddress
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Mint(t.symbol, to.Bytes(), amount)
}

// Approve sets the amount spender may pull from owner.
func (t *Token) Approve(owner, spender crypto.Address, amount *uint256.Int) error {
	if owner.IsZero() || spender.IsZero() {
		return ErrInvalidAddress
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.SetAllowance(t.symbol, owner.Bytes(), spender.Bytes(), amount)
}

// Allowance returns the amount spender may still pull from owner.
func (t *Token) Allowance(owner, spender crypto.Address) (*uint256.Int, error) {
	return t.state.Allowance(t.symbol, owner.Bytes(), spender.Bytes())
}

// BalanceOf returns the holding of addr.
func (t *Token) BalanceOf(addr crypto.Address) (*uint256.Int, error) {
	return t.state.Balance(t.symbol, addr.Bytes())
}

// Transfer moves funds directly between two holders.
func (t *Token) Transfer(from, to crypto.Address, amount *uint256.Int) error {
	if from.IsZero() || to.IsZero() {
		return ErrInvalidAddress
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := t.accept(to, amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Transfer(t.symbol, from.Bytes(), to.Bytes(), nil, amount)
}

// PullFrom moves amount from payer into custody, consuming the allowance payer
// granted to the custody account.
func (t *Token) PullFrom(payer crypto.Address, amount *uint256.Int) error {
	if payer.IsZero() {
		return ErrInvalidAddress
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Transfer(t.symbol, payer.Bytes(), t.custody.Bytes(), t.custody.Bytes(), amount)
}

// PushTo asks the recipient's receive hook, if any, to accept amount and then
// moves it out of custody.
func (t *Token) PushTo(recipient crypto.Address, amount *uint256.Int) error {
	if recipient.IsZero() {
		return ErrInvalidAddress
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if err := t.accept(recipient, amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Transfer(t.symbol, t.custody.Bytes(), recipient.Bytes(), nil, amount)
}

// SetReceiveHook installs hook for recipient. A nil hook removes it.
func (t *Token) SetReceiveHook(recipient crypto.Address, hook ReceiveHook) {
	t.hookMu.Lock()
	defer t.hookMu.Unlock()
	key := string(recipient.Bytes())
	if hook == nil {
		delete(t.hooks, key)
		return
	}
	t.hooks[key] = hook
}

// accept runs the recipient hook without holding the ledger lock so the hook
// may call back into components that use this token.
func (t *Token) accept(to crypto.Address, amount *uint256.Int) error {
	t.hookMu.RLock()
	hook := t.hooks[string(to.Bytes())]
	t.hookMu.RUnlock()
	if hook == nil {
		return nil
	}
	if err := hook(t.symbol, amount.Clone()); err != nil {
		return fmt.Errorf("%w: %w", ErrRecipientRejected, err)
	}
	return nil
}
