package state

import (
	"errors"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("state: insufficient balance")
	ErrInsufficientAllowance = errors.New("state: insufficient allowance")
	ErrSupplyOverflow        = errors.New("state: token supply overflow")
)

var (
	balancePrefix   = []byte("balance:")
	allowancePrefix = []byte("allowance:")
)

func balanceKey(symbol string, addr []byte) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(symbol)+1+len(addr))
	buf = append(buf, balancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, addr...)
	return ethcrypto.Keccak256(buf)
}

func allowanceKey(symbol string, owner, spender []byte) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+len(symbol)+2+len(owner)+len(spender))
	buf = append(buf, allowancePrefix...)
	buf = append(buf, symbol...)
	buf = append(buf, ':')
	buf = append(buf, owner...)
	buf = append(buf, ':')
	buf = append(buf, spender...)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) loadAmount(key []byte) (*uint256.Int, error) {
	stored := new(big.Int)
	ok, err := m.get(key, stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return fromBig(stored)
}

// Balance returns the holding of addr in symbol. Unknown holders have a zero
// balance.
func (m *Manager) Balance(symbol string, addr []byte) (*uint256.Int, error) {
	return m.loadAmount(balanceKey(normalizeSymbol(symbol), addr))
}

// Allowance returns how much spender may move out of owner's balance.
func (m *Manager) Allowance(symbol string, owner, spender []byte) (*uint256.Int, error) {
	return m.loadAmount(allowanceKey(normalizeSymbol(symbol), owner, spender))
}

// SetAllowance overwrites the allowance granted by owner to spender.
func (m *Manager) SetAllowance(symbol string, owner, spender []byte, amount *uint256.Int) error {
	normalized := normalizeSymbol(symbol)
	if _, err := m.Token(normalized); err != nil {
		return err
	}
	return m.put(allowanceKey(normalized, owner, spender), toBig(amount))
}

// Mint credits amount to addr and grows the token supply in one batch.
func (m *Manager) Mint(symbol string, addr []byte, amount *uint256.Int) error {
	meta, err := m.Token(symbol)
	if err != nil {
		return err
	}
	supply, err := fromBig(meta.TotalSupply)
	if err != nil {
		return err
	}
	nextSupply, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	bal, err := m.Balance(meta.Symbol, addr)
	if err != nil {
		return err
	}
	// The supply bounds every balance, so this cannot overflow.
	nextBal := new(uint256.Int).Add(bal, amount)
	meta.TotalSupply = nextSupply.ToBig()

	b := m.NewBatch()
	b.putRaw(tokenMetadataKey(meta.Symbol), []byte(meta.Symbol), meta)
	b.putRaw(balanceKey(meta.Symbol, addr), addr, nextBal.ToBig())
	return b.Write()
}

// Transfer moves amount of symbol from one holder to another. When spender is
// non-empty the move also consumes spender's allowance over from. Balance,
// allowance and recipient are written in one batch.
func (m *Manager) Transfer(symbol string, from, to, spender []byte, amount *uint256.Int) error {
	meta, err := m.Token(symbol)
	if err != nil {
		return err
	}
	symbol = meta.Symbol
	b := m.NewBatch()
	if len(spender) > 0 {
		allowance, err := m.Allowance(symbol, from, spender)
		if err != nil {
			return err
		}
		if allowance.Lt(amount) {
			return ErrInsufficientAllowance
		}
		b.putRaw(allowanceKey(symbol, from, spender), spender, new(uint256.Int).Sub(allowance, amount).ToBig())
	}
	fromBal, err := m.Balance(symbol, from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return ErrInsufficientBalance
	}
	if string(from) == string(to) {
		return b.Write()
	}
	toBal, err := m.Balance(symbol, to)
	if err != nil {
		return err
	}
	b.putRaw(balanceKey(symbol, from), from, new(uint256.Int).Sub(fromBal, amount).ToBig())
	b.putRaw(balanceKey(symbol, to), to, new(uint256.Int).Add(toBal, amount).ToBig())
	return b.Write()
}
