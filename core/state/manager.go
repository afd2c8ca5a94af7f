package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"lendledger/storage"
)

var (
	ErrTokenExists   = errors.New("state: token already registered")
	ErrTokenNotFound = errors.New("state: token not registered")
	errNilDatabase   = errors.New("state: database not configured")
	errEmptyKey      = errors.New("kv: key must not be empty")
)

// Manager reads and writes ledger records on top of a key-value database.
// Keys are keccak hashed and values RLP encoded.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// TokenMetadata describes a registered fungible token.
type TokenMetadata struct {
	Symbol      string
	Name        string
	Decimals    uint8
	TotalSupply *big.Int
}

var (
	tokenPrefix  = []byte("token:")
	tokenListKey = ethcrypto.Keccak256([]byte("token-list"))
)

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, errNilDatabase
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVPut stores the RLP encoding of value under the hashed key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	return m.put(kvKey(key), value)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, errEmptyKey
	}
	return m.get(kvKey(key), out)
}

// KVDelete removes the value stored under the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	return m.db.Delete(kvKey(key))
}

// Batch stages several KV writes that become visible together on Write.
type Batch struct {
	batch storage.Batch
	err   error
}

// NewBatch starts a write batch against the manager's database.
func (m *Manager) NewBatch() *Batch {
	if m == nil || m.db == nil {
		return &Batch{err: errNilDatabase}
	}
	return &Batch{batch: m.db.NewBatch()}
}

// KVPut stages an RLP encoded write. Encoding failures are reported by Write.
func (b *Batch) KVPut(key []byte, value interface{}) {
	b.putRaw(kvKey(key), key, value)
}

func (b *Batch) putRaw(hashed, key []byte, value interface{}) {
	if b.err != nil {
		return
	}
	if len(key) == 0 {
		b.err = errEmptyKey
		return
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		b.err = err
		return
	}
	b.batch.Put(hashed, encoded)
}

// KVDelete stages the removal of key.
func (b *Batch) KVDelete(key []byte) {
	if b.err != nil {
		return
	}
	if len(key) == 0 {
		b.err = errEmptyKey
		return
	}
	b.batch.Delete(kvKey(key))
}

// Write applies every staged operation atomically. Nothing is written when a
// staging step failed.
func (b *Batch) Write() error {
	if b.err != nil {
		return b.err
	}
	if b.batch.Len() == 0 {
		return nil
	}
	return b.batch.Write()
}

func (m *Manager) loadTokenList() ([]string, error) {
	var list []string
	ok, err := m.get(tokenListKey, &list)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	return list, nil
}

// RegisterToken records the metadata for a new token symbol.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("state: token symbol required")
	}
	if m.TokenExists(normalized) {
		return ErrTokenExists
	}
	list, err := m.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	meta := &TokenMetadata{
		Symbol:      normalized,
		Name:        strings.TrimSpace(name),
		Decimals:    decimals,
		TotalSupply: big.NewInt(0),
	}
	b := m.NewBatch()
	b.putRaw(tokenMetadataKey(normalized), []byte(normalized), meta)
	b.putRaw(tokenListKey, tokenListKey, list)
	return b.Write()
}

// Token returns the metadata registered for symbol.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	normalized := normalizeSymbol(symbol)
	meta := new(TokenMetadata)
	ok, err := m.get(tokenMetadataKey(normalized), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTokenNotFound
	}
	if meta.TotalSupply == nil {
		meta.TotalSupply = big.NewInt(0)
	}
	return meta, nil
}

// TokenList returns the registered symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	return m.loadTokenList()
}

// TokenExists reports whether symbol has been registered.
func (m *Manager) TokenExists(symbol string) bool {
	ok, err := m.get(tokenMetadataKey(normalizeSymbol(symbol)), nil)
	return err == nil && ok
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("state: negative amount %s", v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("state: amount %s exceeds 256 bits", v)
	}
	return out, nil
}
