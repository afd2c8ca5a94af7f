package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part of a bech32 identity.
type AddressPrefix string

const (
	// AccountPrefix identifies depositors, borrowers, liquidators and the operator.
	AccountPrefix AddressPrefix = "lend"
	// ModulePrefix identifies custody accounts owned by the ledger itself.
	ModulePrefix AddressPrefix = "lendmod"
)

const addressLength = 20

var errEmptyAddress = errors.New("crypto: empty address")

// Address represents a 20-byte identity with a human-readable prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

// NewAddress builds an address from raw bytes. It panics when the length is not
// 20 bytes; use AddressFromBytes for untrusted input.
func NewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := AddressFromBytes(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

// AddressFromBytes validates and copies the supplied bytes into an address.
func AddressFromBytes(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != addressLength {
		return Address{}, fmt.Errorf("crypto: address must be %d bytes long, got %d", addressLength, len(b))
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}, nil
}

func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address is unset or made only of zero bytes.
func (a Address) IsZero() bool {
	for _, b := range a.bytes {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal compares the raw identity bytes; prefixes are presentation only.
func (a Address) Equal(other Address) bool {
	return bytes.Equal(a.bytes, other.bytes)
}

// MarshalText encodes the address as bech32 for JSON and YAML payloads.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a bech32 address.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	trimmed := strings.TrimSpace(addrStr)
	if trimmed == "" {
		return Address{}, errEmptyAddress
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return AddressFromBytes(AddressPrefix(prefix), conv)
}

// ModuleAddress derives a deterministic custody address for a named module
// account, e.g. "lending/asset".
func ModuleAddress(name string) Address {
	hash := crypto.Keccak256([]byte("module:" + strings.TrimSpace(name)))
	return NewAddress(ModulePrefix, hash[len(hash)-addressLength:])
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return NewAddress(AccountPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
