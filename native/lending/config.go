package lending

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// FixedDecimals is the number of fractional digits carried by prices and the
// loan-to-value ratio.
const FixedDecimals = 18

// Config captures the human readable risk parameters used to bootstrap the
// engine. Values are decimal strings such as "0.5" or "1".
type Config struct {
	AssetPrice      string `yaml:"asset_price" toml:"asset_price"`
	CollateralPrice string `yaml:"collateral_price" toml:"collateral_price"`
	LoanToValue     string `yaml:"loan_to_value" toml:"loan_to_value"`
}

// RiskParameters converts the configuration into validated fixed-point
// parameters.
func (c Config) RiskParameters() (RiskParameters, error) {
	asset, err := ParseFixed(c.AssetPrice)
	if err != nil {
		return RiskParameters{}, fmt.Errorf("asset price: %w", err)
	}
	collateral, err := ParseFixed(c.CollateralPrice)
	if err != nil {
		return RiskParameters{}, fmt.Errorf("collateral price: %w", err)
	}
	ltv, err := ParseFixed(c.LoanToValue)
	if err != nil {
		return RiskParameters{}, fmt.Errorf("loan to value: %w", err)
	}
	params := RiskParameters{AssetPrice: asset, CollateralPrice: collateral, LoanToValue: ltv}
	if err := params.Validate(); err != nil {
		return RiskParameters{}, err
	}
	return params, nil
}

// ParseFixed converts a non-negative decimal string into 18-decimal fixed
// point. Values with more than 18 fractional digits are rejected rather than
// rounded.
func ParseFixed(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty decimal", ErrInvalidParameter)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative decimal %s", ErrInvalidParameter, trimmed)
	}
	scaled := d.Shift(FixedDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: more than %d fractional digits", ErrInvalidParameter, FixedDecimals)
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// FormatFixed renders an 18-decimal fixed-point value as a decimal string.
func FormatFixed(value *uint256.Int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value.ToBig(), -FixedDecimals).String()
}
