package lending

import "github.com/holiman/uint256"

// FixedOne is 1.0 in 18-decimal fixed point.
func FixedOne() *uint256.Int {
	return uint256.NewInt(1_000_000_000_000_000_000)
}

// mulDiv returns a*b/denom with truncating division. Overflow of the 256-bit
// product fails rather than wrapping.
func mulDiv(a, b, denom *uint256.Int) (*uint256.Int, error) {
	if a == nil || b == nil {
		return new(uint256.Int), nil
	}
	if isZero(denom) {
		return nil, errDivisionByZero
	}
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return product.Div(product, denom), nil
}

// CollateralValue prices a collateral amount: amount * collateralPrice / 1e18.
func CollateralValue(amount, collateralPrice *uint256.Int) (*uint256.Int, error) {
	return mulDiv(amount, collateralPrice, FixedOne())
}

// MaxBorrowable applies the loan-to-value ratio to a collateral value.
func MaxBorrowable(collateralValue, ltv *uint256.Int) (*uint256.Int, error) {
	return mulDiv(collateralValue, ltv, FixedOne())
}

// DebtValue prices an amount of the lendable asset: debt * assetPrice / 1e18.
func DebtValue(debt, assetPrice *uint256.Int) (*uint256.Int, error) {
	return mulDiv(debt, assetPrice, FixedOne())
}

// MaxBorrowAssetUnits converts the borrowing capacity of a collateral amount
// into units of the lendable asset.
func MaxBorrowAssetUnits(collateralAmount *uint256.Int, params RiskParameters) (*uint256.Int, error) {
	value, err := CollateralValue(collateralAmount, params.CollateralPrice)
	if err != nil {
		return nil, err
	}
	limit, err := MaxBorrowable(value, params.LoanToValue)
	if err != nil {
		return nil, err
	}
	return mulDiv(limit, FixedOne(), params.AssetPrice)
}

// Evaluate values a loan under the supplied parameters.
func Evaluate(loan *Loan, params RiskParameters) (*HealthReport, error) {
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	value, err := CollateralValue(loan.CollateralAmount, params.CollateralPrice)
	if err != nil {
		return nil, err
	}
	limit, err := MaxBorrowable(value, params.LoanToValue)
	if err != nil {
		return nil, err
	}
	debtValue, err := DebtValue(loan.Debt, params.AssetPrice)
	if err != nil {
		return nil, err
	}
	return &HealthReport{
		LoanID:          loan.ID,
		CollateralValue: value,
		MaxBorrowable:   limit,
		DebtValue:       debtValue,
		Healthy:         !debtValue.Gt(limit),
	}, nil
}

// IsHealthy reports whether the priced debt stays within the borrowing limit
// of the loan's collateral. Equality counts as healthy.
func IsHealthy(loan *Loan, params RiskParameters) (bool, error) {
	report, err := Evaluate(loan, params)
	if err != nil {
		return false, err
	}
	return report.Healthy, nil
}

func addAmount(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(zeroIfNil(a), zeroIfNil(b))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return sum, nil
}

func subAmount(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(zeroIfNil(a), zeroIfNil(b))
	if underflow {
		return nil, ErrArithmeticOverflow
	}
	return diff, nil
}
