package lending

import (
	"errors"
	"fmt"

	nativecommon "lendledger/native/common"
)

var (
	ErrInvalidAmount            = errors.New("lending engine: invalid amount")
	ErrInsufficientLiquidity    = errors.New("lending engine: insufficient pool liquidity")
	ErrExceedsBorrowingCapacity = errors.New("lending engine: borrow exceeds collateral capacity")
	ErrLoanClosed               = errors.New("lending engine: loan closed")
	ErrNotBorrower              = errors.New("lending engine: caller is not the borrower")
	ErrLoanHealthy              = errors.New("lending engine: loan is healthy")
	ErrUnauthorized             = errors.New("lending engine: caller is not the operator")
	ErrTransferFailed           = errors.New("lending engine: transfer failed")
	ErrArithmeticOverflow       = errors.New("lending engine: arithmetic overflow")
	ErrLoanNotFound             = errors.New("lending engine: loan not found")
	ErrNilState                 = errors.New("lending engine: state not configured")
	ErrGatewayNotConfigured     = errors.New("lending engine: transfer gateway not configured")

	ErrReentrantCall = nativecommon.ErrReentrantCall
	ErrModulePaused  = nativecommon.ErrModulePaused

	// ErrRepayExceedsDebt also matches ErrInvalidAmount.
	ErrRepayExceedsDebt = fmt.Errorf("%w: repayment exceeds outstanding debt", ErrInvalidAmount)
	// ErrInvalidParameter also matches ErrInvalidAmount.
	ErrInvalidParameter = fmt.Errorf("%w: invalid risk parameter", ErrInvalidAmount)

	errInvalidPrice   = fmt.Errorf("%w: prices must be positive", ErrInvalidParameter)
	errInvalidLTV     = fmt.Errorf("%w: loan-to-value must not exceed 1.0", ErrInvalidParameter)
	errInvalidOp      = fmt.Errorf("%w: operator address required", ErrInvalidParameter)
	errDivisionByZero = fmt.Errorf("%w: division by zero", ErrInvalidParameter)
)

type transferError struct {
	leg string
	err error
}

func (e *transferError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransferFailed.Error(), e.leg, e.err)
}

func (e *transferError) Unwrap() []error { return []error{ErrTransferFailed, e.err} }

func wrapTransfer(leg string, err error) error {
	if err == nil {
		return nil
	}
	return &transferError{leg: leg, err: err}
}

// ErrorCode returns a stable snake_case identifier for err, suitable for API
// responses and metric labels.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrReentrantCall):
		return "reentrant_call"
	case errors.Is(err, ErrModulePaused):
		return "paused"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrArithmeticOverflow):
		return "arithmetic_overflow"
	case errors.Is(err, ErrLoanNotFound):
		return "loan_not_found"
	case errors.Is(err, ErrLoanClosed):
		return "loan_closed"
	case errors.Is(err, ErrNotBorrower):
		return "not_borrower"
	case errors.Is(err, ErrLoanHealthy):
		return "loan_healthy"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrExceedsBorrowingCapacity):
		return "exceeds_borrowing_capacity"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrRepayExceedsDebt):
		return "repay_exceeds_debt"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrNilState), errors.Is(err, ErrGatewayNotConfigured):
		return "unavailable"
	default:
		return "internal"
	}
}
