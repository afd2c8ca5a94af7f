package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	nhbstate "lendledger/core/state"
	"lendledger/native/bank"
	"lendledger/native/lending"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var lendingStatus = map[string]int{
	"reentrant_call":             http.StatusConflict,
	"paused":                     http.StatusConflict,
	"transfer_failed":            http.StatusUnprocessableEntity,
	"arithmetic_overflow":        http.StatusUnprocessableEntity,
	"loan_not_found":             http.StatusNotFound,
	"loan_closed":                http.StatusConflict,
	"not_borrower":               http.StatusForbidden,
	"loan_healthy":               http.StatusConflict,
	"unauthorized":               http.StatusForbidden,
	"exceeds_borrowing_capacity": http.StatusUnprocessableEntity,
	"insufficient_liquidity":     http.StatusUnprocessableEntity,
	"repay_exceeds_debt":         http.StatusBadRequest,
	"invalid_parameter":          http.StatusBadRequest,
	"invalid_amount":             http.StatusBadRequest,
	"unavailable":                http.StatusServiceUnavailable,
}

// classify maps an error to its HTTP status and stable code.
func classify(err error) (int, string) {
	if code := lending.ErrorCode(err); code != "internal" && code != "" {
		return lendingStatus[code], code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled"
	case errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, bank.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity, "insufficient_allowance"
	case errors.Is(err, bank.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, bank.ErrInvalidAddress):
		return http.StatusBadRequest, "invalid_address"
	case errors.Is(err, nhbstate.ErrSupplyOverflow):
		return http.StatusUnprocessableEntity, "arithmetic_overflow"
	case errors.Is(err, nhbstate.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	message := strings.TrimSpace(err.Error())
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func writeUnauthenticated(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "caller identity required", Code: "unauthenticated"})
}
