package routes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"lendledger/crypto"
	"lendledger/gateway/middleware"
	"lendledger/native/lending"
)

const requestLimit = 1 << 20 // 1 MiB

type lendingRoutes struct {
	seq *lending.Sequencer
}

type loanView struct {
	ID               uint64 `json:"id"`
	Borrower         string `json:"borrower"`
	CollateralAmount string `json:"collateralAmount"`
	Debt             string `json:"debt"`
	Open             bool   `json:"open"`
}

type poolView struct {
	TotalLiquidity  string `json:"totalLiquidity"`
	TotalDeposited  string `json:"totalDeposited"`
	TotalWithdrawn  string `json:"totalWithdrawn"`
	TotalBorrowed   string `json:"totalBorrowed"`
	TotalRepaid     string `json:"totalRepaid"`
	OutstandingDebt string `json:"outstandingDebt"`
}

type paramsView struct {
	AssetPrice      string `json:"assetPrice"`
	CollateralPrice string `json:"collateralPrice"`
	LoanToValue     string `json:"loanToValue"`
}

type pausesView struct {
	Deposit   bool `json:"deposit"`
	Borrow    bool `json:"borrow"`
	Repay     bool `json:"repay"`
	Liquidate bool `json:"liquidate"`
}

type healthView struct {
	LoanID          uint64 `json:"loanId"`
	CollateralValue string `json:"collateralValue"`
	MaxBorrowable   string `json:"maxBorrowable"`
	DebtValue       string `json:"debtValue"`
	Healthy         bool   `json:"healthy"`
}

type snapshotView struct {
	Operator  string     `json:"operator"`
	Params    paramsView `json:"params"`
	Pauses    pausesView `json:"pauses"`
	Pool      poolView   `json:"pool"`
	LoanCount uint64     `json:"loanCount"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type borrowRequest struct {
	Collateral string `json:"collateral"`
	Amount     string `json:"amount"`
}

type pricesRequest struct {
	AssetPrice      string `json:"assetPrice"`
	CollateralPrice string `json:"collateralPrice"`
}

type ltvRequest struct {
	LoanToValue string `json:"loanToValue"`
}

type operatorRequest struct {
	Operator string `json:"operator"`
}

func newLoanView(loan *lending.Loan) loanView {
	return loanView{
		ID:               loan.ID,
		Borrower:         loan.Borrower.String(),
		CollateralAmount: amountString(loan.CollateralAmount),
		Debt:             amountString(loan.Debt),
		Open:             loan.Open,
	}
}

func newPoolView(pool *lending.PoolLedger) poolView {
	if pool == nil {
		pool = lending.NewPoolLedger()
	}
	return poolView{
		TotalLiquidity:  amountString(pool.TotalLiquidity),
		TotalDeposited:  amountString(pool.TotalDeposited),
		TotalWithdrawn:  amountString(pool.TotalWithdrawn),
		TotalBorrowed:   amountString(pool.TotalBorrowed),
		TotalRepaid:     amountString(pool.TotalRepaid),
		OutstandingDebt: amountString(pool.OutstandingDebt()),
	}
}

func newParamsView(params lending.RiskParameters) paramsView {
	return paramsView{
		AssetPrice:      lending.FormatFixed(params.AssetPrice),
		CollateralPrice: lending.FormatFixed(params.CollateralPrice),
		LoanToValue:     lending.FormatFixed(params.LoanToValue),
	}
}

func newPausesView(p lending.ActionPauses) pausesView {
	return pausesView{Deposit: p.Deposit, Borrow: p.Borrow, Repay: p.Repay, Liquidate: p.Liquidate}
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func (lr *lendingRoutes) mountPublic(r chi.Router) {
	r.Get("/pool", lr.snapshot)
	r.Get("/loans", lr.listLoans)
	r.Get("/loans/{id}", lr.getLoan)
	r.Get("/loans/{id}/health", lr.health)
}

func (lr *lendingRoutes) mountWrite(r chi.Router) {
	r.Post("/deposit", lr.deposit)
	r.Post("/borrow", lr.borrow)
	r.Post("/loans/{id}/repay", lr.repay)
	r.Post("/loans/{id}/liquidate", lr.liquidate)
}

func (lr *lendingRoutes) mountAdmin(r chi.Router) {
	r.Post("/withdraw", lr.withdraw)
	r.Post("/admin/prices", lr.setPrices)
	r.Post("/admin/ltv", lr.setLTV)
	r.Post("/admin/pauses", lr.setPauses)
	r.Post("/admin/operator", lr.transferOperator)
}

func (lr *lendingRoutes) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := lr.seq.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotView{
		Operator:  snap.Operator.String(),
		Params:    newParamsView(snap.Params),
		Pauses:    newPausesView(snap.Pauses),
		Pool:      newPoolView(snap.Pool),
		LoanCount: snap.LoanCount,
	})
}

func (lr *lendingRoutes) listLoans(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var offset uint64
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, badRequest("invalid offset %q", raw))
			return
		}
		offset = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, badRequest("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	loans, err := lr.seq.Loans(r.Context(), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]loanView, 0, len(loans))
	for _, loan := range loans {
		views = append(views, newLoanView(loan))
	}
	writeJSON(w, http.StatusOK, map[string]any{"loans": views})
}

func (lr *lendingRoutes) getLoan(w http.ResponseWriter, r *http.Request) {
	id, err := loanIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	loan, err := lr.seq.Loan(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(loan))
}

func (lr *lendingRoutes) health(w http.ResponseWriter, r *http.Request) {
	id, err := loanIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := lr.seq.Health(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, healthView{
		LoanID:          report.LoanID,
		CollateralValue: amountString(report.CollateralValue),
		MaxBorrowable:   amountString(report.MaxBorrowable),
		DebtValue:       amountString(report.DebtValue),
		Healthy:         report.Healthy,
	})
}

func (lr *lendingRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := lr.seq.Deposit(r.Context(), caller, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "amount": amount.Dec()})
}

func (lr *lendingRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := lr.seq.Withdraw(r.Context(), caller, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "amount": amount.Dec()})
}

func (lr *lendingRoutes) borrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req borrowRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	collateral, err := parseAmount("collateral", req.Collateral)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := lr.seq.Borrow(r.Context(), caller, collateral, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"loanId": id})
}

func (lr *lendingRoutes) repay(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := loanIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	closed, err := lr.seq.Repay(r.Context(), caller, id, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loanId": id, "applied": amount.Dec(), "closed": closed})
}

func (lr *lendingRoutes) liquidate(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, err := loanIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := lr.seq.Liquidate(r.Context(), caller, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loanId": result.LoanID,
		"repaid": amountString(result.Repaid),
		"seized": amountString(result.Seized),
	})
}

func (lr *lendingRoutes) setPrices(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req pricesRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	assetPrice, err := parseFixed("assetPrice", req.AssetPrice)
	if err != nil {
		writeError(w, err)
		return
	}
	collateralPrice, err := parseFixed("collateralPrice", req.CollateralPrice)
	if err != nil {
		writeError(w, err)
		return
	}
	params, err := lr.seq.SetPrices(r.Context(), caller, assetPrice, collateralPrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newParamsView(params))
}

func (lr *lendingRoutes) setLTV(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req ltvRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ltv, err := parseFixed("loanToValue", req.LoanToValue)
	if err != nil {
		writeError(w, err)
		return
	}
	params, err := lr.seq.SetLTV(r.Context(), caller, ltv)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newParamsView(params))
}

func (lr *lendingRoutes) setPauses(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req pausesView
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	pauses := lending.ActionPauses{Deposit: req.Deposit, Borrow: req.Borrow, Repay: req.Repay, Liquidate: req.Liquidate}
	if err := lr.seq.SetPauses(r.Context(), caller, pauses); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (lr *lendingRoutes) transferOperator(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req operatorRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	next, err := crypto.DecodeAddress(strings.TrimSpace(req.Operator))
	if err != nil {
		writeError(w, badRequest("invalid operator address: %v", err))
		return
	}
	if err := lr.seq.TransferOperator(r.Context(), caller, next); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"operator": next.String()})
}

func requireCaller(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w)
		return crypto.Address{}, false
	}
	return caller, true
}

func loanIDParam(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest("invalid loan id %q", raw)
	}
	return id, nil
}

// parseAmount reads a base-unit integer.
func parseAmount(field, raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, badRequest("%s is required", field)
	}
	value, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, badRequest("invalid %s %q", field, raw)
	}
	return value, nil
}

// parseFixed reads a decimal price or ratio into 18-decimal fixed point.
func parseFixed(field, raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, badRequest("%s is required", field)
	}
	value, err := lending.ParseFixed(raw)
	if err != nil {
		return nil, badRequest("invalid %s: %v", field, err)
	}
	return value, nil
}

func decodeRequest(r *http.Request, dst any) error {
	if r.Body == nil {
		return badRequest("missing request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("decode request: %v", err)
	}
	return nil
}

