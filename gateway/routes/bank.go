package routes

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"lendledger/crypto"
	"lendledger/native/bank"
)

type bankRoutes struct {
	tokens map[string]*bank.Token
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func newBankRoutes(tokens []*bank.Token) *bankRoutes {
	index := make(map[string]*bank.Token, len(tokens))
	for _, token := range tokens {
		if token != nil {
			index[token.Symbol()] = token
		}
	}
	return &bankRoutes{tokens: index}
}

func (br *bankRoutes) mountPublic(r chi.Router) {
	r.Get("/{symbol}/balances/{address}", br.balance)
	r.Get("/{symbol}/allowances/{owner}/{spender}", br.allowance)
}

func (br *bankRoutes) mountWrite(r chi.Router) {
	r.Post("/{symbol}/approve", br.approve)
	r.Post("/{symbol}/transfer", br.transfer)
}

func (br *bankRoutes) mountMint(r chi.Router) {
	r.Post("/{symbol}/mint", br.mint)
}

func (br *bankRoutes) token(w http.ResponseWriter, r *http.Request) (*bank.Token, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
	token, ok := br.tokens[symbol]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown token " + symbol, Code: "token_not_found"})
		return nil, false
	}
	return token, true
}

func addressParam(name string, r *http.Request) (crypto.Address, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, badRequest("invalid %s %q", name, raw)
	}
	return addr, nil
}

func (br *bankRoutes) balance(w http.ResponseWriter, r *http.Request) {
	token, ok := br.token(w, r)
	if !ok {
		return
	}
	addr, err := addressParam("address", r)
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := token.BalanceOf(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"symbol":  token.Symbol(),
		"address": addr.String(),
		"balance": amountString(balance),
	})
}

func (br *bankRoutes) allowance(w http.ResponseWriter, r *http.Request) {
	token, ok := br.token(w, r)
	if !ok {
		return
	}
	owner, err := addressParam("owner", r)
	if err != nil {
		writeError(w, err)
		return
	}
	spender, err := addressParam("spender", r)
	if err != nil {
		writeError(w, err)
		return
	}
	allowance, err := token.Allowance(owner, spender)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"symbol":    token.Symbol(),
		"owner":     owner.String(),
		"spender":   spender.String(),
		"allowance": amountString(allowance),
	})
}

// approve grants spender an allowance over the caller's balance. The token's
// custody account is the default spender since it is the one pulling funds
// into the lending pool.
func (br *bankRoutes) approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	token, ok := br.token(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	spender := token.Custody()
	if raw := strings.TrimSpace(req.Spender); raw != "" {
		decoded, err := crypto.DecodeAddress(raw)
		if err != nil {
			writeError(w, badRequest("invalid spender %q", raw))
			return
		}
		spender = decoded
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := token.Approve(caller, spender, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"symbol":    token.Symbol(),
		"owner":     caller.String(),
		"spender":   spender.String(),
		"allowance": amount.Dec(),
	})
}

func (br *bankRoutes) transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	token, ok := br.token(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	to, err := crypto.DecodeAddress(strings.TrimSpace(req.To))
	if err != nil {
		writeError(w, badRequest("invalid recipient %q", req.To))
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := token.Transfer(caller, to, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "amount": amount.Dec()})
}

func (br *bankRoutes) mint(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireCaller(w, r); !ok {
		return
	}
	token, ok := br.token(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	to, err := crypto.DecodeAddress(strings.TrimSpace(req.To))
	if err != nil {
		writeError(w, badRequest("invalid recipient %q", req.To))
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := token.Mint(to, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "amount": amount.Dec()})
}
