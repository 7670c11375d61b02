package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/pair"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

const (
	maxBodyBytes      = 64 << 10
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// ==============================
// Request parsing
// ==============================

func pairIDVar(r *http.Request) pair.ID {
	// the route pattern guarantees digits
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return pair.ID(id)
}

// addressParam parses an address from a path variable or query parameter
func addressParam(w http.ResponseWriter, name, value string) (common.Address, bool) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name, err.Error())
		return common.Address{}, false
	}
	return addr, true
}

// ==============================
// Pair Handlers
// ==============================

func (s *Server) pairInfo(p *pair.Pair) PairInfo {
	info := PairInfo{Pair: p}
	if orders, err := s.app.Engine().Orders(p.ID, true); err == nil {
		info.ActiveOrders = len(orders)
	}
	return info
}

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	pairs := s.app.Engine().Pairs()
	response := make([]PairInfo, len(pairs))
	for i, p := range pairs {
		response[i] = s.pairInfo(p)
	}
	respondJSON(w, response)
}

func (s *Server) handleLookupPair(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, ok := addressParam(w, "tokenA", q.Get("tokenA"))
	if !ok {
		return
	}
	b, ok := addressParam(w, "tokenB", q.Get("tokenB"))
	if !ok {
		return
	}
	respondJSON(w, PairLookup{PairID: s.app.Engine().PairID(a, b)})
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	p, err := s.app.Engine().Pair(pairIDVar(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, s.pairInfo(p))
}

func (s *Server) handleGetReserves(w http.ResponseWriter, r *http.Request) {
	id := pairIDVar(r)
	low, high, total, err := s.app.Engine().Reserves(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, ReservesResponse{PairID: id, ReserveLow: low, ReserveHigh: high, TotalShares: total})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	id := pairIDVar(r)
	q := r.URL.Query()
	tokenIn, ok := addressParam(w, "tokenIn", q.Get("tokenIn"))
	if !ok {
		return
	}
	amountIn, err := uint256.FromDecimal(q.Get("amountIn"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amountIn", err.Error())
		return
	}

	out, err := s.app.Engine().QuoteSwap(id, tokenIn, amountIn)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, QuoteResponse{PairID: id, TokenIn: tokenIn.Hex(), AmountIn: amountIn, AmountOut: out})
}

func (s *Server) handleGetShare(w http.ResponseWriter, r *http.Request) {
	id := pairIDVar(r)
	holder, ok := addressParam(w, "address", mux.Vars(r)["address"])
	if !ok {
		return
	}
	pos, err := s.app.Engine().Position(id, holder)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, ShareResponse{
		PairID:   id,
		Holder:   holder.Hex(),
		Shares:   pos.Shares,
		ShareBps: s.app.Engine().PoolShareBps(id, holder),
	})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.app.Engine().Positions(pairIDVar(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, positions)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") != "false"
	orders, err := s.app.Engine().Orders(pairIDVar(r), activeOnly)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	oid, _ := strconv.ParseUint(mux.Vars(r)["orderId"], 10, 64)
	order, err := s.app.Engine().Order(pairIDVar(r), pair.OrderID(oid))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, order)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondError(w, http.StatusNotFound, "event journal disabled", "")
		return
	}
	q := r.URL.Query()
	after, err := parseUintParam(q.Get("after"), 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid after", err.Error())
		return
	}
	limit, err := parseUintParam(q.Get("limit"), defaultEventLimit)
	if err != nil || limit == 0 {
		respondError(w, http.StatusBadRequest, "invalid limit", "")
		return
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	var id pair.ID
	if _, ok := mux.Vars(r)["id"]; ok {
		id = pairIDVar(r)
	}
	envs, err := s.events.LoadEvents(after, id, int(limit))
	if err != nil {
		s.log.Errorw("event_load_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to load events", err.Error())
		return
	}
	respondJSON(w, envs)
}

func parseUintParam(v string, def uint64) (uint64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

// ==============================
// Token & Account Handlers
// ==============================

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.app.Ledger().Tokens())
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	token, ok := addressParam(w, "token", vars["token"])
	if !ok {
		return
	}
	holder, ok := addressParam(w, "address", vars["address"])
	if !ok {
		return
	}
	respondJSON(w, BalanceResponse{
		Token:   token.Hex(),
		Holder:  holder.Hex(),
		Balance: s.app.Ledger().BalanceOf(token, holder),
	})
}

func (s *Server) handleGetAllowance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	token, ok := addressParam(w, "token", vars["token"])
	if !ok {
		return
	}
	owner, ok := addressParam(w, "owner", vars["owner"])
	if !ok {
		return
	}
	spender, ok := addressParam(w, "spender", vars["spender"])
	if !ok {
		return
	}
	respondJSON(w, AllowanceResponse{
		Token:     token.Hex(),
		Owner:     owner.Hex(),
		Spender:   spender.Hex(),
		Allowance: s.app.Ledger().Allowance(token, owner, spender),
	})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, "address", mux.Vars(r)["address"])
	if !ok {
		return
	}
	n, err := s.app.Nonce(addr)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, NonceResponse{Address: addr.Hex(), Nonce: n})
}

// ==============================
// Submission Handlers
// ==============================

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	tx, err := transaction.Deserialize(body)
	if err != nil {
		respondErr(w, err)
		return
	}

	res, err := s.app.Apply(r.Context(), tx)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, res)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	token, ok := addressParam(w, "token", req.Token)
	if !ok {
		return
	}
	to, ok := addressParam(w, "address", req.Address)
	if !ok {
		return
	}

	amount, err := s.app.Faucet(token, to)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, FaucetResponse{Token: token.Hex(), Address: to.Hex(), Amount: amount})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	e := s.app.Engine()
	respondJSON(w, HealthResponse{
		Status:    "ok",
		Pairs:     len(e.Pairs()),
		EventSeq:  e.Bus().Seq(),
		StateHash: s.app.StateHash().Hex(),
		Custody:   e.Adapter().Custody().Hex(),
		ChainID:   s.app.Domain().ChainID.String(),
	})
}
