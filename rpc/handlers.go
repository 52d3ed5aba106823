package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"crosslend/core/types"
	"crosslend/native/common"
	"crosslend/native/risk"
)

type errorResponse struct {
	Error string `json:"error"`
}

type marketResponse struct {
	Market               string   `json:"market"`
	Listed               bool     `json:"listed"`
	CollateralFactor     string   `json:"collateralFactor"`
	LiquidationThreshold string   `json:"liquidationThreshold"`
	SupplyCap            string   `json:"supplyCap"`
	BorrowCap            string   `json:"borrowCap"`
	ForcedLiquidation    bool     `json:"forcedLiquidation"`
	PausedActions        []string `json:"pausedActions,omitempty"`
	TotalSupply          string   `json:"totalSupply,omitempty"`
	TotalBorrows         string   `json:"totalBorrows,omitempty"`
	ExchangeRate         string   `json:"exchangeRate,omitempty"`
	BadDebt              string   `json:"badDebt,omitempty"`
}

type liquidityResponse struct {
	Account            string `json:"account"`
	WeightedCollateral string `json:"weightedCollateral"`
	TotalCollateral    string `json:"totalCollateral"`
	Borrows            string `json:"borrows"`
	Effects            string `json:"effects,omitempty"`
	Liquidity          string `json:"liquidity"`
	Shortfall          string `json:"shortfall"`
}

type rewardsResponse struct {
	Account string              `json:"account"`
	Accrued string              `json:"accrued"`
	Speeds  []marketSpeedStatus `json:"speeds"`
}

type marketSpeedStatus struct {
	Market      string `json:"market"`
	SupplySpeed string `json:"supplySpeed"`
	BorrowSpeed string `json:"borrowSpeed"`
}

type claimRequest struct {
	Account string   `json:"account"`
	Markets []string `json:"markets"`
}

type claimResponse struct {
	Account   string `json:"account"`
	Remaining string `json:"remaining"`
}

type heightRequest struct {
	Height uint64 `json:"height"`
}

type heightResponse struct {
	Height uint64 `json:"height"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.risk.Markets()
	out := make([]marketResponse, 0, len(markets))
	for _, market := range markets {
		resp, err := s.marketStatus(market)
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	market, ok := s.pathAddress(w, r, "market")
	if !ok {
		return
	}
	resp, err := s.marketStatus(market)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if !resp.Listed {
		writeError(w, http.StatusNotFound, risk.ErrMarketNotListed.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) marketStatus(market types.Address) (marketResponse, error) {
	record, err := s.store.GetMarket(market)
	if err != nil {
		return marketResponse{}, err
	}
	if record == nil {
		return marketResponse{Market: market.Hex()}, nil
	}
	resp := marketResponse{
		Market:               market.Hex(),
		Listed:               record.IsListed,
		CollateralFactor:     bigString(record.CollateralFactor),
		LiquidationThreshold: bigString(record.LiquidationThreshold),
		SupplyCap:            capString(record.SupplyCap),
		BorrowCap:            capString(record.BorrowCap),
		ForcedLiquidation:    record.ForcedLiquidationEnabled,
		PausedActions:        pausedActions(record),
	}
	if ledger, ok := s.risk.Ledger(market); ok {
		if v, err := ledger.TotalSupply(); err == nil {
			resp.TotalSupply = bigString(v)
		}
		if v, err := ledger.TotalBorrows(); err == nil {
			resp.TotalBorrows = bigString(v)
		}
		if v, err := ledger.ExchangeRate(); err == nil {
			resp.ExchangeRate = bigString(v)
		}
		if v, err := ledger.BadDebt(); err == nil {
			resp.BadDebt = bigString(v)
		}
	}
	return resp, nil
}

func (s *Server) handleLiquidity(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAddress(w, r, "account")
	if !ok {
		return
	}
	snapshot, err := s.risk.AccountLiquidity(account)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liquiditySnapshot(account, snapshot))
}

func (s *Server) handleHypothetical(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAddress(w, r, "account")
	if !ok {
		return
	}
	market, err := types.ParseAddress(r.URL.Query().Get("market"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market parameter")
		return
	}
	redeem, err := queryAmount(r, "redeem")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	borrow, err := queryAmount(r, "borrow")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snapshot, err := s.risk.HypotheticalAccountLiquidity(account, market, redeem, borrow)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liquiditySnapshot(account, snapshot))
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAddress(w, r, "account")
	if !ok {
		return
	}
	accrued, err := s.rewards.Accrued(account)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	markets := s.risk.Markets()
	speeds := make([]marketSpeedStatus, 0, len(markets))
	for _, market := range markets {
		speeds = append(speeds, marketSpeedStatus{
			Market:      market.Hex(),
			SupplySpeed: bigString(s.rewards.SupplySpeed(market)),
			BorrowSpeed: bigString(s.rewards.BorrowSpeed(market)),
		})
	}
	writeJSON(w, http.StatusOK, rewardsResponse{
		Account: account.Hex(),
		Accrued: bigString(accrued),
		Speeds:  speeds,
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	account, err := types.ParseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account")
		return
	}
	markets := make([]types.Address, 0, len(req.Markets))
	for _, raw := range req.Markets {
		market, err := types.ParseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid market "+raw)
			return
		}
		markets = append(markets, market)
	}
	if len(markets) == 0 {
		markets = s.risk.Markets()
	}
	if err := s.rewards.Claim(account, markets); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	remaining, err := s.rewards.Accrued(account)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{
		Account:   account.Hex(),
		Remaining: bigString(remaining),
	})
}

// handleSetHeight advances a block-based reward clock. The counter never
// moves backwards, so a stale height is accepted and ignored.
func (s *Server) handleSetHeight(w http.ResponseWriter, r *http.Request) {
	if s.clock == nil {
		writeError(w, http.StatusConflict, "reward clock is wall-clock driven")
		return
	}
	var req heightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.clock.SetHeight(req.Height)
	writeJSON(w, http.StatusOK, heightResponse{Height: s.clock.Current()})
}

func (s *Server) pathAddress(w http.ResponseWriter, r *http.Request, param string) (types.Address, bool) {
	addr, err := types.ParseAddress(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+param+" address")
		return types.Address{}, false
	}
	return addr, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, risk.ErrMarketNotListed):
		status = http.StatusNotFound
	case errors.Is(err, risk.ErrPriceUnavailable), errors.Is(err, risk.ErrSnapshotFailed):
		status = http.StatusServiceUnavailable
	}
	s.log.Error("request failed",
		"component", "rpc",
		"error", err.Error(),
		"request_id", RequestID(r.Context()),
	)
	writeError(w, status, err.Error())
}

func liquiditySnapshot(account types.Address, snapshot *risk.AccountLiquidity) liquidityResponse {
	return liquidityResponse{
		Account:            account.Hex(),
		WeightedCollateral: bigString(snapshot.WeightedCollateral),
		TotalCollateral:    bigString(snapshot.TotalCollateral),
		Borrows:            bigString(snapshot.Borrows),
		Effects:            bigString(snapshot.Effects),
		Liquidity:          bigString(snapshot.Liquidity),
		Shortfall:          bigString(snapshot.Shortfall),
	}
}

func pausedActions(m *risk.Market) []string {
	all := []common.Action{
		common.ActionMint,
		common.ActionRedeem,
		common.ActionBorrow,
		common.ActionRepay,
		common.ActionSeize,
		common.ActionLiquidate,
		common.ActionTransfer,
		common.ActionEnterMarket,
		common.ActionExitMarket,
	}
	var out []string
	for _, action := range all {
		if m.ActionPaused(action) {
			out = append(out, action.String())
		}
	}
	return out
}

func queryAmount(r *http.Request, param string) (*big.Int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(param))
	if raw == "" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, errors.New("invalid " + param + " parameter")
	}
	return value, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func capString(v *big.Int) string {
	if v == nil {
		return "unlimited"
	}
	return v.String()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
