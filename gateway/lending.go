package gateway

import (
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createPoolRequest struct {
	PoolType string `json:"poolType"`
	Caller   string `json:"caller"`
}

func (s *Server) createPool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.lending.CreatePool(req.PoolType, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderPool(pool))
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.lending.Pool(chi.URLParam(r, "poolType"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderPool(pool))
}

type setPoolActiveRequest struct {
	Active bool   `json:"active"`
	Caller string `json:"caller"`
}

func (s *Server) setPoolActive(w http.ResponseWriter, r *http.Request) {
	var req setPoolActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.lending.SetPoolActive(chi.URLParam(r, "poolType"), req.Active, caller); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}

type liquidityRequest struct {
	Lender    string `json:"lender"`
	AmountWei string `json:"amountWei"`
}

func (s *Server) depositLiquidity(w http.ResponseWriter, r *http.Request) {
	s.moveLiquidity(w, r, s.lending.DepositLiquidity)
}

func (s *Server) withdrawLiquidity(w http.ResponseWriter, r *http.Request) {
	s.moveLiquidity(w, r, s.lending.WithdrawLiquidity)
}

func (s *Server) moveLiquidity(w http.ResponseWriter, r *http.Request, op func([20]byte, string, *big.Int) error) {
	var req liquidityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	lender, err := parseAddress(req.Lender)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseBig(req.AmountWei)
	if err != nil {
		writeError(w, err)
		return
	}
	poolType := chi.URLParam(r, "poolType")
	if err := op(lender, poolType, amount); err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.lending.Pool(poolType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderPool(pool))
}

type borrowRequest struct {
	Borrower      string `json:"borrower"`
	PoolType      string `json:"poolType"`
	CollateralWei string `json:"collateralWei"`
	BorrowWei     string `json:"borrowWei"`
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		writeError(w, err)
		return
	}
	collateral, err := parseBig(req.CollateralWei)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseBig(req.BorrowWei)
	if err != nil {
		writeError(w, err)
		return
	}
	loan, err := s.lending.Borrow(borrower, req.PoolType, collateral, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderLoan(loan))
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	loan, err := s.lending.Loan(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderLoan(loan))
}

type repayRequest struct {
	Payer     string `json:"payer"`
	AmountWei string `json:"amountWei"`
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	id, err := parseHash(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req repayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	payer, err := parseAddress(req.Payer)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseBig(req.AmountWei)
	if err != nil {
		writeError(w, err)
		return
	}
	loan, err := s.lending.Repay(id, payer, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderLoan(loan))
}
