package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type startAuctionRequest struct {
	LoanID string `json:"loanId"`
}

func (s *Server) startLiquidation(w http.ResponseWriter, r *http.Request) {
	var req startAuctionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	loanID, err := parseHash(req.LoanID)
	if err != nil {
		writeError(w, err)
		return
	}
	auction, err := s.liquidation.StartLiquidation(loanID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderAuction(auction))
}

func (s *Server) auctionID(r *http.Request) ([32]byte, error) {
	return parseHash(chi.URLParam(r, "id"))
}

func (s *Server) getAuction(w http.ResponseWriter, r *http.Request) {
	id, err := s.auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	auction, err := s.liquidation.Auction(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderAuction(auction))
}

func (s *Server) getDiscount(w http.ResponseWriter, r *http.Request) {
	id, err := s.auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	discount, err := s.liquidation.CurrentDiscount(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"discountBps": discount})
}

type executeAuctionRequest struct {
	Executor string `json:"executor"`
}

func (s *Server) executeLiquidation(w http.ResponseWriter, r *http.Request) {
	id, err := s.auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req executeAuctionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	executor, err := parseAddress(req.Executor)
	if err != nil {
		writeError(w, err)
		return
	}
	auction, err := s.liquidation.ExecuteLiquidation(id, executor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderAuction(auction))
}

type cancelAuctionRequest struct {
	Caller string `json:"caller"`
	Reason string `json:"reason"`
}

func (s *Server) cancelAuction(w http.ResponseWriter, r *http.Request) {
	id, err := s.auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req cancelAuctionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	auction, err := s.liquidation.CancelAuction(id, caller, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderAuction(auction))
}
