package gateway

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type submitClaimRequest struct {
	Claimant        string `json:"claimant"`
	MinBalanceWei   string `json:"minBalanceWei"`
	StartCheckpoint uint64 `json:"startCheckpoint"`
	EndCheckpoint   uint64 `json:"endCheckpoint"`
	MerkleRoot      string `json:"merkleRoot"`
	StakeWei        string `json:"stakeWei"`
}

func (s *Server) submitClaim(w http.ResponseWriter, r *http.Request) {
	var req submitClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	claimant, err := parseAddress(req.Claimant)
	if err != nil {
		writeError(w, err)
		return
	}
	minBalance, err := parseBig(req.MinBalanceWei)
	if err != nil {
		writeError(w, err)
		return
	}
	root, err := parseHash(req.MerkleRoot)
	if err != nil {
		writeError(w, err)
		return
	}
	stake, err := parseBig(req.StakeWei)
	if err != nil {
		writeError(w, err)
		return
	}
	claim, err := s.claims.SubmitClaim(claimant, minBalance, req.StartCheckpoint, req.EndCheckpoint, root, stake)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderClaim(claim))
}

func (s *Server) claimID(r *http.Request) ([32]byte, error) {
	return parseHash(chi.URLParam(r, "id"))
}

func (s *Server) getClaim(w http.ResponseWriter, r *http.Request) {
	id, err := s.claimID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	claim, err := s.claims.Claim(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderClaim(claim))
}

func (s *Server) getChallenge(w http.ResponseWriter, r *http.Request) {
	id, err := s.claimID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	challenge, err := s.claims.Challenge(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderChallenge(challenge))
}

func (s *Server) finalizeClaim(w http.ResponseWriter, r *http.Request) {
	id, err := s.claimID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	claim, err := s.claims.FinalizeClaim(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderClaim(claim))
}

type challengeClaimRequest struct {
	Challenger string `json:"challenger"`
	StakeWei   string `json:"stakeWei"`
}

func (s *Server) challengeClaim(w http.ResponseWriter, r *http.Request) {
	id, err := s.claimID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req challengeClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	challenger, err := parseAddress(req.Challenger)
	if err != nil {
		writeError(w, err)
		return
	}
	stake, err := parseBig(req.StakeWei)
	if err != nil {
		writeError(w, err)
		return
	}
	challenge, err := s.claims.ChallengeClaim(id, challenger, stake)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderChallenge(challenge))
}

type resolveClaimRequest struct {
	Caller string `json:"caller"`
	Proof  string `json:"proof"`
}

func (s *Server) resolveClaim(w http.ResponseWriter, r *http.Request) {
	id, err := s.claimID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req resolveClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	proof, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Proof), "0x"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid proof encoding", errMalformedRequest))
		return
	}
	claim, err := s.claims.ResolveWithProof(id, caller, proof)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderClaim(claim))
}

func (s *Server) resolveTimeout(w http.ResponseWriter, r *http.Request) {
	id, err := s.claimID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	claim, err := s.claims.ResolveTimeout(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderClaim(claim))
}

type invalidateClaimRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) invalidateClaim(w http.ResponseWriter, r *http.Request) {
	id, err := s.claimID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req invalidateClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	claim, err := s.claims.InvalidateClaim(id, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderClaim(claim))
}
