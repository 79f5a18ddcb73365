package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) subject(r *http.Request) ([20]byte, error) {
	return parseAddress(chi.URLParam(r, "subject"))
}

func (s *Server) getReputation(w http.ResponseWriter, r *http.Request) {
	subject, err := s.subject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	record, err := s.reputation.Record(subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderRecord(record, s.reputation.Score(subject)))
}

func (s *Server) applyDecay(w http.ResponseWriter, r *http.Request) {
	subject, err := s.subject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	score, err := s.reputation.ApplyDecay(subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"score": score})
}

type slashRequest struct {
	Caller          string `json:"caller"`
	SeverityPercent uint64 `json:"severityPercent"`
}

func (s *Server) slash(w http.ResponseWriter, r *http.Request) {
	subject, err := s.subject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req slashRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	record, err := s.reputation.Slash(subject, req.SeverityPercent, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderRecord(record, record.Score))
}

type restoreRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) restore(w http.ResponseWriter, r *http.Request) {
	subject, err := s.subject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req restoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.reputation.Restore(subject, caller); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"restored": true})
}
