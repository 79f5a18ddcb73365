package gateway

import (
	"errors"
	"net/http"

	"trustline/native/claims"
	nativecommon "trustline/native/common"
	"trustline/native/lending"
	"trustline/native/liquidation"
	"trustline/native/reputation"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain sentinel errors onto HTTP statuses: validation 400,
// access 403, not-found 404, state conflicts 409, throttles 429, paused 503.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errMalformedRequest),
		errors.Is(err, claims.ErrInsufficientStake),
		errors.Is(err, claims.ErrInsufficientSampleGap),
		errors.Is(err, claims.ErrChallengeStakeTooLow),
		errors.Is(err, reputation.ErrInvalidSeverity),
		errors.Is(err, reputation.ErrNotBlacklisted),
		errors.Is(err, lending.ErrLTVTooHigh),
		errors.Is(err, liquidation.ErrLoanHealthy),
		errors.Is(err, liquidation.ErrUnprofitable):
		return http.StatusBadRequest
	case errors.Is(err, nativecommon.ErrUnauthorized),
		errors.Is(err, claims.ErrNotClaimant),
		errors.Is(err, lending.ErrBlacklisted):
		return http.StatusForbidden
	case errors.Is(err, claims.ErrClaimNotFound),
		errors.Is(err, reputation.ErrRecordNotFound),
		errors.Is(err, lending.ErrLoanNotFound),
		errors.Is(err, lending.ErrPoolNotFound),
		errors.Is(err, liquidation.ErrAuctionNotFound):
		return http.StatusNotFound
	case errors.Is(err, claims.ErrClaimExists),
		errors.Is(err, claims.ErrClaimNotPending),
		errors.Is(err, claims.ErrClaimNotChallenged),
		errors.Is(err, claims.ErrClaimNotReady),
		errors.Is(err, claims.ErrChallengeWindowClosed),
		errors.Is(err, claims.ErrResolutionNotDue),
		errors.Is(err, lending.ErrLoanNotActive),
		errors.Is(err, lending.ErrPoolInactive),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, liquidation.ErrAuctionExecuted),
		errors.Is(err, liquidation.ErrAuctionOpen),
		errors.Is(err, liquidation.ErrGracePeriodActive):
		return http.StatusConflict
	case errors.Is(err, lending.ErrCircuitBreakerExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}
