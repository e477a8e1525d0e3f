package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/maithanhduyan/bibank/internal/adapter/http/dto"
	"github.com/maithanhduyan/bibank/internal/domain"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error:   message,
		Message: details,
	})
}

// writeDomainError maps err to a status and writes it with any typed details.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := mapDomainError(err)
	resp := dto.ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: err.Error(),
		Details: errorDetails(err),
	}
	writeJSON(w, status, resp)
}

// mapDomainError maps domain errors to HTTP status codes and a stable code.
func mapDomainError(err error) (int, string) {
	var hookErr *domain.HookRejectedError
	if errors.As(err, &hookErr) {
		code := hookErr.Code
		if code == "" {
			code = "hook_rejected"
		}
		return http.StatusForbidden, code
	}

	switch {
	case errors.Is(err, domain.ErrUnbalancedEntry):
		return http.StatusBadRequest, "unbalanced_entry"
	case errors.Is(err, domain.ErrInsufficientPostings),
		errors.Is(err, domain.ErrEmptyCorrelationID),
		errors.Is(err, domain.ErrNegativeAmount),
		errors.Is(err, domain.ErrAssetMismatch),
		errors.Is(err, domain.ErrInvalidIntentPosting),
		errors.Is(err, domain.ErrUnknownIntent),
		errors.Is(err, domain.ErrInvalidAccountFormat),
		errors.Is(err, domain.ErrInvalidIDFormat),
		errors.Is(err, domain.ErrInvalidMetadata),
		errors.Is(err, domain.ErrMetadataTooLarge):
		return http.StatusBadRequest, "invalid_intent"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, domain.ErrExceedsMaxLeverage):
		return http.StatusUnprocessableEntity, "exceeds_max_leverage"
	case errors.Is(err, domain.ErrNotLiquidatable):
		return http.StatusConflict, "not_liquidatable"
	case errors.Is(err, domain.ErrDuplicateCorrelation):
		return http.StatusConflict, "duplicate_correlation"
	case errors.Is(err, domain.ErrApprovalNotFound):
		return http.StatusNotFound, "approval_not_found"
	case errors.Is(err, domain.ErrAlreadyResolved):
		return http.StatusConflict, "already_resolved"
	case errors.Is(err, domain.ErrDuplicateSignature):
		return http.StatusConflict, "duplicate_signature"
	case errors.Is(err, domain.ErrApprovalNotApproved):
		return http.StatusConflict, "approval_not_approved"
	case errors.Is(err, domain.ErrApprovalExpired):
		return http.StatusGone, "approval_expired"
	case errors.Is(err, domain.ErrUnauthorizedSigner):
		return http.StatusForbidden, "unauthorized_signer"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrInvalidToken), errors.Is(err, domain.ErrExpiredToken):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrExternalServiceTimeout):
		return http.StatusGatewayTimeout, "external_service_timeout"
	case errors.Is(err, domain.ErrExternalServiceUnavailable):
		return http.StatusServiceUnavailable, "external_service_unavailable"
	case errors.Is(err, domain.ErrBrokenHashChain),
		errors.Is(err, domain.ErrInvalidSequence),
		errors.Is(err, domain.ErrInvalidGenesisSequence),
		errors.Is(err, domain.ErrInvalidGenesisPrevHash):
		return http.StatusInternalServerError, "chain_integrity"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func errorDetails(err error) map[string]any {
	var unbalanced *domain.UnbalancedEntryError
	if errors.As(err, &unbalanced) {
		return map[string]any{"asset": unbalanced.Asset, "imbalance": unbalanced.Imbalance.String()}
	}
	var insufficient *domain.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		return map[string]any{
			"account":   insufficient.Account.String(),
			"available": insufficient.Available.String(),
			"required":  insufficient.Required.String(),
		}
	}
	var hookErr *domain.HookRejectedError
	if errors.As(err, &hookErr) {
		return map[string]any{"hook": hookErr.Hook, "reason": hookErr.Reason}
	}
	var extErr *domain.ExternalServiceError
	if errors.As(err, &extErr) {
		return map[string]any{"service": extErr.Service}
	}
	var chainErr *domain.ChainError
	if errors.As(err, &chainErr) {
		return map[string]any{"sequence": chainErr.Sequence}
	}
	return nil
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultValue int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}

// parseUintQuery parses an unsigned integer query parameter with a default value.
func parseUintQuery(r *http.Request, key string, defaultValue uint64) uint64 {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return u
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
