package handler

import (
	"net/http"

	"github.com/maithanhduyan/bibank/internal/adapter/http/dto"
	"github.com/maithanhduyan/bibank/internal/usecase"
)

// IntentHandler submits transaction intents to the executor.
type IntentHandler struct {
	executor *usecase.Executor
}

// NewIntentHandler creates a new IntentHandler.
func NewIntentHandler(executor *usecase.Executor) *IntentHandler {
	return &IntentHandler{executor: executor}
}

// Submit runs an intent through the commit pipeline. A committed entry answers
// 201; an intent parked for approval answers 202.
func (h *IntentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req dto.SubmitIntentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	intent, err := req.ToDomain()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.executor.Submit(r.Context(), usecase.SubmitInput{Intent: intent})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, executionStatus(result), dto.ExecutionFromResult(result))
}

func executionStatus(result *usecase.ExecutionResult) int {
	if result.Status == usecase.StatusPendingApproval {
		return http.StatusAccepted
	}
	return http.StatusCreated
}
