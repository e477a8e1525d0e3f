package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maithanhduyan/bibank/internal/domain"
)

func TestSubmitIntentRequest_ToDomain(t *testing.T) {
	var req SubmitIntentRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"intent": "transfer",
		"correlation_id": " t-1 ",
		"postings": [
			{"account": "liab:user:alice:usdt:available", "side": "DEBIT", "amount": "12.5"},
			{"account": "LIAB:USER:BOB:USDT:AVAILABLE", "side": "credit", "amount": 12.5}
		],
		"metadata": {"note": "rent"}
	}`), &req))

	intent, err := req.ToDomain()
	require.NoError(t, err)

	assert.Equal(t, domain.IntentTransfer, intent.Intent)
	assert.Equal(t, "t-1", intent.CorrelationID)
	require.Len(t, intent.Postings, 2)
	assert.Equal(t, domain.UserAvailable("alice", "USDT"), intent.Postings[0].Account)
	assert.Equal(t, "USDT", intent.Postings[0].Asset)
	assert.Equal(t, domain.SideDebit, intent.Postings[0].Side)
	assert.Equal(t, "12.5", intent.Postings[1].Amount.String())
	assert.NoError(t, intent.Validate())
}

func TestSubmitIntentRequest_ToDomainErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     SubmitIntentRequest
		wantErr error
	}{
		{"unknown intent", SubmitIntentRequest{Intent: "Mint"}, domain.ErrUnknownIntent},
		{"bad account", SubmitIntentRequest{Intent: "Transfer", Postings: []PostingRequest{{Account: "LIAB:USER", Side: "debit"}}}, domain.ErrInvalidAccountFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.ToDomain()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestApprovalRequests_Validate(t *testing.T) {
	assert.Error(t, (&SignApprovalRequest{SignerID: "a"}).Validate())
	assert.NoError(t, (&SignApprovalRequest{SignerID: "a", Signature: "ff"}).Validate())
	assert.Error(t, (&RejectApprovalRequest{SignerID: "a", Reason: "  "}).Validate())
	assert.NoError(t, (&RejectApprovalRequest{SignerID: "a", Reason: "fraud"}).Validate())
}
