package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/maithanhduyan/bibank/internal/adapter/http/dto"
	"github.com/maithanhduyan/bibank/internal/infrastructure/signer"
)

type apiOptions struct {
	baseURL string
	token   string
	timeout time.Duration
}

// apiClient is a thin JSON client for the BiBank HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (o *apiOptions) client() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(o.baseURL, "/"),
		token:   o.token,
		http:    &http.Client{Timeout: o.timeout},
	}
}

// apiError is a non-2xx API response.
type apiError struct {
	Status int
	Body   dto.ErrorResponse
}

func (e *apiError) Error() string {
	msg := e.Body.Message
	if msg == "" {
		msg = e.Body.Error
	}
	if e.Body.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Body.Code, msg)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, msg)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(data, &apiErr.Body) != nil {
			apiErr.Body.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// submitCmd builds an intent from --debit/--credit legs and submits it.
func submitCmd(opts *apiOptions) *cobra.Command {
	var (
		intent      string
		correlation string
		causality   string
		debits      []string
		credits     []string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a transaction intent",
		Example: `  bibank submit --intent Transfer \
    --debit LIAB:USER:ALICE:USDT:AVAILABLE=100 \
    --credit LIAB:USER:BOB:USDT:AVAILABLE=100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if correlation == "" {
				correlation = uuid.NewString()
			}
			req := dto.SubmitIntentRequest{
				Intent:        intent,
				CorrelationID: correlation,
				CausalityID:   causality,
			}
			for _, leg := range []struct {
				side string
				raw  []string
			}{{"debit", debits}, {"credit", credits}} {
				for _, raw := range leg.raw {
					p, err := parseLeg(leg.side, raw)
					if err != nil {
						return err
					}
					req.Postings = append(req.Postings, p)
				}
			}

			var result dto.ExecutionResponse
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/intents", req, &result); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&intent, "intent", "Transfer", "Intent type")
	cmd.Flags().StringVar(&correlation, "correlation-id", "", "Correlation id (default: random UUID)")
	cmd.Flags().StringVar(&causality, "causality-id", "", "Causality id")
	cmd.Flags().StringArrayVar(&debits, "debit", nil, "ACCOUNT=AMOUNT leg to debit (repeatable)")
	cmd.Flags().StringArrayVar(&credits, "credit", nil, "ACCOUNT=AMOUNT leg to credit (repeatable)")
	return cmd
}

// parseLeg parses ACCOUNT=AMOUNT.
func parseLeg(side, raw string) (dto.PostingRequest, error) {
	account, amount, ok := strings.Cut(raw, "=")
	if !ok || account == "" || amount == "" {
		return dto.PostingRequest{}, fmt.Errorf("invalid %s leg %q: want ACCOUNT=AMOUNT", side, raw)
	}
	p := dto.PostingRequest{Account: account, Side: side}
	if err := p.Amount.UnmarshalText([]byte(amount)); err != nil {
		return dto.PostingRequest{}, fmt.Errorf("invalid %s amount %q: %w", side, amount, err)
	}
	return p, nil
}

func approvalsCmd(opts *apiOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Multi-signature approval operations",
	}

	var status string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			q.Set("limit", strconv.Itoa(limit))

			var approvals []*dto.ApprovalResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/approvals?"+q.Encode(), nil, &approvals); err != nil {
				return err
			}
			printApprovals(cmd.OutOrStdout(), approvals)
			return nil
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Comma separated statuses (default: open approvals)")
	listCmd.Flags().IntVar(&limit, "limit", 50, "Maximum results")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show an approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var approval dto.ApprovalResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/approvals/"+url.PathEscape(args[0]), nil, &approval); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), approval)
		},
	}

	var signerID, seed string
	signApprovalCmd := &cobra.Command{
		Use:   "sign <id>",
		Short: "Fetch an approval, sign its operation hash and submit the signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := signer.NewFromSeedHex(signerID, seed)
			if err != nil {
				return err
			}
			client := opts.client()
			path := "/api/v1/approvals/" + url.PathEscape(args[0])

			var approval dto.ApprovalResponse
			if err := client.do(cmd.Context(), http.MethodGet, path, nil, &approval); err != nil {
				return err
			}

			var resp dto.SignApprovalResponse
			req := dto.SignApprovalRequest{SignerID: signerID, Signature: s.SignHex(approval.OperationHash)}
			if err := client.do(cmd.Context(), http.MethodPost, path+"/sign", req, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	signApprovalCmd.Flags().StringVar(&signerID, "signer", "", "Signer id")
	signApprovalCmd.Flags().StringVar(&seed, "seed", "", "Hex ed25519 seed (default: $BIBANK_SIGNER_SEED)")
	_ = signApprovalCmd.MarkFlagRequired("signer")
	signApprovalCmd.PreRun = func(cmd *cobra.Command, args []string) {
		if seed == "" {
			seed = envOr("BIBANK_SIGNER_SEED", "")
		}
	}

	var rejectSigner, reason string
	rejectCmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject an approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var approval dto.ApprovalResponse
			req := dto.RejectApprovalRequest{SignerID: rejectSigner, Reason: reason}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/approvals/"+url.PathEscape(args[0])+"/reject", req, &approval); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), approval)
		},
	}
	rejectCmd.Flags().StringVar(&rejectSigner, "signer", "", "Signer id")
	rejectCmd.Flags().StringVar(&reason, "reason", "", "Rejection reason")
	_ = rejectCmd.MarkFlagRequired("signer")
	_ = rejectCmd.MarkFlagRequired("reason")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Count approvals by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats map[string]int
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/approvals/stats", nil, &stats); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	cmd.AddCommand(listCmd, getCmd, signApprovalCmd, rejectCmd, statsCmd)
	return cmd
}

func printApprovals(w io.Writer, approvals []*dto.ApprovalResponse) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tSIGS\tINTENT\tEXPIRES")
	for _, a := range approvals {
		intent := ""
		if a.Intent != nil {
			intent = truncate(string(a.Intent.Intent)+" "+a.Intent.CorrelationID, 32)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			a.ID, a.Kind, a.Status, a.CollectedSigs, a.RequiredSigs, intent, a.ExpiresAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func journalCmd(opts *apiOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Read the journal through the API",
	}

	var from uint64
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			var page dto.JournalPage
			path := fmt.Sprintf("/api/v1/journal?from=%d&limit=%d", from, limit)
			if err := opts.client().do(cmd.Context(), http.MethodGet, path, nil, &page); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
	listCmd.Flags().Uint64Var(&from, "from", 1, "First sequence")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries")

	verifyRemoteCmd := &cobra.Command{
		Use:   "verify",
		Short: "Ask the server to verify the journal hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp dto.VerifyResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/journal/verify", nil, &resp); err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if !resp.Valid {
				return fmt.Errorf("journal verification failed: %s", resp.Error)
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd, verifyRemoteCmd)
	return cmd
}
