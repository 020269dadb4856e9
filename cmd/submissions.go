package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/store"
)

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "Inspect submissions and record lender responses",
}

var submissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List submissions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		requestID, _ := cmd.Flags().GetString("request")
		lender, _ := cmd.Flags().GetString("lender")
		statuses, _ := cmd.Flags().GetStringSlice("status")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.SubmissionFilter{RequestID: requestID, LenderName: lender, Limit: limit}
		for _, s := range statuses {
			status := model.SubmissionStatus(strings.ToUpper(strings.TrimSpace(s)))
			if !status.Valid() {
				return eris.Errorf("unknown status %q", s)
			}
			filter.Statuses = append(filter.Statuses, status)
		}

		recs, err := st.ListSubmissions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "submissions list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No submissions found.")
			return nil
		}
		formatSubmissions(os.Stdout, recs)
		return nil
	},
}

var submissionsRespondCmd = &cobra.Command{
	Use:   "respond <submission-id>",
	Short: "Record a lender's response to a submission",
	Long:  "Moves a SENT submission to OFFER, DECLINED or FUNDED. Declines feed the rule learner and every outcome feeds lender profiles.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		resp, err := responseFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.RecordResponse(ctx, args[0], resp); err != nil {
			return eris.Wrap(err, "submissions respond")
		}
		zap.L().Info("lender response recorded",
			zap.String("submission_id", args[0]),
			zap.String("status", string(resp.Status)),
		)
		return nil
	},
}

func responseFromFlags(fs *pflag.FlagSet) (model.LenderResponse, error) {
	var resp model.LenderResponse

	status, _ := fs.GetString("status")
	resp.Status = model.SubmissionStatus(strings.ToUpper(strings.TrimSpace(status)))
	switch resp.Status {
	case model.SubmissionOffer, model.SubmissionDeclined, model.SubmissionFunded:
	default:
		return resp, eris.Errorf("--status must be OFFER, DECLINED or FUNDED, got %q", status)
	}

	if reason, _ := fs.GetString("reason"); reason != "" {
		resp.DeclineReason = &reason
	}
	if path, _ := fs.GetString("raw-file"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return resp, eris.Wrap(err, "read raw response")
		}
		raw := string(b)
		resp.RawResponse = &raw
	}

	amount, _ := fs.GetString("amount")
	factor, _ := fs.GetString("factor")
	termDays, _ := fs.GetInt("term-days")
	if amount != "" || factor != "" || termDays > 0 {
		offer := &model.OfferTerms{TermDays: termDays}
		var err error
		if amount != "" {
			if offer.Amount, err = decimal.NewFromString(amount); err != nil {
				return resp, eris.Wrap(err, "parse --amount")
			}
		}
		if factor != "" {
			if offer.Factor, err = decimal.NewFromString(factor); err != nil {
				return resp, eris.Wrap(err, "parse --factor")
			}
		}
		resp.Offer = offer
	}
	return resp, nil
}

func addResponseFlags(fs *pflag.FlagSet) {
	fs.String("status", "", "OFFER, DECLINED or FUNDED (required)")
	fs.String("reason", "", "decline reason")
	fs.String("raw-file", "", "file holding the lender's raw reply")
	fs.String("amount", "", "offered amount")
	fs.String("factor", "", "offered factor rate")
	fs.Int("term-days", 0, "offered term in days")
}

func formatSubmissions(w io.Writer, recs []model.SubmissionRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREQUEST\tLENDER\tSTATUS\tCREATED\tDETAIL")
	for _, r := range recs {
		detail := ""
		switch {
		case r.ErrorMessage != nil:
			detail = *r.ErrorMessage
		case r.DeclineReason != nil:
			detail = *r.DeclineReason
		case r.Offer != nil:
			detail = fmt.Sprintf("%s @ %s / %dd", r.Offer.Amount.StringFixed(2), r.Offer.Factor.String(), r.Offer.TermDays)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.RequestID, r.LenderName, r.Status, r.CreatedAt.Format("2006-01-02 15:04"), truncate(detail, 60))
	}
	tw.Flush() //nolint:errcheck
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	submissionsListCmd.Flags().String("request", "", "filter by funding request id")
	submissionsListCmd.Flags().String("lender", "", "filter by lender name")
	submissionsListCmd.Flags().StringSlice("status", nil, "filter by status (comma separated)")
	submissionsListCmd.Flags().Int("limit", 50, "maximum rows")

	addResponseFlags(submissionsRespondCmd.Flags())
	_ = submissionsRespondCmd.MarkFlagRequired("status")

	submissionsCmd.AddCommand(submissionsListCmd, submissionsRespondCmd)
	rootCmd.AddCommand(submissionsCmd)
}
