package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sells-group/mca-router/internal/submission"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Email a funding request package to lenders",
	Long: `Sends the request's documents to every --lender in parallel, best predicted lender first.
A lender is given as "Name" (address from the lender directory) or "Name=email".`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		requestID, _ := cmd.Flags().GetString("request")
		raw, _ := cmd.Flags().GetStringArray("lender")
		docs, _ := cmd.Flags().GetStringArray("doc")
		msg, err := messageFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		e, err := initEnv(ctx, "submit")
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.Orchestrator.SendBatch(ctx, submission.BatchRequest{
			RequestID:   requestID,
			Lenders:     parseCandidates(raw),
			DocumentIDs: docs,
			Message:     msg,
		})
		if err != nil {
			return eris.Wrap(err, "submit")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSONOut(os.Stdout, res)
		}
		formatBatchResult(os.Stdout, res)
		return nil
	},
}

var submitResendCmd = &cobra.Command{
	Use:   "resend <submission-id>",
	Short: "Retry a failed submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		docs, _ := cmd.Flags().GetStringArray("doc")
		msg, err := messageFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		e, err := initEnv(ctx, "submit")
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.Orchestrator.Resend(ctx, args[0], docs, msg)
		if err != nil {
			return eris.Wrap(err, "submit resend")
		}
		if res.Error != "" {
			fmt.Fprintf(os.Stdout, "Resend to %s failed: %s\n", res.Lender, res.Error)
			return nil
		}
		fmt.Fprintf(os.Stdout, "Resent to %s <%s> (submission %s)\n", res.Lender, res.Email, res.SubmissionID)
		return nil
	},
}

// parseCandidates turns "Name" or "Name=email" values into candidates.
func parseCandidates(raw []string) []submission.Candidate {
	out := make([]submission.Candidate, 0, len(raw))
	for _, r := range raw {
		name, email, _ := strings.Cut(r, "=")
		out = append(out, submission.Candidate{
			Name:  strings.TrimSpace(name),
			Email: strings.TrimSpace(email),
		})
	}
	return out
}

func messageFromFlags(fs *pflag.FlagSet) (submission.Message, error) {
	var msg submission.Message
	msg.Subject, _ = fs.GetString("subject")
	msg.Text, _ = fs.GetString("text")
	if path, _ := fs.GetString("html-file"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return msg, eris.Wrap(err, "read html body")
		}
		msg.HTML = string(b)
	}
	return msg, nil
}

func addMessageFlags(fs *pflag.FlagSet) {
	fs.String("subject", "", "email subject")
	fs.String("text", "", "plain text body")
	fs.String("html-file", "", "path to an HTML body")
	fs.StringArray("doc", nil, "document id in the document store (repeatable)")
}

func formatBatchResult(w io.Writer, res *submission.BatchResult) {
	fmt.Fprintf(w, "Request %s: %d sent, %d failed of %d\n", res.RequestID, len(res.Successful), len(res.Failed), res.Total)
	if len(res.MissingDocuments) > 0 {
		fmt.Fprintf(w, "Missing documents: %s\n", strings.Join(res.MissingDocuments, ", "))
	}
	if res.StateError != "" {
		fmt.Fprintf(w, "Request state not updated: %s\n", res.StateError)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LENDER\tEMAIL\tSUBMISSION\tRESULT")
	for _, r := range res.Successful {
		fmt.Fprintf(tw, "%s\t%s\t%s\tsent\n", r.Lender, r.Email, r.SubmissionID)
	}
	for _, r := range res.Failed {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Lender, r.Email, r.SubmissionID, r.Error)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	submitCmd.Flags().String("request", "", "funding request id (required)")
	submitCmd.Flags().StringArray("lender", nil, `lender as "Name" or "Name=email" (repeatable)`)
	submitCmd.Flags().Bool("json", false, "print JSON instead of a table")
	addMessageFlags(submitCmd.Flags())
	_ = submitCmd.MarkFlagRequired("request")

	addMessageFlags(submitResendCmd.Flags())
	submitCmd.AddCommand(submitResendCmd)
	rootCmd.AddCommand(submitCmd)
}
