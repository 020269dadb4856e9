package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mca-router/internal/learner"
	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/store"
)

var declinesCmd = &cobra.Command{
	Use:   "declines",
	Short: "Learn lender rules from decline messages",
}

var declinesAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Classify unanalyzed declines and suggest lender rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "learn")
		if err != nil {
			return err
		}
		defer e.Close()

		if id, _ := cmd.Flags().GetString("id"); id != "" {
			res, err := e.Learner.AnalyzeDeclineByID(ctx, id)
			if err != nil {
				return eris.Wrap(err, "declines analyze")
			}
			formatRecordResults(os.Stdout, []learner.RecordResult{*res})
			return nil
		}

		rep, err := e.Learner.AnalyzeDeclines(ctx)
		if err != nil {
			return eris.Wrap(err, "declines analyze")
		}
		if rep.Analyzed == 0 {
			fmt.Fprintln(os.Stderr, "No unanalyzed declines.")
			return nil
		}
		fmt.Fprintf(os.Stdout, "Analyzed %d: %d rules created, %d no rule, %d failed\n",
			rep.Analyzed, rep.RulesCreated, rep.NoRule, rep.Failed)
		if rep.MarkFailed > 0 {
			fmt.Fprintf(os.Stderr, "%d records could not be marked analyzed and will be retried.\n", rep.MarkFailed)
		}
		formatRecordResults(os.Stdout, rep.Results)
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Review lender rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lender rules (pending suggestions by default)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		rules := learner.NewRules(st)

		var list []model.SuggestedRule
		if all, _ := cmd.Flags().GetBool("all"); all {
			lender, _ := cmd.Flags().GetString("lender")
			list, err = rules.List(ctx, store.RuleFilter{LenderName: lender})
		} else {
			list, err = rules.Suggested(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "rules list")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No rules found.")
			return nil
		}
		formatRules(os.Stdout, list)
		return nil
	},
}

var rulesApproveCmd = &cobra.Command{
	Use:   "approve <rule-id>",
	Short: "Activate a suggested rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rule, err := learner.NewRules(st).Approve(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "rules approve")
		}
		fmt.Fprintf(os.Stdout, "Approved %s rule for %s\n", rule.RuleType, rule.LenderName)
		return nil
	},
}

var rulesRejectCmd = &cobra.Command{
	Use:   "reject <rule-id>",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		deleted, err := learner.NewRules(st).Reject(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "rules reject")
		}
		if !deleted {
			fmt.Fprintf(os.Stderr, "Rule %s not found.\n", args[0])
			return nil
		}
		fmt.Fprintf(os.Stdout, "Deleted rule %s\n", args[0])
		return nil
	},
}

func formatRecordResults(w io.Writer, results []learner.RecordResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBMISSION\tLENDER\tOUTCOME\tRULE\tREASON")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.SubmissionID, r.Lender, r.Outcome, r.RuleID, r.Reason)
	}
	tw.Flush() //nolint:errcheck
}

func formatRules(w io.Writer, rules []model.SuggestedRule) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLENDER\tTYPE\tSCOPE\tSOURCE\tACTIVE\tCONFIDENCE\tEXPLANATION")
	for _, r := range rules {
		conf := "-"
		if r.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *r.Confidence)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			r.ID, r.LenderName, r.RuleType, ruleScope(r), r.Source, r.IsActive, conf, truncate(r.Explanation, 60))
	}
	tw.Flush() //nolint:errcheck
}

func ruleScope(r model.SuggestedRule) string {
	switch {
	case r.Industry != nil && r.State != nil:
		return *r.Industry + "/" + *r.State
	case r.Industry != nil:
		return *r.Industry
	case r.State != nil:
		return *r.State
	case r.ConditionField != nil:
		s := *r.ConditionField
		if r.ConditionOperator != nil {
			s += " " + *r.ConditionOperator
		}
		if r.ConditionValue != nil {
			s += " " + *r.ConditionValue
		}
		return s
	default:
		return "-"
	}
}

func init() {
	declinesAnalyzeCmd.Flags().String("id", "", "analyze a single declined submission")
	declinesCmd.AddCommand(declinesAnalyzeCmd)
	rootCmd.AddCommand(declinesCmd)

	rulesListCmd.Flags().Bool("all", false, "list every rule instead of pending suggestions")
	rulesListCmd.Flags().String("lender", "", "filter by lender name (with --all)")
	rulesCmd.AddCommand(rulesListCmd, rulesApproveCmd, rulesRejectCmd)
	rootCmd.AddCommand(rulesCmd)
}
