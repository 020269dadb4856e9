package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mca-router/internal/directory"
	"github.com/sells-group/mca-router/internal/model"
)

var lendersCmd = &cobra.Command{
	Use:   "lenders",
	Short: "Manage the lender directory",
}

var lendersImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import lenders from a YAML or xlsx file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		lenders, err := directory.Load(args[0])
		if err != nil {
			return err
		}
		if len(lenders) == 0 {
			fmt.Fprintln(os.Stderr, "No lenders in file.")
			return nil
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertLenders(ctx, lenders)
		if err != nil {
			return eris.Wrap(err, "lenders import")
		}
		zap.L().Info("lender import complete",
			zap.String("file", args[0]),
			zap.Int64("upserted", n),
		)
		return nil
	},
}

var lendersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the lender directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lenders, err := st.ListLenders(ctx)
		if err != nil {
			return eris.Wrap(err, "lenders list")
		}
		if len(lenders) == 0 {
			fmt.Fprintln(os.Stderr, "No lenders found.")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tEMAIL\tCC")
		for _, l := range lenders {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", l.Name, l.Email, len(l.CC))
		}
		return tw.Flush()
	},
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Manage funding requests",
}

var requestsPutCmd = &cobra.Command{
	Use:   "put <request-id>",
	Short: "Create or update a funding request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		criteria, err := criteriaFromFlags(cmd.Flags())
		if err != nil {
			return err
		}
		business, _ := cmd.Flags().GetString("business")
		external, _ := cmd.Flags().GetString("external-id")
		start, _ := cmd.Flags().GetString("start-date")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		req := &model.FundingRequest{
			ID:                args[0],
			BusinessName:      business,
			ExternalID:        external,
			BusinessStartDate: start,
			Criteria:          criteria,
		}
		if err := st.UpsertRequest(ctx, req); err != nil {
			return eris.Wrap(err, "requests put")
		}
		zap.L().Info("funding request saved", zap.String("request_id", req.ID))
		return nil
	},
}

func init() {
	lendersCmd.AddCommand(lendersImportCmd, lendersListCmd)
	rootCmd.AddCommand(lendersCmd)

	requestsPutCmd.Flags().String("business", "", "business name")
	requestsPutCmd.Flags().String("external-id", "", "CRM opportunity id")
	requestsPutCmd.Flags().String("start-date", "", "business start date (YYYY-MM-DD)")
	addCriteriaFlags(requestsPutCmd.Flags())
	requestsCmd.AddCommand(requestsPutCmd)
	rootCmd.AddCommand(requestsCmd)
}
