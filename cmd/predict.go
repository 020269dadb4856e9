package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/predictor"
	"github.com/sells-group/mca-router/internal/report"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict lender success for a deal",
	Long:  "Scores one or more lenders against deal criteria. Several --lender flags return a ranked list.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		lenders, _ := cmd.Flags().GetStringArray("lender")
		if len(lenders) == 0 {
			return eris.New("at least one --lender is required")
		}
		criteria, err := criteriaFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		e, err := initEnv(ctx, "")
		if err != nil {
			return err
		}
		defer e.Close()

		preds, err := e.Predictor.PredictAll(ctx, lenders, criteria)
		if err != nil {
			return eris.Wrap(err, "predict")
		}

		if path, _ := cmd.Flags().GetString("xlsx"); path != "" {
			meta := report.Meta{Criteria: criteria, GeneratedAt: time.Now()}
			if err := report.SavePredictions(path, preds, meta); err != nil {
				return err
			}
			zap.L().Info("predictions written", zap.String("path", path), zap.Int("lenders", len(preds)))
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSONOut(os.Stdout, preds)
		}
		formatPredictions(os.Stdout, preds)
		return nil
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect lender profiles built from outcome history",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lender profiles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return showProfiles(cmd, false)
	},
}

var profilesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild lender profiles from the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return showProfiles(cmd, true)
	},
}

func showProfiles(cmd *cobra.Command, refresh bool) error {
	ctx := cmd.Context()

	e, err := initEnv(ctx, "")
	if err != nil {
		return err
	}
	defer e.Close()

	load := e.Profiles.Get
	if refresh {
		load = e.Profiles.Refresh
	}
	profiles, err := load(ctx)
	if err != nil {
		return eris.Wrap(err, "profiles")
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSONOut(os.Stdout, profiles)
	}
	if len(profiles) == 0 {
		fmt.Fprintln(os.Stderr, "No lender outcomes recorded.")
		return nil
	}
	formatProfiles(os.Stdout, profiles)
	return nil
}

// criteriaFromFlags reads deal criteria flags. Numeric fields stay nil
// unless their flag was set.
func criteriaFromFlags(fs *pflag.FlagSet) (model.DealCriteria, error) {
	var c model.DealCriteria
	c.Industry, _ = fs.GetString("industry")
	c.State, _ = fs.GetString("state")

	numeric := []struct {
		flag string
		dst  **float64
	}{
		{"revenue", &c.MonthlyRevenue},
		{"fico", &c.FICO},
		{"tib", &c.TimeInBusiness},
		{"withhold", &c.DailyWithhold},
		{"positions", &c.ExistingPositions},
	}
	for _, n := range numeric {
		if !fs.Changed(n.flag) {
			continue
		}
		v, err := fs.GetFloat64(n.flag)
		if err != nil {
			return c, eris.Wrapf(err, "flag --%s", n.flag)
		}
		*n.dst = model.Float(v)
	}
	return c, nil
}

func addCriteriaFlags(fs *pflag.FlagSet) {
	fs.String("industry", "", "deal industry")
	fs.String("state", "", "deal state code")
	fs.Float64("revenue", 0, "monthly revenue")
	fs.Float64("fico", 0, "owner FICO score")
	fs.Float64("tib", 0, "time in business in months")
	fs.Float64("withhold", 0, "daily withhold amount")
	fs.Float64("positions", 0, "existing advance positions")
}

func formatPredictions(w io.Writer, preds []model.Prediction) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tLENDER\tSUCCESS\tCONFIDENCE\tDATA POINTS\tFACTORS")
	for i, p := range preds {
		rate := "-"
		if p.SuccessRate != nil {
			rate = fmt.Sprintf("%d%%", *p.SuccessRate)
		}
		factors := strings.Join(p.Factors, "; ")
		if p.Reason != "" {
			factors = p.Reason
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", i+1, p.Lender, rate, p.Confidence, p.DataPoints, factors)
	}
	tw.Flush() //nolint:errcheck
}

func formatProfiles(w io.Writer, profiles predictor.Profiles) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LENDER\tTOTAL\tAPPROVED\tDECLINED\tINDUSTRIES\tSTATES")
	for _, k := range profiles.Keys() {
		p := profiles[k]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", p.Name, p.Total, p.Approved, p.Declined, len(p.Industries), len(p.States))
	}
	tw.Flush() //nolint:errcheck
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	predictCmd.Flags().StringArray("lender", nil, "lender name (repeatable)")
	predictCmd.Flags().String("xlsx", "", "also write the ranked predictions to this xlsx file")
	predictCmd.Flags().Bool("json", false, "print JSON instead of a table")
	addCriteriaFlags(predictCmd.Flags())
	rootCmd.AddCommand(predictCmd)

	profilesCmd.PersistentFlags().Bool("json", false, "print JSON instead of a table")
	profilesCmd.AddCommand(profilesListCmd, profilesRefreshCmd)
	rootCmd.AddCommand(profilesCmd)
}
