package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var experimentStatsCmd = &cobra.Command{
	Use:   "stats <experiment>",
	Short: "Show conversion statistics for an experiment",
	Long: `Show exposures, conversions, lift against the control and significance
for every variant.

Examples:
  splitd experiment stats checkout-button`,
	Args: cobra.ExactArgs(1),
	RunE: runExperimentStats,
}

func runExperimentStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := NewAppContext(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.DecisionService(nil, nil).Stats(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	exp := report.Experiment
	fmt.Fprintf(out, "Experiment: %s (%s)\n", exp.Key, exp.Status)
	fmt.Fprintf(out, "Status:     %s\n", report.Report.Status)
	fmt.Fprintf(out, "Threshold:  %s confidence, more than %d exposures per arm\n\n",
		formatPercent(report.Report.Options.ConfidenceThreshold), report.Report.Options.MinSampleSize)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tEXPOSURES\tCONVERSIONS\tRATE\tLIFT\tCONFIDENCE\tSIGNIFICANT")
	fmt.Fprintln(w, "-------\t---------\t-----------\t----\t----\t----------\t-----------")
	for _, row := range report.Report.Variants {
		key := row.VariantID
		if v := exp.VariantByID(row.VariantID); v != nil {
			key = v.Key
		}

		lift, confidence, significant := "-", "-", "-"
		if row.IsControl {
			key += " (control)"
		} else {
			if row.LiftDefined {
				lift = fmt.Sprintf("%+.2f%%", row.Lift*100)
			}
			confidence = formatPercent(row.Confidence)
			significant = "no"
			if row.Significant {
				significant = "yes"
			}
		}

		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			key, row.Exposures, row.Conversions, formatPercent(row.ConversionRate), lift, confidence, significant)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if winner := exp.VariantByID(report.Report.WinnerID); winner != nil {
		fmt.Fprintf(out, "\nWinner: %s\n", winner.Key)
	}
	return nil
}
