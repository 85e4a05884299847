package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/registry"
)

var experimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Manage experiments",
	Long:  `Create experiments, add variants, and move them through draft, running, paused and completed.`,
}

var experimentCreateCmd = &cobra.Command{
	Use:   "create <key>",
	Short: "Create a draft experiment",
	Long: `Create a new experiment in draft.

Examples:
  splitd experiment create checkout-button --name "Checkout button color" --traffic 50`,
	Args: cobra.ExactArgs(1),
	RunE: runExperimentCreate,
}

var experimentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments",
	Args:  cobra.NoArgs,
	RunE:  runExperimentList,
}

var experimentShowCmd = &cobra.Command{
	Use:   "show <experiment>",
	Short: "Show an experiment and its variants",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentShow,
}

var experimentVariantCmd = &cobra.Command{
	Use:   "variant <experiment> <key>",
	Short: "Add a variant to a draft experiment",
	Long: `Add a variant to a draft experiment.

Examples:
  splitd experiment variant checkout-button blue --percentage 50 --control
  splitd experiment variant checkout-button green --percentage 50 --config '{"color":"#0f0"}'`,
	Args: cobra.ExactArgs(2),
	RunE: runExperimentVariant,
}

var experimentStartCmd = &cobra.Command{
	Use:   "start <experiment>",
	Short: "Start or resume an experiment",
	Long:  `Start a draft experiment or resume a paused one. Variant percentages must sum to 100.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentTransition(domain.StatusRunning),
}

var experimentPauseCmd = &cobra.Command{
	Use:   "pause <experiment>",
	Short: "Pause a running experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentTransition(domain.StatusPaused),
}

var experimentCompleteCmd = &cobra.Command{
	Use:   "complete <experiment>",
	Short: "Complete an experiment",
	Long:  `Complete an experiment. Completed experiments cannot be restarted.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentTransition(domain.StatusCompleted),
}

var experimentTrafficCmd = &cobra.Command{
	Use:   "traffic <experiment> <percent>",
	Short: "Set the share of visitors admitted into an experiment",
	Args:  cobra.ExactArgs(2),
	RunE:  runExperimentTraffic,
}

var experimentImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import experiments from a YAML file",
	Long: `Import experiments from a YAML definitions file. Use "-" to read stdin.
Experiments whose key already exists are skipped.

Example file:
  experiments:
    - key: checkout-button
      name: Checkout button color
      traffic: 50
      start: true
      variants:
        - {key: blue, name: Blue, percentage: 50, control: true}
        - {key: green, name: Green, percentage: 50, config: {color: "#0f0"}}`,
	Args: cobra.ExactArgs(1),
	RunE: runExperimentImport,
}

// Flags
var (
	expName        string
	expDescription string
	expTraffic     float64

	variantName       string
	variantPercentage float64
	variantConfig     string
	variantControl    bool
)

func init() {
	rootCmd.AddCommand(experimentCmd)

	experimentCmd.AddCommand(experimentCreateCmd)
	experimentCmd.AddCommand(experimentListCmd)
	experimentCmd.AddCommand(experimentShowCmd)
	experimentCmd.AddCommand(experimentVariantCmd)
	experimentCmd.AddCommand(experimentStartCmd)
	experimentCmd.AddCommand(experimentPauseCmd)
	experimentCmd.AddCommand(experimentCompleteCmd)
	experimentCmd.AddCommand(experimentTrafficCmd)
	experimentCmd.AddCommand(experimentImportCmd)
	experimentCmd.AddCommand(experimentStatsCmd)

	experimentCreateCmd.Flags().StringVarP(&expName, "name", "n", "", "Human readable name (defaults to the key)")
	experimentCreateCmd.Flags().StringVarP(&expDescription, "description", "d", "", "Description of the experiment")
	experimentCreateCmd.Flags().Float64VarP(&expTraffic, "traffic", "t", 100, "Percentage of visitors admitted (0-100)")

	experimentVariantCmd.Flags().StringVarP(&variantName, "name", "n", "", "Human readable name (defaults to the key)")
	experimentVariantCmd.Flags().Float64VarP(&variantPercentage, "percentage", "p", 0, "Share of admitted visitors (0-100)")
	experimentVariantCmd.Flags().StringVarP(&variantConfig, "config", "c", "", "JSON payload returned with decisions")
	experimentVariantCmd.Flags().BoolVar(&variantControl, "control", false, "Mark as the control variant")
}

func runExperimentCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := NewAppContext(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	in := registry.CreateExperimentInput{
		Key:               args[0],
		Name:              expName,
		TrafficAllocation: expTraffic,
	}
	if in.Name == "" {
		in.Name = args[0]
	}
	if expDescription != "" {
		in.Description = &expDescription
	}

	exp, err := app.Registry.CreateExperiment(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created experiment %s (%s)\n", exp.Key, exp.ID)
	return nil
}

func runExperimentList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := NewAppContext(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	experiments, err := app.Registry.List(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(experiments) == 0 {
		fmt.Fprintln(out, "No experiments found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSTATUS\tTRAFFIC\tVARIANTS\tSTARTED\tENDED")
	fmt.Fprintln(w, "---\t------\t-------\t--------\t-------\t-----")
	for _, exp := range experiments {
		fmt.Fprintf(w, "%s\t%s\t%g%%\t%d\t%s\t%s\n",
			exp.Key, exp.Status, exp.TrafficAllocation, len(exp.Variants),
			formatDate(exp.StartedAt), formatDate(exp.EndedAt))
	}
	return w.Flush()
}

func runExperimentShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := NewAppContext(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	exp, err := app.Registry.Get(ctx, args[0])
	if err != nil {
		return err
	}
	printExperiment(cmd.OutOrStdout(), exp)
	return nil
}

func printExperiment(out io.Writer, exp *domain.Experiment) {
	fmt.Fprintf(out, "Experiment: %s\n", exp.Key)
	fmt.Fprintf(out, "ID:         %s\n", exp.ID)
	fmt.Fprintf(out, "Name:       %s\n", exp.Name)
	if exp.Description != nil {
		fmt.Fprintf(out, "Desc:       %s\n", *exp.Description)
	}
	fmt.Fprintf(out, "Status:     %s\n", exp.Status)
	fmt.Fprintf(out, "Traffic:    %g%%\n", exp.TrafficAllocation)
	fmt.Fprintf(out, "Started:    %s\n", formatDate(exp.StartedAt))
	fmt.Fprintf(out, "Ended:      %s\n", formatDate(exp.EndedAt))

	if len(exp.Variants) == 0 {
		fmt.Fprintln(out, "\nNo variants")
		return
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tNAME\tSHARE\tCONTROL\tCONFIG")
	for _, v := range exp.Variants {
		control := ""
		if v.IsControl {
			control = "yes"
		}
		config := "-"
		if len(v.Config) > 0 {
			config = string(v.Config)
		}
		fmt.Fprintf(w, "%s\t%s\t%g%%\t%s\t%s\n", v.Key, v.Name, v.TrafficPercentage, control, config)
	}
	_ = w.Flush()
}

func runExperimentVariant(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := NewAppContext(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	in := registry.AddVariantInput{
		Key:               args[1],
		Name:              variantName,
		TrafficPercentage: variantPercentage,
		IsControl:         variantControl,
	}
	if in.Name == "" {
		in.Name = args[1]
	}
	if variantConfig != "" {
		in.Config = json.RawMessage(variantConfig)
	}

	v, err := app.Registry.AddVariant(ctx, args[0], in)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added variant %s (%g%%) to %s\n", v.Key, v.TrafficPercentage, args[0])
	return nil
}

func runExperimentTransition(next domain.Status) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := NewAppContext(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		var exp *domain.Experiment
		switch next {
		case domain.StatusRunning:
			exp, err = app.Registry.Start(ctx, args[0])
		case domain.StatusPaused:
			exp, err = app.Registry.Pause(ctx, args[0])
		default:
			exp, err = app.Registry.Complete(ctx, args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Experiment %s is now %s\n", exp.Key, exp.Status)
		return nil
	}
}

func runExperimentTraffic(cmd *cobra.Command, args []string) error {
	pct, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid percentage: %s", args[1])
	}

	ctx := cmd.Context()
	app, err := NewAppContext(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	exp, err := app.Registry.SetTrafficAllocation(ctx, args[0], pct)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Experiment %s now admits %g%% of visitors\n", exp.Key, exp.TrafficAllocation)
	return nil
}

func runExperimentImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open definitions: %w", err)
		}
		defer f.Close()
		r = f
	}
	defs, err := registry.ParseDefinitions(r)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := NewAppContext(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Registry.Import(ctx, defs)
	out := cmd.OutOrStdout()
	if result != nil {
		for _, exp := range result.Created {
			fmt.Fprintf(out, "Created %s (%s, %d variants)\n", exp.Key, exp.Status, len(exp.Variants))
		}
		for _, key := range result.Skipped {
			fmt.Fprintf(out, "Skipped %s (already exists)\n", key)
		}
	}
	return err
}
