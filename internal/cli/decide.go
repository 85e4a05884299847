package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/splitd/internal/decision"
)

var decideCmd = &cobra.Command{
	Use:   "decide <experiment> <visitor>",
	Short: "Resolve a visitor against an experiment",
	Long: `Resolve a visitor the way the decision API does and print the result.
A new assignment is stored when the visitor is admitted for the first time.
No exposure event is recorded.

Examples:
  splitd decide checkout-button visitor-42
  splitd decide checkout-button visitor-42 --user user-7 --json`,
	Args: cobra.ExactArgs(2),
	RunE: runDecide,
}

var (
	decideUser string
	decideJSON bool
)

func init() {
	rootCmd.AddCommand(decideCmd)
	decideCmd.Flags().StringVarP(&decideUser, "user", "u", "", "Authenticated user id to store with the assignment")
	decideCmd.Flags().BoolVar(&decideJSON, "json", false, "Print the decision as JSON")
}

type decisionOutput struct {
	ExperimentID    string         `json:"experiment_id"`
	Enabled         bool           `json:"enabled"`
	Variant         *variantOutput `json:"variant"`
	IsNewAssignment bool           `json:"isNewAssignment"`
	Reason          string         `json:"reason,omitempty"`
}

type variantOutput struct {
	ID     string          `json:"id"`
	Key    string          `json:"key"`
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

func runDecide(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := NewAppContext(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	req := decision.Request{ExperimentKey: args[0], VisitorID: args[1]}
	if decideUser != "" {
		req.UserID = &decideUser
	}
	d := app.DecisionService(nil, nil).Decide(ctx, req)

	out := cmd.OutOrStdout()
	if decideJSON {
		o := decisionOutput{
			ExperimentID:    d.ExperimentID,
			Enabled:         d.Enabled,
			IsNewAssignment: d.IsNewAssignment,
			Reason:          string(d.Reason),
		}
		if d.Variant != nil {
			o.Variant = &variantOutput{ID: d.Variant.ID, Key: d.Variant.Key, Name: d.Variant.Name, Config: d.Variant.Config}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}

	if !d.Enabled {
		fmt.Fprintf(out, "Disabled: %s\n", d.Reason)
		return nil
	}
	state := "existing assignment"
	if d.IsNewAssignment {
		state = "new assignment"
	}
	fmt.Fprintf(out, "Variant: %s (%s)\n", d.Variant.Key, state)
	if len(d.Variant.Config) > 0 {
		fmt.Fprintf(out, "Config:  %s\n", d.Variant.Config)
	}
	return nil
}
