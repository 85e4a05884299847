package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "splitd",
	Short: "A/B testing decision service",
	Long: `splitd assigns visitors to experiment variants, records exposures and
conversions, and reports lift and significance per variant.

Configuration is read from SPLITD_* environment variables.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
