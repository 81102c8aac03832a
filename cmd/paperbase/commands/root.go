// Package commands implements the paperbase CLI subcommands.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/paperbase/paperbase/cmd/paperbase/ui"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "paperbase",
	Short: "Paperbase - organize PDFs into searchable knowledge bases",
	Long: `Paperbase manages knowledge bases of PDF documents. Scanned PDFs are
queued for OCR conversion into searchable PDFs; born-digital PDFs are
registered as-is. Conversion state and progress are persisted so a later
run always sees where the queue left off.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(noColor, verbose)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
