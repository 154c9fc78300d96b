package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"metarecord/internal/infrastructure/audit"
)

var historyLimit uint64

var historyCmd = &cobra.Command{
	Use:   "history <model> <key>",
	Short: "Show the audit history of a record",
	Long:  `Show the audited changes of one record, newest first. Requires [audit] enabled = true.`,
	Args:  cobra.ExactArgs(2),
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().Uint64VarP(&historyLimit, "limit", "n", 20, "Maximum number of entries")
}

func runHistory(cmd *cobra.Command, args []string) {
	ctx := commandContext()
	c := initContext(ctx)
	defer c.Close()

	if c.Recorder == nil {
		exitError("audit is disabled; set [audit] enabled = true or METARECORD_AUDIT=1")
	}

	entries, err := c.Recorder.History(ctx, args[0], args[1], historyLimit)
	if err != nil {
		exitError("failed to read history: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("No history")
		return
	}

	yellow := color.New(color.FgYellow)
	for _, e := range entries {
		yellow.Printf("%s ", e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		actionColor(e.Action).Printf("%-8s", e.Action)
		if e.UserID != "" {
			fmt.Printf(" by %s", e.UserID)
		}
		fmt.Println()
		fmt.Printf("    %s\n", e.Changes)
	}
}

func actionColor(a audit.Action) *color.Color {
	switch a {
	case audit.ActionCreate, audit.ActionRestore:
		return color.New(color.FgGreen)
	case audit.ActionDelete:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}
