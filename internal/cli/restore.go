package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <table> <key>...",
	Short: "Restore soft-deleted rows",
	Long: `Clear the soft delete marker of the given rows. Rows that are not
trashed, or tables without a soft delete column, are reported as skipped.`,
	Args: cobra.MinimumNArgs(2),
	Run:  runRestore,
}

func runRestore(cmd *cobra.Command, args []string) {
	ctx := commandContext()
	c := initContext(ctx)
	defer c.Close()

	m := c.model(args[0])
	pk := m.Definition().PK

	restored := 0
	for _, arg := range args[1:] {
		key, err := keyPredicate(pk, arg)
		if err != nil {
			exitError("%v", err)
		}

		ok, err := m.New(key).Restore(ctx, nil)
		switch {
		case err != nil:
			color.Red("  failed   %s: %v", arg, err)
		case ok:
			restored++
			color.Green("  restored %s", arg)
		default:
			color.Yellow("  skipped  %s", arg)
		}
	}

	fmt.Printf("\n%d of %d row(s) restored\n", restored, len(args)-1)
	c.printStats()
}
