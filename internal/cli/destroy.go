package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var destroyForce bool

var destroyCmd = &cobra.Command{
	Use:   "destroy <table> <key>...",
	Short: "Delete rows",
	Long: `Delete the given rows. Tables with a soft delete column keep the rows
and mark them deleted; --force removes them physically.`,
	Args: cobra.MinimumNArgs(2),
	Run:  runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVarP(&destroyForce, "force", "f", false, "Remove rows even if the table soft deletes")
}

func runDestroy(cmd *cobra.Command, args []string) {
	ctx := commandContext()
	c := initContext(ctx)
	defer c.Close()

	m := c.model(args[0])
	where, err := keysPredicate(m.Definition().PK, args[1:])
	if err != nil {
		exitError("%v", err)
	}

	ok, err := m.Destroy(ctx, where, destroyForce)
	if err != nil {
		exitError("failed to delete from %s: %v", args[0], err)
	}
	if !ok {
		color.Yellow("Nothing deleted")
		c.printStats()
		return
	}

	verb := "deleted"
	if destroyForce {
		verb = "removed"
	}
	color.Green("%s %d key(s) from %s", verb, len(args)-1, args[0])
	c.printStats()
}
