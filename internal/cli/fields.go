package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var fieldsCmd = &cobra.Command{
	Use:   "fields <table>",
	Short: "Show the columns of a table",
	Long:  `Show the columns of a table and whether its rows are soft deleted.`,
	Args:  cobra.ExactArgs(1),
	Run:   runFields,
}

func runFields(cmd *cobra.Command, args []string) {
	ctx := commandContext()
	c := initContext(ctx)
	defer c.Close()

	info, err := c.model(args[0]).Table(ctx)
	if err != nil {
		exitError("failed to read table %s: %v", args[0], err)
	}

	bold := color.New(color.Bold)
	bold.Printf("%s\n", info.Table)
	for _, f := range info.Fields {
		marker := ""
		if f == c.Config.Model.DeleteTimeField {
			marker = color.YellowString(" (soft delete)")
		}
		fmt.Printf("  %s%s\n", f, marker)
	}
	if info.SoftDelete {
		color.Green("soft delete: enabled")
	} else {
		fmt.Println("soft delete: disabled")
	}
}
