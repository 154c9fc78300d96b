package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"metarecord/internal/config"
	"metarecord/internal/infrastructure/audit"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the audit table",
	Long:  `Create the sys_audit table used by the change recorder if it does not exist.`,
	Args:  cobra.NoArgs,
	Run:   runInit,
}

func runInit(cmd *cobra.Command, args []string) {
	ctx := commandContext()
	c := initContext(ctx)
	defer c.Close()

	ddl := audit.SQLiteSchema
	if c.Config.Database.Driver == config.DriverPostgres {
		ddl = audit.PostgresSchema
	}
	if err := c.exec(ctx, ddl); err != nil {
		exitError("failed to create audit table: %v", err)
	}
	color.Green("Created %s", audit.DefaultTable)
}
