package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"metarecord/internal/core/entity"
	"metarecord/internal/model"
)

var (
	listTrashed     bool
	listOnlyTrashed bool
	listPage        uint64
	listPerPage     uint64
)

var listCmd = &cobra.Command{
	Use:   "list <table>",
	Short: "List rows of a table",
	Long: `List the rows of a table. Soft-deleted rows are hidden unless
--trashed or --only-trashed is given.`,
	Args: cobra.ExactArgs(1),
	Run:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listTrashed, "trashed", false, "Include soft-deleted rows")
	listCmd.Flags().BoolVar(&listOnlyTrashed, "only-trashed", false, "Show only soft-deleted rows")
	listCmd.Flags().Uint64Var(&listPage, "page", 1, "Page number")
	listCmd.Flags().Uint64Var(&listPerPage, "per-page", 20, "Rows per page")
}

func runList(cmd *cobra.Command, args []string) {
	ctx := commandContext()
	c := initContext(ctx)
	defer c.Close()

	m := c.model(args[0])
	info, err := m.Table(ctx)
	if err != nil {
		exitError("failed to read table %s: %v", args[0], err)
	}

	finder := m.Scoped(model.ScopeOptions{})
	switch {
	case listOnlyTrashed:
		finder = finder.OnlyTrashed()
	case listTrashed:
		finder = finder.WithTrashed()
	}

	page, err := finder.Page(ctx, nil, listPage, listPerPage, m.Definition().PK...)
	if err != nil {
		exitError("failed to list %s: %v", args[0], err)
	}

	if len(page.Items) == 0 {
		fmt.Println("No rows")
		return
	}

	color.New(color.Bold).Println(strings.Join(info.Fields, "\t"))
	def := m.Definition()
	deleted := color.New(color.FgRed)
	for _, r := range page.Items {
		cells := make([]string, len(info.Fields))
		for i, f := range info.Fields {
			v, _ := r.Raw(f)
			cells[i] = formatValue(v)
		}
		line := strings.Join(cells, "\t")
		marker, _ := r.Raw(def.DeleteTime)
		if info.SoftDelete && !entity.Equal(marker, def.DefaultSoftDelete) {
			deleted.Println(line)
			continue
		}
		fmt.Println(line)
	}
	fmt.Printf("\npage %d, %d of %d rows\n", page.Page, len(page.Items), page.Total)
	c.printStats()
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(v))
	default:
		return fmt.Sprint(v)
	}
}
