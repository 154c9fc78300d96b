package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// printStats prints the operation counters collected during the command.
func (c *cmdContext) printStats() {
	if !showStats || c.Metrics == nil {
		return
	}
	families, err := c.Metrics.Gather()
	if err != nil {
		c.Log.Warnw("failed to gather metrics", "error", err)
		return
	}

	fmt.Println()
	color.New(color.Bold).Println("Operations:")
	for _, mf := range families {
		if !strings.HasSuffix(mf.GetName(), "_record_operations_total") {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			fmt.Printf("  %-40s %v\n", strings.Join(labels, " "), m.GetCounter().GetValue())
		}
	}
}
