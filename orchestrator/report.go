package orchestrator

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
)

func (o *Orchestrator) printSummary() {

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Unit", "Outcome", "Reason"})
	for _, outcome := range o.outcomes {
		t.AppendRow(table.Row{outcome.Unit, outcome.Kind, outcome.Reason})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d total", o.stats.Total()),
		"",
		fmt.Sprintf("%d passed, %d failed, %d skipped, %d errored",
			o.stats.Passed, o.stats.Failed, o.stats.Skipped, o.stats.Errored),
	})

	t.Render()

}
