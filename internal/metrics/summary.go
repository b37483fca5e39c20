package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
)

// EpochResult is everything a run learns about one epoch.
type EpochResult struct {
	Epoch     int
	TrainLoss float64
	Eval      EvalResult
	Elapsed   time.Duration
	Best      bool
	Saved     []string
}

// Summary renders the per-epoch results of a run as a table.
func Summary(w io.Writer, results []EpochResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"EPOCH", "TRAIN LOSS", "VAL LOSS", "ACCURACY", "TIME", "BEST"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	for _, r := range results {
		best := ""
		if r.Best {
			best = "*"
		}
		table.Append([]string{
			fmt.Sprintf("%d", r.Epoch),
			fmt.Sprintf("%.6f", r.TrainLoss),
			fmt.Sprintf("%.6f", r.Eval.MeanLoss()),
			fmt.Sprintf("%.3f%%", r.Eval.Accuracy()),
			r.Elapsed.Round(time.Millisecond).String(),
			best,
		})
	}
	table.Render()
}
