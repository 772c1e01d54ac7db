package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/raysh454/zapctl/internal/history"
	"github.com/raysh454/zapctl/internal/zap"
)

// WriteRuns prints a table of stored runs, newest first as given.
func WriteRuns(w io.Writer, runs []history.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tTARGET\tHIGH\tMED\tLOW\tINFO")
	for _, r := range runs {
		c := r.AlertCounts
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Status, r.Target,
			c[zap.RiskHigh], c[zap.RiskMedium], c[zap.RiskLow], c[zap.RiskInformational])
	}
	return tw.Flush()
}

// WriteDiff prints the header and line diff of two runs.
func WriteDiff(w io.Writer, d *history.RunDiff) error {
	_, err := fmt.Fprintf(w, "base %s -> head %s: %d added, %d removed, %d unchanged\n%s",
		d.BaseID, d.HeadID, len(d.Added), len(d.Removed), d.Unchanged, d.Text)
	return err
}
