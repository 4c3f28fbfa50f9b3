package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/cyclopcam/propeval/pkg/evaluator"
	"github.com/cyclopcam/propeval/pkg/resultsdb"
	"github.com/cyclopcam/propeval/pkg/scoring"
	"github.com/cyclopcam/propeval/pkg/stats"
	"github.com/cyclopcam/propeval/pkg/taxonomy"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Ratio formats an accuracy, with NaN as "n/a"
func Ratio(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}

func newTable(title string, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(title)
	tw.AppendHeader(header)
	configs := []table.ColumnConfig{}
	for i := 2; i <= len(header); i++ {
		configs = append(configs, table.ColumnConfig{
			Number:      i,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)
	return tw
}

// Splits renders correct/evaluated/accuracy per split, and overall
func Splits(c *scoring.Counters) string {
	tw := newTable("Top-1 accuracy", table.Row{"split", "correct", "evaluated", "accuracy"})
	for _, s := range taxonomy.AllSplits {
		t := c.Split(s)
		tw.AppendRow(table.Row{s.String(), t.Correct, t.Evaluated, Ratio(t.Accuracy())})
	}
	all := c.Overall()
	tw.AppendFooter(table.Row{"all", all.Correct, all.Evaluated, Ratio(all.Accuracy())})
	return tw.Render()
}

// Sizes renders accuracy for every split and size bucket.
// Objects below the smallest bucket are counted in the split totals, but get no column.
func Sizes(c *scoring.Counters) string {
	header := table.Row{"split"}
	for _, b := range scoring.SizeBuckets {
		header = append(header, b.String())
	}
	tw := newTable(fmt.Sprintf("Top-1 accuracy by size (%v areas)", c.Policy), header)
	for _, s := range taxonomy.AllSplits {
		row := table.Row{s.String()}
		for _, b := range scoring.SizeBuckets {
			t := c.Cell(s, b)
			row = append(row, fmt.Sprintf("%v (%v/%v)", Ratio(t.Accuracy()), t.Correct, t.Evaluated))
		}
		tw.AppendRow(row)
	}
	return tw.Render()
}

// Spread describes how accuracy varies between videos.
// Videos with nothing evaluated are excluded.
func Spread(videos []*evaluator.VideoResult) string {
	acc := make([]float64, 0, len(videos))
	for _, v := range videos {
		acc = append(acc, v.Counters.Overall().Accuracy())
	}
	s := stats.Summarize(acc)
	return fmt.Sprintf("Per-video accuracy over %v of %v videos: mean %v, std dev %v, min %v, max %v",
		s.N, len(videos), Ratio(s.Mean), Ratio(s.StdDev), Ratio(s.Min), Ratio(s.Max))
}

// Write prints the full report of a run
func Write(w io.Writer, res *evaluator.Result) error {
	_, err := fmt.Fprintf(w, "%v\n%v\n%v\n", Splits(res.Counters), Sizes(res.Counters), Spread(res.Videos))
	if err != nil {
		return err
	}
	if res.RunID != "" {
		_, err = fmt.Fprintf(w, "Run %v\n", res.RunID)
	}
	return err
}

// Runs renders the runs stored in a results database
func Runs(runs []resultsdb.Run) string {
	tw := newTable("Runs", table.Row{"id", "data source", "strategy", "areas", "matching", "started", "duration"})
	for _, r := range runs {
		duration := "unfinished"
		if !r.Finished.IsZero() {
			duration = r.Finished.Get().Sub(r.Started.Get()).Round(time.Millisecond).String()
		}
		tw.AppendRow(table.Row{r.ID, r.DataSource, r.Strategy, r.AreaPolicy, r.MatchPolicy, r.Started.Get().Format(time.RFC3339), duration})
	}
	return tw.Render()
}
