package report

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/chainstat/pkg/convergence"
)

const (
	rhatPrecision = 4
	notAvailable  = "n/a"
)

// palette holds the colors of one rendering. Colors are forced on or off per
// instance so that the package-level color.NoColor is never touched.
type palette struct {
	title *color.Color
	bad   *color.Color
	warn  *color.Color
	good  *color.Color
	muted *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		title: color.New(color.FgBlue, color.Bold),
		bad:   color.New(color.FgRed),
		warn:  color.New(color.FgYellow),
		good:  color.New(color.FgGreen),
		muted: color.New(color.FgHiBlack),
	}

	for _, c := range []*color.Color{p.title, p.bad, p.warn, p.good, p.muted} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return p
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false

	return tbl
}

func writeText(w io.Writer, rep *convergence.Report, opts Options) error {
	pal := newPalette(opts.Color)
	sum := rep.Summary()

	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", pal.title.Sprintf("Convergence of %d chains (threshold %s)",
		len(rep.Chains), formatRHat(rep.Threshold)))

	if flagged := rep.Flagged(); len(flagged) > 0 {
		tbl := newTable()
		tbl.AppendHeader(table.Row{"Series", "Variable", "R-hat"})

		for _, res := range flagged {
			tbl.AppendRow(table.Row{res.Name, res.Variable, pal.bad.Sprint(formatRHat(res.RHat))})
		}

		fmt.Fprintf(&b, "\n%s\n%s\n", pal.bad.Sprint("Not converged"), tbl.Render())
	}

	if undefined := rep.Undefined(); len(undefined) > 0 {
		tbl := newTable()
		tbl.AppendHeader(table.Row{"Series", "Variable", "Reason"})

		for _, res := range undefined {
			tbl.AppendRow(table.Row{res.Name, res.Variable, res.Err.Error()})
		}

		fmt.Fprintf(&b, "\n%s\n%s\n", pal.warn.Sprint("Undefined"), tbl.Render())
	}

	fmt.Fprintf(&b, "\n%d series, %d flagged, %d undefined, %d infinite, "+
		"max R-hat %s, median R-hat %s, mean R-hat %s %s\n",
		sum.Series, sum.Flagged, sum.Undefined, sum.Infinite,
		formatRHat(sum.MaxRHat), formatRHat(sum.MedianRHat), formatRHat(sum.MeanRHat),
		pal.muted.Sprintf("(%s)", rep.Elapsed))

	if rep.Converged() {
		fmt.Fprintf(&b, "%s\n", pal.good.Sprint("All series converged."))
	} else {
		fmt.Fprintf(&b, "%s\n", pal.bad.Sprintf("%d series have not converged.", sum.Flagged))
	}

	_, err := io.WriteString(w, b.String())
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}

func formatRHat(v float64) string {
	switch {
	case math.IsNaN(v):
		return notAvailable
	case math.IsInf(v, 1):
		return "+Inf"
	default:
		return strconv.FormatFloat(v, 'f', rhatPrecision, 64)
	}
}
