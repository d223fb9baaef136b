package report

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/chainstat/pkg/convergence"
)

const (
	plotTitle     = "Gelman-Rubin convergence"
	plotWidth     = "100%"
	plotHeight    = "560px"
	xAxisRotate   = 45
	plotFilePerm  = 0o644
	convergedHex  = "#91cc75"
	flaggedHex    = "#ee6666"
	thresholdHex  = "#fac858"
	thresholdName = "threshold"
)

// Plot renders a bar chart of every finite statistic in rep as an HTML page.
// Series with an undefined or infinite statistic are listed in the subtitle.
func Plot(w io.Writer, rep *convergence.Report) error {
	labels := make([]string, 0, len(rep.Results))
	data := make([]opts.BarData, 0, len(rep.Results))
	skipped := 0

	for _, res := range rep.Results {
		if res.Undefined() || math.IsInf(res.RHat, 0) {
			skipped++

			continue
		}

		barColor := convergedHex
		if res.Flagged {
			barColor = flaggedHex
		}

		labels = append(labels, res.Name)
		data = append(data, opts.BarData{
			Name:      res.Name,
			Value:     res.RHat,
			ItemStyle: &opts.ItemStyle{Color: barColor},
		})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: plotTitle,
			Width:     plotWidth,
			Height:    plotHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title: plotTitle,
			Subtitle: fmt.Sprintf("%d chains, %d series, %d not plotted",
				len(rep.Chains), len(rep.Results), skipped),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{Rotate: xAxisRotate, Interval: "0"},
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: "R-hat", Scale: opts.Bool(true)}),
	)

	bar.SetXAxis(labels).AddSeries("R-hat", data,
		charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{
			Name:  thresholdName,
			YAxis: rep.Threshold,
		}),
		charts.WithMarkLineStyleOpts(opts.MarkLineStyle{
			Symbol:    []string{"none"},
			LineStyle: &opts.LineStyle{Color: thresholdHex, Type: "dashed"},
		}),
	)

	err := bar.Render(w)
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}

	return nil
}

// WritePlot writes the chart for rep to path.
func WritePlot(path string, rep *convergence.Report) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, plotFilePerm)
	if err != nil {
		return fmt.Errorf("create plot: %w", err)
	}

	renderErr := Plot(file, rep)
	closeErr := file.Close()

	if renderErr != nil {
		return renderErr
	}

	if closeErr != nil {
		return fmt.Errorf("close plot: %w", closeErr)
	}

	return nil
}
