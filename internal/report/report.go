// Package report renders convergence reports and chain store listings for
// the terminal, as machine-readable documents, or as HTML charts.
package report

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/Sumatoshi-tech/chainstat/pkg/convergence"
	"github.com/Sumatoshi-tech/chainstat/pkg/persist"
)

// Format selects how a report is written.
type Format string

// Supported output formats.
const (
	FormatText Format = "text"
	FormatJSON Format = persist.FormatJSON
	FormatYAML Format = persist.FormatYAML
)

// ErrUnknownFormat is returned for formats other than text, json and yaml.
var ErrUnknownFormat = errors.New("unknown report format")

// Options controls text rendering.
type Options struct {
	// Color enables ANSI colors. When false, output is always plain.
	Color bool
}

// Document is the serializable view of a convergence report. Non-finite
// statistics are carried as nil with a flag, since JSON has no NaN or Inf.
type Document struct {
	Threshold float64      `json:"threshold" yaml:"threshold"`
	Chains    []string     `json:"chains" yaml:"chains"`
	Converged bool         `json:"converged" yaml:"converged"`
	Elapsed   string       `json:"elapsed" yaml:"elapsed"`
	Summary   SummaryView  `json:"summary" yaml:"summary"`
	Series    []SeriesView `json:"series" yaml:"series"`
}

// SummaryView is the serializable form of convergence.Summary.
// MaxRHat is nil and MaxInfinite set when any series is infinite.
type SummaryView struct {
	Series      int      `json:"series" yaml:"series"`
	Flagged     int      `json:"flagged" yaml:"flagged"`
	Undefined   int      `json:"undefined" yaml:"undefined"`
	Infinite    int      `json:"infinite" yaml:"infinite"`
	MaxRHat     *float64 `json:"max_rhat,omitempty" yaml:"max_rhat,omitempty"`
	MaxInfinite bool     `json:"max_infinite,omitempty" yaml:"max_infinite,omitempty"`
	MedianRHat  *float64 `json:"median_rhat,omitempty" yaml:"median_rhat,omitempty"`
	MeanRHat    *float64 `json:"mean_rhat,omitempty" yaml:"mean_rhat,omitempty"`
}

// SeriesView is one series of a Document.
type SeriesView struct {
	Name     string   `json:"name" yaml:"name"`
	Variable string   `json:"variable" yaml:"variable"`
	Flat     int      `json:"flat" yaml:"flat"`
	RHat     *float64 `json:"rhat" yaml:"rhat"`
	Infinite bool     `json:"infinite,omitempty" yaml:"infinite,omitempty"`
	Flagged  bool     `json:"flagged" yaml:"flagged"`
	Error    string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewDocument builds the serializable view of rep.
func NewDocument(rep *convergence.Report) Document {
	sum := rep.Summary()

	doc := Document{
		Threshold: rep.Threshold,
		Chains:    rep.Chains,
		Converged: rep.Converged(),
		Elapsed:   rep.Elapsed.String(),
		Summary: SummaryView{
			Series:      sum.Series,
			Flagged:     sum.Flagged,
			Undefined:   sum.Undefined,
			Infinite:    sum.Infinite,
			MaxRHat:     finitePtr(sum.MaxRHat),
			MaxInfinite: math.IsInf(sum.MaxRHat, 1),
			MedianRHat:  finitePtr(sum.MedianRHat),
			MeanRHat:    finitePtr(sum.MeanRHat),
		},
		Series: make([]SeriesView, 0, len(rep.Results)),
	}

	for _, res := range rep.Results {
		view := SeriesView{
			Name:     res.Name,
			Variable: res.Variable,
			Flat:     res.Flat,
			RHat:     finitePtr(res.RHat),
			Infinite: math.IsInf(res.RHat, 1),
			Flagged:  res.Flagged,
		}

		if res.Err != nil {
			view.Error = res.Err.Error()
		}

		doc.Series = append(doc.Series, view)
	}

	return doc
}

// Write renders rep to w in the requested format.
func Write(w io.Writer, rep *convergence.Report, format Format, opts Options) error {
	if format == FormatText {
		return writeText(w, rep, opts)
	}

	return encode(w, NewDocument(rep), format)
}

func encode(w io.Writer, doc any, format Format) error {
	codec, err := persist.ForFormat(string(format))
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	return codec.Encode(w, doc)
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}

	return &v
}
