package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/chainstat/pkg/chainstore"
	"github.com/Sumatoshi-tech/chainstat/pkg/safeconv"
)

// StoreView describes one chain store.
type StoreView struct {
	Path      string         `json:"path" yaml:"path"`
	ChainID   string         `json:"chain_id" yaml:"chain_id"`
	RunID     string         `json:"run_id" yaml:"run_id"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	ChainFile string         `json:"chain_file,omitempty" yaml:"chain_file,omitempty"`
	IndexFile string         `json:"index_file,omitempty" yaml:"index_file,omitempty"`
	Size      int64          `json:"size" yaml:"size"`
	Variables []VariableView `json:"variables" yaml:"variables"`
}

// VariableView describes one stored variable.
type VariableView struct {
	Name       string `json:"name" yaml:"name"`
	Shape      []int  `json:"shape" yaml:"shape"`
	Missing    int    `json:"missing" yaml:"missing"`
	Stored     int64  `json:"stored_bytes" yaml:"stored_bytes"`
	Raw        int64  `json:"raw_bytes" yaml:"raw_bytes"`
	Compressed bool   `json:"compressed" yaml:"compressed"`
}

// Inspect builds the view of an open store from its footer.
func Inspect(r *chainstore.Reader) StoreView {
	meta := r.Meta()
	view := StoreView{
		Path:      r.Path(),
		ChainID:   meta.ChainID,
		RunID:     meta.RunID,
		CreatedAt: meta.CreatedAt,
		ChainFile: meta.ChainFile,
		IndexFile: meta.IndexFile,
		Size:      r.Size(),
	}

	for _, name := range r.Variables() {
		e, ok := r.Entry(name)
		if !ok {
			continue
		}

		view.Variables = append(view.Variables, VariableView{
			Name:       e.Name,
			Shape:      e.Shape,
			Missing:    e.Missing,
			Stored:     e.Length + e.BitmapLength,
			Raw:        e.RawLength,
			Compressed: e.Compressed,
		})
	}

	return view
}

// WriteInspect renders store views to w.
func WriteInspect(w io.Writer, views []StoreView, format Format, opts Options) error {
	if format != FormatText {
		return encode(w, views, format)
	}

	pal := newPalette(opts.Color)

	var b strings.Builder

	for i, view := range views {
		if i > 0 {
			b.WriteString("\n")
		}

		fmt.Fprintf(&b, "%s %s\n", pal.title.Sprint(view.ChainID), pal.muted.Sprint(view.Path))
		fmt.Fprintf(&b, "  run %s, created %s, %s on disk\n",
			view.RunID, humanize.Time(view.CreatedAt), humanize.IBytes(safeconv.MustInt64ToUint64(view.Size)))

		tbl := newTable()
		tbl.AppendHeader(table.Row{"Variable", "Shape", "Missing", "Stored", "Raw"})

		for _, v := range view.Variables {
			missing := pal.good.Sprint("0")
			if v.Missing > 0 {
				missing = pal.warn.Sprint(humanize.Comma(int64(v.Missing)))
			}

			tbl.AppendRow(table.Row{
				v.Name,
				formatShape(v.Shape),
				missing,
				humanize.IBytes(safeconv.MustInt64ToUint64(v.Stored)),
				humanize.IBytes(safeconv.MustInt64ToUint64(v.Raw)),
			})
		}

		b.WriteString(tbl.Render())
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	if err != nil {
		return fmt.Errorf("write inspect: %w", err)
	}

	return nil
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}

	return "(" + strings.Join(parts, ", ") + ")"
}
