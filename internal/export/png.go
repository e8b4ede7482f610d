package export

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/fsutil"
	"github.com/banshee-data/serialscope/internal/security"
)

// PNG size: 1920x1080 pixels at the default 96 DPI.
const (
	pngWidth  = 20 * vg.Inch
	pngHeight = 11.25 * vg.Inch
)

// segments splits samples into runs of finite values so NaN shows as a gap.
func segments(samples []channel.Sample) []plotter.XYs {
	var (
		out []plotter.XYs
		cur plotter.XYs
	)
	for _, s := range samples {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: float64(s.Index), Y: s.Value})
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// newPlot builds a line plot of the visible channels of snap.
func newPlot(snap dispatch.Snapshot) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Samples %d to %d", snap.From, snap.To)
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "Value"
	p.Add(plotter.NewGrid())

	for _, s := range snap.Series {
		if !s.Channel.Visible {
			continue
		}
		for i, pts := range segments(s.Samples) {
			line, err := plotter.NewLine(pts)
			if err != nil {
				return nil, fmt.Errorf("channel %d: %w", s.Channel.ID, err)
			}
			line.Color = s.Channel.Color
			line.Width = vg.Points(1)
			p.Add(line)
			if i == 0 {
				p.Legend.Add(s.Channel.Name, line)
			}
		}
	}

	if r, ok := AutoRange(snap); ok {
		p.Y.Min, p.Y.Max = r.Min, r.Max
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePNG renders the visible channels of snap as a 1920x1080 PNG.
func WritePNG(w io.Writer, snap dispatch.Snapshot) error {
	p, err := newPlot(snap)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(pngWidth, pngHeight, "png")
	if err != nil {
		return fmt.Errorf("failed to create png canvas: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// PNGFileName names a plot by the index of the next sample.
func PNGFileName(snap dispatch.Snapshot) string {
	return fmt.Sprintf("%d.png", snap.Index)
}

// SavePNG writes snap to dir through fsys and returns the file path.
func SavePNG(fsys fsutil.FileSystem, dir string, snap dispatch.Snapshot) (string, error) {
	if err := fsys.MkdirAll(dir); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	path := filepath.Join(dir, PNGFileName(snap))
	f, err := fsys.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WritePNG(f, snap); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to save %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", path, err)
	}
	return path, nil
}

// exportExts are the file types written to the export directory.
var exportExts = []string{".csv", ".png"}

// List returns the CSV and PNG files in dir. A missing dir has no exports.
func List(fsys fsutil.FileSystem, dir string) ([]string, error) {
	names, err := fsys.List(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if security.ValidateExportName(name, exportExts...) == nil {
			out = append(out, name)
		}
	}
	return out, nil
}

// Open opens the export called name in dir. Names that are not plain CSV or
// PNG file names are rejected with security.ErrInvalidName.
func Open(fsys fsutil.FileSystem, dir, name string) (io.ReadCloser, error) {
	if err := security.ValidateExportName(name, exportExts...); err != nil {
		return nil, err
	}
	return fsys.Open(filepath.Join(dir, name))
}
