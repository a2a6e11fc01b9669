package report

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/slamframe/internal/slam"
)

var (
	trajectoryColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	keyframeColor   = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	relocColor      = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// TrajectoryPlot draws the top-down (x, z) camera path of one scene, with
// keyframes and relocalisations marked.
func TrajectoryPlot(sceneID string, reports []slam.FrameReport) (*plot.Plot, error) {
	if len(reports) == 0 {
		return nil, fmt.Errorf("scene %s: no frames recorded", sceneID)
	}

	path := make(plotter.XYs, 0, len(reports))
	var keyframes, relocs plotter.XYs
	for _, rep := range reports {
		t := rep.Pose.Translation()
		pt := plotter.XY{X: t.X, Y: t.Z}
		path = append(path, pt)
		switch rep.Action {
		case slam.ActionStoreKeyframe:
			keyframes = append(keyframes, pt)
		case slam.ActionRecover:
			relocs = append(relocs, pt)
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Camera trajectory: %s", sceneID)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(path)
	if err != nil {
		return nil, err
	}
	line.Color = trajectoryColor
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("pose", line)

	if len(keyframes) > 0 {
		s, err := plotter.NewScatter(keyframes)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = keyframeColor
		s.GlyphStyle.Shape = draw.TriangleGlyph{}
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
		p.Legend.Add("keyframe", s)
	}
	if len(relocs) > 0 {
		s, err := plotter.NewScatter(relocs)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = relocColor
		s.GlyphStyle.Shape = draw.CrossGlyph{}
		s.GlyphStyle.Radius = vg.Points(4)
		p.Add(s)
		p.Legend.Add("relocalised", s)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteTrajectoryPNG renders a scene's trajectory as PNG.
func WriteTrajectoryPNG(w io.Writer, sceneID string, reports []slam.FrameReport) error {
	p, err := TrajectoryPlot(sceneID, reports)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write trajectory png: %w", err)
	}
	return nil
}

// SaveTrajectories writes <dir>/<scene>_trajectory.png for every recorded
// scene and returns the files written.
func (r *Recorder) SaveTrajectories(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}
	var files []string
	for _, id := range r.Scenes() {
		p, err := TrajectoryPlot(id, r.Reports(id))
		if err != nil {
			return files, err
		}
		file := filepath.Join(dir, fmt.Sprintf("%s_trajectory.png", id))
		if err := p.Save(8*vg.Inch, 6*vg.Inch, file); err != nil {
			return files, fmt.Errorf("save %s: %w", file, err)
		}
		files = append(files, file)
	}
	return files, nil
}
