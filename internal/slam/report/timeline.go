package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/slamframe/internal/slam"
)

// verdictLevel maps a verdict onto the timeline's y axis: 2 good, 1 poor,
// 0 failed.
func verdictLevel(r slam.TrackingResult) int {
	switch r {
	case slam.TrackingGood:
		return 2
	case slam.TrackingPoor:
		return 1
	}
	return 0
}

// TimelineCharts builds the verdict and fusion charts for one scene.
func TimelineCharts(sceneID string, reports []slam.FrameReport) []components.Charter {
	frames := make([]string, 0, len(reports))
	raw := make([]opts.LineData, 0, len(reports))
	effective := make([]opts.LineData, 0, len(reports))
	fused := make([]opts.LineData, 0, len(reports))
	relocs := 0
	for _, rep := range reports {
		frames = append(frames, strconv.Itoa(rep.FrameIndex))
		raw = append(raw, opts.LineData{Value: verdictLevel(rep.RawResult)})
		effective = append(effective, opts.LineData{Value: verdictLevel(rep.EffectiveResult)})
		fused = append(fused, opts.LineData{Value: rep.FusedFramesCount})
		if rep.Relocalised() {
			relocs++
		}
	}

	verdicts := charts.NewLine()
	verdicts.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "SLAM timeline", Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Tracking verdict", Subtitle: fmt.Sprintf("scene=%s frames=%d relocalisations=%d", sceneID, len(reports), relocs)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "failed / poor / good", Min: 0, Max: 2}),
	)
	verdicts.SetXAxis(frames).
		AddSeries("raw", raw).
		AddSeries("effective", effective)

	fusion := charts.NewLine()
	fusion.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "300px"}),
		charts.WithTitleOpts(opts.Title{Title: "Fused frames", Subtitle: fmt.Sprintf("scene=%s", sceneID)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
	)
	fusion.SetXAxis(frames).AddSeries("fused", fused)

	return []components.Charter{verdicts, fusion}
}

// WriteTimelineHTML renders the timelines of every recorded scene as one
// HTML page.
func (r *Recorder) WriteTimelineHTML(w io.Writer) error {
	page := components.NewPage()
	for _, id := range r.Scenes() {
		page.AddCharts(TimelineCharts(id, r.Reports(id))...)
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render timeline: %w", err)
	}
	return nil
}

// SaveTimeline writes <dir>/timeline.html.
func (r *Recorder) SaveTimeline(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create plot dir: %w", err)
	}
	file := filepath.Join(dir, "timeline.html")
	f, err := os.Create(file)
	if err != nil {
		return "", err
	}
	if err := r.WriteTimelineHTML(f); err != nil {
		f.Close()
		return "", err
	}
	return file, f.Close()
}
