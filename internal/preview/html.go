package preview

import (
	"fmt"
	"io"
	"strconv"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// HTML renders an interactive heat map page. Row 0 of the raster is drawn at the
// top.
func HTML(w io.Writer, o domain.OutputRaster, title string) error {
	s := sample(o, MaxCells)

	cols := make([]string, s.width)
	for i := range cols {
		cols[i] = strconv.Itoa(i * s.stride)
	}
	rows := make([]string, s.height)
	for i := range rows {
		// Category axes grow upwards, so the last category is the top row.
		rows[i] = strconv.Itoa((s.height - 1 - i) * s.stride)
	}

	data := make([]opts.HeatMapData, 0, len(s.cells))
	for _, c := range s.cells {
		data = append(data, opts.HeatMapData{Value: [3]interface{}{c.col, s.height - 1 - c.row, c.value}})
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("crs=%s scale=%g observed=%d stride=%d", o.Grid.CRS, o.Grid.Scale, o.Observed(), s.stride),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: cols, Name: "column", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: rows, Name: "row", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        100,
			InRange:    &opts.VisualMapInRange{Color: ramp},
		}),
	)
	hm.AddSeries(domain.BandRelativeYield, data)

	if err := hm.Render(w); err != nil {
		return fmt.Errorf("render html preview: %w", err)
	}
	return nil
}
