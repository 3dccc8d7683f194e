package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/laserscan/internal/cloud"
	"github.com/banshee-data/laserscan/internal/httputil"
)

// maxChartPoints bounds the points sent to the browser per view.
const maxChartPoints = 20000

// AttachAdminRoutes adds the point cloud chart to the /debug/ page.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("scan-chart", "Top and side view of the current point cloud", http.HandlerFunc(s.handleChart))
}

// handleChart renders a top view (x, y) and a side view (rho, z) of the
// current cloud, coloured by height.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	snap := s.ctl.Snapshot()
	top, side, zMax := chartSeries(snap, maxChartPoints)
	bounds := s.ctl.Settings().Bounds()
	pad := math.Max(math.Abs(bounds.RhoMin), math.Abs(bounds.RhoMax))
	subtitle := fmt.Sprintf("points=%d shown=%d theta=%.2f", snap.Len(), len(top), snap.Theta)

	visual := charts.WithVisualMapOpts(opts.VisualMap{
		Show:       opts.Bool(true),
		Calculable: opts.Bool(true),
		Min:        0,
		Max:        float32(zMax),
		Dimension:  "2",
		InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
	})

	topChart := charts.NewScatter()
	topChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scan", Theme: "dark", Width: "800px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{Title: "Top view", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (mm)", NameLocation: "middle", NameGap: 30}),
		visual,
	)
	topChart.AddSeries("top", top, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))

	sideChart := charts.NewScatter()
	sideChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "800px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{Title: "Side view", Subtitle: "radius against height"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: pad, Name: "rho (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: bounds.HMin, Max: bounds.HMax, Name: "z (mm)", NameLocation: "middle", NameGap: 30}),
		visual,
	)
	sideChart.AddSeries("side", side, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))

	page := components.NewPage()
	page.AddCharts(topChart, sideChart)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// chartSeries samples c down to at most limit points per view. Each value
// carries the height as its third dimension for the visual map.
func chartSeries(c cloud.Cloud, limit int) (top, side []opts.ScatterData, zMax float64) {
	n := c.Len()
	stride := 1
	if limit > 0 && n > limit {
		stride = (n + limit - 1) / limit
	}
	top = make([]opts.ScatterData, 0, n/stride+1)
	side = make([]opts.ScatterData, 0, n/stride+1)
	i := 0
	for _, b := range c.Batches {
		for _, p := range b.Points {
			if i%stride == 0 {
				top = append(top, opts.ScatterData{Value: []interface{}{p.X, p.Y, p.Z}})
				side = append(side, opts.ScatterData{Value: []interface{}{math.Hypot(p.X, p.Y), p.Z, p.Z}})
				zMax = math.Max(zMax, p.Z)
			}
			i++
		}
	}
	return top, side, zMax
}
