package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/transit-data-tools/transitperf/measures"
)

// AdherenceHistogram renders the distribution of arrival deviations, in
// minutes, for one route's visits.
func AdherenceHistogram(visits []measures.StopVisit, routeID, path string) error {
	var vals plotter.Values
	for i := range visits {
		if visits[i].RouteID != routeID {
			continue
		}
		vals = append(vals, visits[i].ArrivalDeviation.Minutes())
	}
	return histogram(vals, fmt.Sprintf("Route %s schedule adherence", routeID),
		"Arrival deviation (min)", path)
}

// HeadwayHistogram renders the distribution of observed headways, in
// minutes, for one route's visits.
func HeadwayHistogram(visits []measures.StopVisit, routeID, path string) error {
	var vals plotter.Values
	for i := range visits {
		if visits[i].RouteID != routeID || !visits[i].HasHeadway {
			continue
		}
		vals = append(vals, visits[i].Headway.Minutes())
	}
	return histogram(vals, fmt.Sprintf("Route %s headways", routeID),
		"Headway (min)", path)
}

// RenderRouteCharts writes adherence and headway PNGs per route under
// dir. Routes with no plottable values are skipped.
func RenderRouteCharts(dir string, visits []measures.StopVisit) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("report: create %s: %w", dir, err)
	}
	seen := map[string]bool{}
	var routes []string
	for i := range visits {
		if r := visits[i].RouteID; !seen[r] {
			seen[r] = true
			routes = append(routes, r)
		}
	}
	sort.Strings(routes)

	for _, route := range routes {
		adh := filepath.Join(dir, fmt.Sprintf("adherence_%s.png", route))
		if err := AdherenceHistogram(visits, route, adh); err != nil && err != errNoValues {
			return err
		}
		hw := filepath.Join(dir, fmt.Sprintf("headway_%s.png", route))
		if err := HeadwayHistogram(visits, route, hw); err != nil && err != errNoValues {
			return err
		}
	}
	return nil
}

var errNoValues = fmt.Errorf("report: no values to plot")

func histogram(vals plotter.Values, title, xLabel, path string) error {
	if len(vals) == 0 {
		return errNoValues
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "Stop visits"

	h, err := plotter.NewHist(vals, 24)
	if err != nil {
		return fmt.Errorf("report: build histogram: %w", err)
	}
	p.Add(h)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("report: save %s: %w", path, err)
	}
	return nil
}
