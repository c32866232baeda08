package domain

import (
	"errors"
	"fmt"
	"time"
)

// Reflectance and score band names.
const (
	BandRed        = "red"
	BandNIR        = "nir"
	BandClearScore = "cs_cdf"
	BandNDVI       = "ndvi"
	BandGrass      = "grass"
)

// SceneMeta describes one optical acquisition without its pixels.
type SceneMeta struct {
	ID                    string    `json:"id"`
	Acquired              time.Time `json:"acquired"`
	CloudyPixelPercentage float64   `json:"cloudy_pixel_percentage"`
	Grid                  Grid      `json:"grid"`
}

// Scene is an acquisition with its samples on the evaluation grid.
type Scene struct {
	SceneMeta
	Raster Raster
}

// Collection is an unordered multiset of scenes sharing a band schema.
type Collection []Scene

// MonthWindow is a recurring calendar window. Start may exceed End, in which case
// the window wraps the year boundary (e.g. 11..2 is Nov, Dec, Jan, Feb).
type MonthWindow struct {
	Start time.Month
	End   time.Month
}

// Contains reports whether m falls inside the window.
func (w MonthWindow) Contains(m time.Month) bool {
	if w.Start <= w.End {
		return m >= w.Start && m <= w.End
	}
	return m >= w.Start || m <= w.End
}

// Wraps reports whether the window crosses the year boundary.
func (w MonthWindow) Wraps() bool {
	return w.Start > w.End
}

// SceneFilter selects scenes by footprint, calendar and scene-level cloudiness.
type SceneFilter struct {
	AOI                AOI
	StartYear          int
	EndYear            int
	Months             MonthWindow
	MaxCloudPercentage float64
}

// Validate checks the filter parameters.
func (f SceneFilter) Validate() error {
	if f.StartYear > f.EndYear {
		return fmt.Errorf("start year %d is after end year %d", f.StartYear, f.EndYear)
	}
	if f.Months.Start < time.January || f.Months.Start > time.December {
		return fmt.Errorf("start month %d out of range 1..12", f.Months.Start)
	}
	if f.Months.End < time.January || f.Months.End > time.December {
		return fmt.Errorf("end month %d out of range 1..12", f.Months.End)
	}
	if f.MaxCloudPercentage < 0 || f.MaxCloudPercentage > 100 {
		return fmt.Errorf("cloud filter threshold %v out of range 0..100", f.MaxCloudPercentage)
	}
	if err := f.AOI.Validate(); err != nil {
		return err
	}
	return nil
}

// Match reports whether a scene passes every filter. The year and month tests are
// applied independently to the acquisition date, so the month window recurs in
// every year of the range.
func (f SceneFilter) Match(meta SceneMeta) (bool, error) {
	t := meta.Acquired.UTC()
	if t.Year() < f.StartYear || t.Year() > f.EndYear {
		return false, nil
	}
	if !f.Months.Contains(t.Month()) {
		return false, nil
	}
	if !(meta.CloudyPixelPercentage < f.MaxCloudPercentage) {
		return false, nil
	}
	aoi, err := f.AOI.Reproject(meta.Grid.CRS)
	if err != nil {
		return false, fmt.Errorf("scene %s: %w", meta.ID, err)
	}
	return aoi.Bound().Intersects(meta.Grid.Bound()), nil
}

// ErrJoinMiss is returned by catalogs when a scene has no clear-score layer.
var ErrJoinMiss = errors.New("no clear-score layer for scene")
