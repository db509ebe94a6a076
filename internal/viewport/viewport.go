// Package viewport translates chart zoom and brush selections into the
// y-axis display domain.
package viewport

import "riskdash/pkg/models"

var domains = map[models.ZoomLevel]models.Domain{
	models.ZoomAll:    {Min: 0, Auto: true},
	models.ZoomHigh:   {Min: 50, Max: 100},
	models.ZoomMedium: {Min: 25, Max: 100},
	models.ZoomLow:    {Min: 0, Max: 50},
}

// DomainFor returns the display domain of a discrete zoom level. Unknown
// levels fall back to the full view.
func DomainFor(level models.ZoomLevel) models.Domain {
	if d, ok := domains[level]; ok {
		return d
	}
	return domains[models.ZoomAll]
}

// Controller holds the chart viewport.
//
// Discrete zoom selections always set the domain. Brush changes only matter
// when they collapse to a single point, which resets the view to all; any
// other brush range is left to the chart widget and does not touch the
// controller's state.
type Controller struct {
	state models.ViewportState
}

// New creates a controller showing all scores.
func New() *Controller {
	c := &Controller{}
	c.Reset()
	return c
}

// SetZoomLevel applies a discrete zoom selection.
func (c *Controller) SetZoomLevel(level models.ZoomLevel) {
	if _, ok := domains[level]; !ok {
		level = models.ZoomAll
	}
	c.state = models.ViewportState{ZoomLevel: level, Domain: DomainFor(level)}
}

// OnBrushChange applies a brush selection. It reports whether the state
// changed.
func (c *Controller) OnBrushChange(r models.BrushRange) bool {
	if r.StartIndex == nil || r.EndIndex == nil {
		return false
	}
	if *r.StartIndex != *r.EndIndex {
		return false
	}
	c.SetZoomLevel(models.ZoomAll)
	return true
}

// State returns the current viewport.
func (c *Controller) State() models.ViewportState {
	return c.state
}

// Reset returns to the full view.
func (c *Controller) Reset() {
	c.SetZoomLevel(models.ZoomAll)
}
