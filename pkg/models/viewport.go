package models

import (
	"encoding/json"
	"fmt"
)

// ZoomLevel is a discrete chart zoom selection.
type ZoomLevel string

const (
	ZoomAll    ZoomLevel = "all"
	ZoomHigh   ZoomLevel = "high"
	ZoomMedium ZoomLevel = "medium"
	ZoomLow    ZoomLevel = "low"
)

// Domain is the numeric y-axis range of the risk chart. Auto means the
// upper bound follows the data.
type Domain struct {
	Min  float64
	Max  float64
	Auto bool
}

// MarshalJSON renders the domain as [min, max] or [min, "auto"].
func (d Domain) MarshalJSON() ([]byte, error) {
	if d.Auto {
		return json.Marshal([]interface{}{d.Min, "auto"})
	}
	return json.Marshal([]float64{d.Min, d.Max})
}

// UnmarshalJSON accepts the form produced by MarshalJSON.
func (d *Domain) UnmarshalJSON(data []byte) error {
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("domain must have 2 elements, got %d", len(raw))
	}
	lo, ok := raw[0].(float64)
	if !ok {
		return fmt.Errorf("domain min must be a number")
	}
	out := Domain{Min: lo}
	switch hi := raw[1].(type) {
	case float64:
		out.Max = hi
	case string:
		if hi != "auto" {
			return fmt.Errorf("domain max must be a number or \"auto\", got %q", hi)
		}
		out.Auto = true
	default:
		return fmt.Errorf("domain max must be a number or \"auto\"")
	}
	*d = out
	return nil
}

// ViewportState is the chart viewport.
type ViewportState struct {
	ZoomLevel ZoomLevel `json:"zoom_level"`
	Domain    Domain    `json:"domain"`
}

// BrushRange is the selection reported by the chart brush. Either index may
// be absent while the user is still dragging.
type BrushRange struct {
	StartIndex *int `json:"startIndex,omitempty"`
	EndIndex   *int `json:"endIndex,omitempty"`
}
