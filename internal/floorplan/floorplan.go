// Package floorplan describes the static building layout published by the
// ESPresense companion and turns it into line outlines for the viewer.
package floorplan

// Floor is one storey. Bounds holds two corners; Z of the first is the
// base elevation and Z of the second the ceiling.
type Floor struct {
	ID     string       `json:"id,omitempty"`
	Name   string       `json:"name,omitempty"`
	Bounds [][3]float64 `json:"bounds"`
	Rooms  []Room       `json:"rooms"`
}

// Room is a named polygon in the floor's XY plane.
type Room struct {
	ID     string       `json:"id,omitempty"`
	Name   string       `json:"name"`
	Points [][2]float64 `json:"points"`
}

// Base returns the floor's base elevation, 0 when bounds are missing.
func (f Floor) Base() float64 {
	if len(f.Bounds) < 1 {
		return 0
	}
	return f.Bounds[0][2]
}

// Ceiling returns the floor's ceiling elevation, falling back to the base.
func (f Floor) Ceiling() float64 {
	if len(f.Bounds) < 2 {
		return f.Base()
	}
	return f.Bounds[1][2]
}
