package floorplan

// CeilingThreshold separates upstairs floors from downstairs ones by base
// elevation, in metres.
const CeilingThreshold = 2.2

type Style string

const (
	StyleLower Style = "lower"
	StyleUpper Style = "upper"
)

// Vec3 is a point in the room coordinate frame.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Outline is a single line strip for one room.
type Outline struct {
	Floor    string
	Room     string
	Style    Style
	Points   []Vec3
	Position Vec3
}

// BuildOutlines lays out every room as a line strip. For each vertex the
// strip visits base, ceiling and base again (drawing the wall edge), then
// runs along the ceiling through every vertex. Unnamed rooms are dropped on
// upper floors only. Every outline is placed at origin.
func BuildOutlines(floors []Floor, origin Vec3) []Outline {
	var out []Outline
	for _, floor := range floors {
		base, ceiling := floor.Base(), floor.Ceiling()
		style := StyleLower
		if base > CeilingThreshold {
			style = StyleUpper
		}

		for _, room := range floor.Rooms {
			if style == StyleUpper && room.Name == "" {
				continue
			}

			points := make([]Vec3, 0, len(room.Points)*4)
			for _, p := range room.Points {
				points = append(points,
					Vec3{X: p[0], Y: p[1], Z: base},
					Vec3{X: p[0], Y: p[1], Z: ceiling},
					Vec3{X: p[0], Y: p[1], Z: base},
				)
			}
			for _, p := range room.Points {
				points = append(points, Vec3{X: p[0], Y: p[1], Z: ceiling})
			}

			out = append(out, Outline{
				Floor:    floor.Name,
				Room:     room.Name,
				Style:    style,
				Points:   points,
				Position: origin,
			})
		}
	}
	return out
}
