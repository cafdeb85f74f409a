// Package scene keeps the viewer-side state that a renderer draws: one
// proxy per tracker, a shared pulse and a slowly rotating root.
//
// Apply moves proxies to the positions in a snapshot and Frame advances
// the animation. They touch disjoint fields and may run on different
// goroutines.
package scene

import (
	"sort"
	"sync"

	"espc3d/internal/floorplan"
	"espc3d/internal/pipeline"
)

const (
	PulseMin  = 1.0
	PulseMax  = 1.25
	PulseStep = 0.005

	// RotationStep is added to the root's z rotation every frame.
	RotationStep = 0.002
)

// Origin shifts room coordinates so the floor plan is centred on the root.
var Origin = floorplan.Vec3{X: -12, Y: -10, Z: 0}

// DefaultPalette holds RGB colours handed out to proxies in creation order.
var DefaultPalette = []uint32{0xff2c04, 0x2c2cff, 0x663399, 0x41ff04}

// Proxy is the renderable stand-in for one tracker.
type Proxy struct {
	Name     string
	Color    uint32
	Position floorplan.Vec3
	Scale    float64
}

type Scene struct {
	mu sync.Mutex

	origin   floorplan.Vec3
	palette  []uint32
	rotation floorplan.Vec3

	proxies map[string]*Proxy
	order   []string

	pulse float64
	step  float64
}

// New returns an empty scene. A nil or empty palette falls back to
// DefaultPalette.
func New(palette []uint32) *Scene {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	return &Scene{
		origin:   Origin,
		palette:  append([]uint32(nil), palette...),
		rotation: floorplan.Vec3{X: 5.2, Z: 15.2},
		proxies:  make(map[string]*Proxy),
		pulse:    PulseMin,
		step:     PulseStep,
	}
}

// Apply reconciles one snapshot. Unseen ids get a new proxy, and every id
// in the snapshot has its proxy moved to the reported position. Proxies are
// never removed. It returns the number of proxies created.
func (s *Scene) Apply(snap map[string]pipeline.TrackerRecord) int {
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	s.mu.Lock()
	defer s.mu.Unlock()

	created := 0
	for _, id := range ids {
		rec := snap[id]
		p, ok := s.proxies[id]
		if !ok {
			p = &Proxy{
				Name:  id,
				Color: s.palette[len(s.order)%len(s.palette)],
				Scale: s.pulse,
			}
			s.proxies[id] = p
			s.order = append(s.order, id)
			created++
		}
		p.Position = floorplan.Vec3{X: rec.X, Y: rec.Y, Z: rec.Z}.Add(s.origin)
	}
	return created
}

// Frame advances the pulse, scales every proxy by it and turns the root.
func (s *Scene) Frame() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pulse += s.step
	for _, p := range s.proxies {
		p.Scale = s.pulse
	}
	if s.pulse >= PulseMax {
		s.step = -PulseStep
	}
	if s.pulse <= PulseMin {
		s.step = PulseStep
	}
	s.rotation.Z += RotationStep
}

// Proxies returns copies of all proxies in creation order.
func (s *Scene) Proxies() []Proxy {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Proxy, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.proxies[id])
	}
	return out
}

func (s *Scene) Proxy(id string) (Proxy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proxies[id]
	if !ok {
		return Proxy{}, false
	}
	return *p, true
}

func (s *Scene) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *Scene) Pulse() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulse
}

// Rotation is the root's current Euler rotation in radians.
func (s *Scene) Rotation() floorplan.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotation
}
