package floorplan

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestBuildOutlines_WallAndCeilingLayout(t *testing.T) {
	floors := []Floor{{
		Name:   "ground",
		Bounds: [][3]float64{{0, 0, 0}, {10, 10, 2.5}},
		Rooms: []Room{{
			Name:   "kitchen",
			Points: [][2]float64{{0, 0}, {4, 0}},
		}},
	}}

	got := BuildOutlines(floors, Vec3{X: -12, Y: -10})
	require.Len(t, got, 1)

	want := []Vec3{
		{0, 0, 0}, {0, 0, 2.5}, {0, 0, 0},
		{4, 0, 0}, {4, 0, 2.5}, {4, 0, 0},
		{0, 0, 2.5}, {4, 0, 2.5},
	}
	if diff := cmp.Diff(want, got[0].Points); diff != "" {
		t.Fatalf("points mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, StyleLower, got[0].Style)
	require.Equal(t, Vec3{X: -12, Y: -10}, got[0].Position)
}

func TestBuildOutlines_UnnamedRooms(t *testing.T) {
	square := [][2]float64{{0, 0}, {1, 0}, {1, 1}}
	floors := []Floor{
		{
			Name:   "down",
			Bounds: [][3]float64{{0, 0, 0}, {5, 5, 2.4}},
			Rooms:  []Room{{Name: "", Points: square}, {Name: "hall", Points: square}},
		},
		{
			Name:   "up",
			Bounds: [][3]float64{{0, 0, 2.6}, {5, 5, 5}},
			Rooms:  []Room{{Name: "", Points: square}, {Name: "bed", Points: square}},
		},
	}

	got := BuildOutlines(floors, Vec3{})
	require.Len(t, got, 3)

	require.Equal(t, "", got[0].Room)
	require.Equal(t, StyleLower, got[0].Style)
	require.Equal(t, "hall", got[1].Room)
	require.Equal(t, "bed", got[2].Room)
	require.Equal(t, StyleUpper, got[2].Style)
}

func TestBuildOutlines_ThresholdIsExclusive(t *testing.T) {
	floors := []Floor{{
		Bounds: [][3]float64{{0, 0, CeilingThreshold}, {0, 0, 4}},
		Rooms:  []Room{{Name: "", Points: [][2]float64{{0, 0}}}},
	}}

	got := BuildOutlines(floors, Vec3{})
	require.Len(t, got, 1)
	require.Equal(t, StyleLower, got[0].Style)
}

func TestFloorBounds_Missing(t *testing.T) {
	require.Zero(t, Floor{}.Base())
	require.Equal(t, 1.5, Floor{Bounds: [][3]float64{{0, 0, 1.5}}}.Ceiling())
}
