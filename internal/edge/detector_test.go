// Copyright (C) 2026  The CrossDesk Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package edge

import "testing"

func samples(xs ...float64) []Sample {
	out := make([]Sample, len(xs))
	for i, x := range xs {
		out[i] = Sample{X: x, Y: 400}
	}
	return out
}

func TestDetectFiresOnConsistentLeftwardApproachToLeftEdge(t *testing.T) {
	hist := samples(50, 40, 30, 20, 10)
	cur := Sample{X: 0, Y: 400}
	dir := Detect(hist, cur, 1920, 1080, false, DetectorConfig{MinSamples: 6})
	if dir != Left {
		t.Fatalf("expected Left, got %v", dir)
	}
}

func TestDetectRequiresMinimumSamples(t *testing.T) {
	hist := samples(10, 5)
	cur := Sample{X: 0, Y: 400}
	dir := Detect(hist, cur, 1920, 1080, false, DetectorConfig{MinSamples: 6})
	if dir != None {
		t.Fatalf("expected None below MinSamples, got %v", dir)
	}
}

func TestDetectSuppressedWhileDragging(t *testing.T) {
	hist := samples(50, 40, 30, 20, 10)
	cur := Sample{X: 0, Y: 400}
	dir := Detect(hist, cur, 1920, 1080, true, DetectorConfig{MinSamples: 6})
	if dir != None {
		t.Fatalf("expected None while dragging, got %v", dir)
	}
}

func TestDetectRequiresEdgeProximity(t *testing.T) {
	hist := samples(500, 400, 300, 200, 100)
	cur := Sample{X: 90, Y: 400}
	dir := Detect(hist, cur, 1920, 1080, false, DetectorConfig{MinSamples: 6})
	if dir != None {
		t.Fatalf("expected None when nowhere near the edge, got %v", dir)
	}
}

func TestDetectXAxisTakesPriorityOverY(t *testing.T) {
	hist := []Sample{{50, 50}, {40, 40}, {30, 30}, {20, 20}, {10, 10}}
	cur := Sample{X: 0, Y: 0}
	dir := Detect(hist, cur, 1920, 1080, false, DetectorConfig{MinSamples: 6})
	if dir != Left {
		t.Fatalf("expected Left (X-axis priority) at the corner, got %v", dir)
	}
}

func TestNormalizeEntryConvention(t *testing.T) {
	cases := []struct {
		dir    Direction
		x, y   float64
		w, h   float64
		wx, wy float64
	}{
		{Left, 0, 270, 1920, 1080, 1.0, 0.25},
		{Right, 1919, 540, 1920, 1080, 0.0, 0.5},
		{Top, 960, 0, 1920, 1080, 0.5, 1.0},
		{Bottom, 480, 1079, 1920, 1080, 0.25, 0.0},
	}
	for _, c := range cases {
		nx, ny := NormalizeEntry(c.dir, c.x, c.y, c.w, c.h)
		if nx != c.wx || ny != c.wy {
			t.Fatalf("NormalizeEntry(%v): got (%v,%v), want (%v,%v)", c.dir, nx, ny, c.wx, c.wy)
		}
	}
}

func TestClamp(t *testing.T) {
	x, y := Clamp(-5, 2000, 1920, 1080)
	if x != 0 || y != 1079 {
		t.Fatalf("Clamp: got (%v,%v), want (0,1079)", x, y)
	}
}
