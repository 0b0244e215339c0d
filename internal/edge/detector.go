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

// Package edge implements the Edge-Crossing Coordinator of spec
// section 4.G: the pure edge-detection function, the server-side
// LOCAL/REMOTE state machine, and the client-side INACTIVE/ACTIVE
// state machine.
package edge

// Direction is the edge a cursor crossed, or None if it didn't.
type Direction int

const (
	None Direction = iota
	Left
	Right
	Top
	Bottom
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	case Top:
		return "top"
	case Bottom:
		return "bottom"
	default:
		return "none"
	}
}

// Sample is one recorded (x, y) cursor position.
type Sample struct {
	X, Y float64
}

// DetectorConfig tunes the edge detector. Zero values fall back to the
// spec's defaults.
type DetectorConfig struct {
	DirectionRatio float64 // default 0.85
	MinSamples     int     // default 6 on the server side
	EdgeTolerance  float64 // default 1 (pixel)
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	if c.DirectionRatio <= 0 {
		c.DirectionRatio = 0.85
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 6
	}
	if c.EdgeTolerance <= 0 {
		c.EdgeTolerance = 1
	}
	return c
}

// Detect runs the pure edge-crossing rule of spec 4.G against a
// bounded history of recent samples plus the current position. It
// never mutates history. X-axis edges are checked before Y-axis ones;
// if the X axis fires, Y is not evaluated.
func Detect(history []Sample, current Sample, screenW, screenH float64, dragging bool, cfg DetectorConfig) Direction {
	if dragging {
		return None
	}
	cfg = cfg.withDefaults()

	samples := make([]Sample, 0, len(history)+1)
	samples = append(samples, history...)
	samples = append(samples, current)
	if len(samples) < 2 || len(samples) < cfg.MinSamples {
		return None
	}

	required := cfg.DirectionRatio * float64(len(samples)-1)

	if d := axisDirection(samples, current.X, screenW, cfg.EdgeTolerance, required, func(s Sample) float64 { return s.X }); d != None {
		return d
	}
	return axisDirectionY(samples, current.Y, screenH, cfg.EdgeTolerance, required)
}

func axisDirection(samples []Sample, cur, size, tol, required float64, coord func(Sample) float64) Direction {
	atLow := cur <= tol
	atHigh := cur >= size-1-tol
	if !atLow && !atHigh {
		return None
	}
	var agreeLow, agreeHigh int
	for i := 1; i < len(samples); i++ {
		d := coord(samples[i]) - coord(samples[i-1])
		switch {
		case d < 0:
			agreeLow++
		case d > 0:
			agreeHigh++
		}
	}
	if atLow && float64(agreeLow) >= required {
		return Left
	}
	if atHigh && float64(agreeHigh) >= required {
		return Right
	}
	return None
}

func axisDirectionY(samples []Sample, cur, size, tol, required float64) Direction {
	atTop := cur <= tol
	atBottom := cur >= size-1-tol
	if !atTop && !atBottom {
		return None
	}
	var agreeTop, agreeBottom int
	for i := 1; i < len(samples); i++ {
		d := samples[i].Y - samples[i-1].Y
		switch {
		case d < 0:
			agreeTop++
		case d > 0:
			agreeBottom++
		}
	}
	if atTop && float64(agreeTop) >= required {
		return Top
	}
	if atBottom && float64(agreeBottom) >= required {
		return Bottom
	}
	return None
}

// NormalizeEntry computes the normalized (x, y) at which the cursor
// enters the neighbor screen when crossing dir, per the convention
// table of spec 4.G: the cursor reappears on the opposite edge of the
// client it entered.
func NormalizeEntry(dir Direction, x, y, w, h float64) (nx, ny float64) {
	switch dir {
	case Left:
		return 1.0, y / h
	case Right:
		return 0.0, y / h
	case Top:
		return x / w, 1.0
	case Bottom:
		return x / w, 0.0
	default:
		return 0, 0
	}
}

// Clamp bounds (x, y) to [0, w) x [0, h), used after injected relative
// moves so the injector can't leave the pointer stuck off-screen.
func Clamp(x, y, w, h float64) (float64, float64) {
	if x < 0 {
		x = 0
	}
	if x >= w {
		x = w - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= h {
		y = h - 1
	}
	return x, y
}
