// Package liveness accumulates evidence that a detected face belongs to a
// live subject rather than a printed photo or a screen replay. An Evaluator
// is stateful per capture session: blink and motion counts build up across
// frames and only reset when the session does.
package liveness

import (
	"image"
	"math"
)

// Config tunes the evaluator.
type Config struct {
	// RequiredBlinks and RequiredMovements gate acceptance; meeting either
	// one (plus the texture check) passes.
	RequiredBlinks    int
	RequiredMovements int
	// TextureThreshold is the floor for both mean and standard deviation of
	// the face crop's magnitude spectrum.
	TextureThreshold float64
	// WindowSize is the rolling window length for the blink and motion
	// signals, in frames.
	WindowSize int
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		RequiredBlinks:    1,
		RequiredMovements: 1,
		TextureThreshold:  0.15,
		WindowSize:        5,
	}
}

// Evaluator holds one capture session's liveness state.
type Evaluator struct {
	cfg Config

	blinkCount    int
	movementCount int

	lastCenter *image.Point
	earWindow  []float64
	moveWindow []float64
}

// New creates a fresh evaluator for a capture session.
func New(cfg Config) *Evaluator {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 5
	}
	return &Evaluator{cfg: cfg}
}

// ObserveEyeRatio feeds one eye-aspect-ratio sample. A blink is counted when
// the sample drops below 0.7x the rolling average; the window must be full
// before any blink is judged.
func (e *Evaluator) ObserveEyeRatio(ear float64) bool {
	e.earWindow = append(e.earWindow, ear)
	if len(e.earWindow) > e.cfg.WindowSize {
		e.earWindow = e.earWindow[1:]
	}
	if len(e.earWindow) < e.cfg.WindowSize {
		return false
	}
	if ear < mean(e.earWindow)*0.7 {
		e.blinkCount++
		return true
	}
	return false
}

// ObserveFace feeds one face bounding box. Movement is counted when the
// centroid displacement since the previous frame exceeds 1.2x the rolling
// average displacement.
func (e *Evaluator) ObserveFace(rect image.Rectangle) bool {
	center := image.Pt((rect.Min.X+rect.Max.X)/2, (rect.Min.Y+rect.Max.Y)/2)
	if e.lastCenter == nil {
		e.lastCenter = &center
		return false
	}
	dx := float64(center.X - e.lastCenter.X)
	dy := float64(center.Y - e.lastCenter.Y)
	displacement := math.Hypot(dx, dy)
	e.lastCenter = &center

	e.moveWindow = append(e.moveWindow, displacement)
	if len(e.moveWindow) > e.cfg.WindowSize {
		e.moveWindow = e.moveWindow[1:]
	}
	if len(e.moveWindow) < e.cfg.WindowSize {
		return false
	}
	if displacement > mean(e.moveWindow)*1.2 {
		e.movementCount++
		return true
	}
	return false
}

// Counts exposes the accumulated blink and movement totals.
func (e *Evaluator) Counts() (blinks, movements int) {
	return e.blinkCount, e.movementCount
}

// motionOrBlinkSatisfied reports whether the accumulated counts meet the
// configured requirement.
func (e *Evaluator) motionOrBlinkSatisfied() bool {
	return e.blinkCount >= e.cfg.RequiredBlinks || e.movementCount >= e.cfg.RequiredMovements
}

// Reset clears all session state. Call between capture sessions.
func (e *Evaluator) Reset() {
	e.blinkCount = 0
	e.movementCount = 0
	e.lastCenter = nil
	e.earWindow = nil
	e.moveWindow = nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
