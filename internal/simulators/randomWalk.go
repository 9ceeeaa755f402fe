package simulators

import (
	"math"
	"math/rand"
)

// RandomWalk is a value drifting around a mean. Each step moves it by at most a
// tenth of the standard deviation, more likely back towards the mean the farther it is.
type RandomWalk struct {
	mean              float64
	standardDeviation float64
	currentValue      float64
	rnd               *rand.Rand
}

func NewRandomWalk(mean, standardDeviation float64, rnd *rand.Rand) *RandomWalk {
	return &RandomWalk{
		mean:              mean,
		standardDeviation: math.Abs(standardDeviation),
		currentValue:      mean - rnd.Float64()*math.Abs(standardDeviation),
		rnd:               rnd,
	}
}

// Value returns the current value without moving it.
func (w *RandomWalk) Value() float64 { return w.currentValue }

// Next moves the value one step and returns it.
func (w *RandomWalk) Next() float64 {
	// first calculate how much the value will be changed
	valueChange := w.rnd.Float64() * w.standardDeviation / 10
	// second decide if the value is increased or decreased
	w.currentValue += valueChange * w.decideFactor()
	return w.currentValue
}

func (w *RandomWalk) decideFactor() float64 {
	var (
		continueDirection, changeDirection float64
		distance                           float64 // the distance from the mean.
	)
	if w.currentValue > w.mean {
		distance = w.currentValue - w.mean
		continueDirection = 1
		changeDirection = -1
	} else {
		distance = w.mean - w.currentValue
		continueDirection = -1
		changeDirection = 1
	}
	// a distance of zero gives a 50/50 chance to keep the direction
	chance := (w.standardDeviation / 2) - (distance / 50)
	if w.standardDeviation*w.rnd.Float64() < chance {
		return continueDirection
	}
	return changeDirection
}
