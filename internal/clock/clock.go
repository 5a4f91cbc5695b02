package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts time so sweeps and hold windows can be driven in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// New returns the wall clock in UTC.
func New() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(New),
)
