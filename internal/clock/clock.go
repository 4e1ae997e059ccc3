package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time so promotion windows and billing periods are
// testable.
type Clock interface {
	Now() time.Time
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
