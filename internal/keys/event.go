package keys

import (
	"fmt"
	"time"
)

// Event is one physical key transition read from an input device. Events are
// values; once produced they are never modified.
type Event struct {
	Device string // device node path, e.g. /dev/input/event3
	Code   Code
	Value  Value
	Time   time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Code, e.Value)
}
