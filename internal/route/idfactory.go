package route

import (
	"strconv"
	"sync/atomic"

	"github.com/MrSnakeDoc/relay/internal/message"
)

// IDFactory generates ids for definitions that do not carry one.
type IDFactory interface {
	NewID(def *Definition) string
}

// ULIDFactory names routes "route-<ulid>".
type ULIDFactory struct{}

func (ULIDFactory) NewID(*Definition) string { return "route-" + message.NewID() }

// SequenceFactory names routes "route1", "route2", ...
type SequenceFactory struct {
	n atomic.Uint64
}

func (f *SequenceFactory) NewID(*Definition) string {
	return "route" + strconv.FormatUint(f.n.Add(1), 10)
}
