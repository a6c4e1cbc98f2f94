package apgas

import "github.com/jaxonwang/apgas-go/internal/constants"

// Re-export tunables for callers who only import the root package.
const (
	DefaultQueueDepth   = constants.DefaultQueueDepth
	DefaultSegmentLen   = constants.DefaultSegmentLen
	DefaultMaxMedium    = constants.DefaultMaxMedium
	DefaultMaxLong      = constants.DefaultMaxLong
	InvalidPlace        = constants.InvalidPlace
	FlowControlCapacity = constants.FlowControlCapacity
)
