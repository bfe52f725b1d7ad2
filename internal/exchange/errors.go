package exchange

import "errors"

// Run-level errors abort the whole run. Per-record errors are returned to
// the immediate caller only.
var (
	ErrConfigInvalid = errors.New("invalid configuration")
	ErrHandleOpen    = errors.New("failed to open handle")
	ErrSpawn         = errors.New("failed to spawn execution")

	ErrOversizedRecord = errors.New("record larger than one slot")
	ErrBufferTooSmall  = errors.New("destination buffer too small for record")

	ErrAborted          = errors.New("exchange aborted")
	ErrUnknownProducer  = errors.New("unknown producer id")
	ErrProducerFinished = errors.New("producer already finished")

	errReleased = errors.New("exchange released")
)
