package types

// Record is a key/value pair crossing the exchange. Both slices belong to
// whoever currently holds the record.
type Record struct {
	Key   []byte
	Value []byte
}

// NewRecord builds a record from strings.
func NewRecord(key, value string) Record {
	return Record{Key: []byte(key), Value: []byte(value)}
}

// Size is the number of payload bytes the record occupies in a slot.
func (r Record) Size() int {
	return len(r.Key) + len(r.Value)
}

// Clone returns a deep copy that shares no memory with r.
func (r Record) Clone() Record {
	return Record{
		Key:   append([]byte(nil), r.Key...),
		Value: append([]byte(nil), r.Value...),
	}
}

func (r Record) String() string {
	return string(r.Key) + "=" + string(r.Value)
}

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// ChannelState is the per-producer mailbox state.
type ChannelState string

const (
	ChannelEmpty    ChannelState = "empty"
	ChannelPending  ChannelState = "pending"
	ChannelFinished ChannelState = "finished"
)
