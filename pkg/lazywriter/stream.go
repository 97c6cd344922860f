package lazywriter

// streamFlags is the bitset spec.md's [STREAM] carries.
type streamFlags uint32

const (
	// flagWriteQueued marks a stream that already has a WriteBehind job
	// in flight; the scan skips it until the job completes (a requeued job
	// keeps the flag set).
	flagWriteQueued streamFlags = 1 << iota
	// flagModifiedWriteDisabled marks a metadata-like stream that is
	// normally exempt from every-tick flushing.
	flagModifiedWriteDisabled
	// flagWaitingForTeardown marks a stream whose owner is tearing it
	// down; while it has dirty pages it is eligible on every tick and is
	// dispatched on the express queue.
	flagWaitingForTeardown
	// flagIsCursor marks the inventory's cursor sentinel. It is never set
	// on a real stream descriptor.
	flagIsCursor
	// flagTemporaryFile marks a stream backed by a temporary file. While
	// it still has open handles, the scan flushes it only when the
	// collaborator's CanIWrite reports back-pressure.
	flagTemporaryFile
)

func (f streamFlags) has(bit streamFlags) bool { return f&bit != 0 }

// StreamDescriptor is one entry in the dirty-stream inventory. Every field
// is mutated only while the owning [LazyWriter]'s master lock is held; the
// type carries no lock of its own.
type StreamDescriptor struct {
	// ID identifies the stream for logging, metrics, and lookup. It has no
	// meaning to the algorithm itself.
	ID string

	DirtyPages   int64
	PagesToWrite int64
	OpenCount    int64
	FileSize     uint64

	Flags streamFlags

	lazyWritePassCount uint32

	// next/prev link this descriptor into the inventory's circular list.
	// Both are nil for a descriptor that has not been inserted.
	next, prev *StreamDescriptor
}

// NewStreamDescriptor returns a descriptor not yet linked into any
// inventory.
func NewStreamDescriptor(id string) *StreamDescriptor {
	return &StreamDescriptor{ID: id}
}

func (s *StreamDescriptor) linked() bool { return s.next != nil }
