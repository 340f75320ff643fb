package queue

// Policy decides whether a server's queue should form a lobby and which
// members get picked. Implementations must be deterministic: selection is
// user-visible (who gets left behind).
type Policy interface {
	// Select returns the entries to form into a lobby, or nil when the queue
	// should keep waiting. Entries are passed in FIFO join order.
	Select(serverID int, queued []Entry) []Entry
}

// ThresholdPolicy forms a lobby as soon as Size members are queued, picking
// the Size longest-waiting members (FIFO by join time).
type ThresholdPolicy struct {
	Size int
}

func (p ThresholdPolicy) Select(_ int, queued []Entry) []Entry {
	if p.Size <= 0 || len(queued) < p.Size {
		return nil
	}
	return queued[:p.Size]
}
