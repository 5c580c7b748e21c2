package reqflow

// Priority orders requests within a handler's channel. Lower values run
// first; ties are broken by FIFO insertion order. The zero value is
// PriorityHigh.
type Priority float64

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 1
	PriorityLow    Priority = 2
)

// FloatPriority constructs an arbitrary priority value, for callers that
// need finer-grained ordering than the three built-in levels.
func FloatPriority(f float64) Priority {
	return Priority(f)
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "High"
	case PriorityNormal:
		return "Normal"
	case PriorityLow:
		return "Low"
	default:
		return "Custom"
	}
}

// Float64 returns the underlying ordering value, ascending = higher
// priority, for use by the heap-backed channel.
func (p Priority) Float64() float64 {
	return float64(p)
}
