package reqflow

import "sync"

// ProgressReporter is implemented by Requests that can report fractional
// completion progress. OwnRequest implements it through OnProgress, fed by
// ReportProgress calls made from its work function (see progress.go).
type ProgressReporter interface {
	OnProgress(fn func(p float64)) (unsubscribe func())
}

// ProgressableContainer extends Container with an incrementally maintained
// average of every progress-reporting member's last reported value.
type ProgressableContainer[T Request] struct {
	*Container[T]

	progMu     sync.Mutex
	progValues map[string]float64
	progUnsubs map[string]func()
	avg        float64
	progCh     chan float64
}

// NewProgressableContainer returns an empty ProgressableContainer.
func NewProgressableContainer[T Request]() *ProgressableContainer[T] {
	return &ProgressableContainer[T]{
		Container:  NewContainer[T](),
		progValues: make(map[string]float64),
		progUnsubs: make(map[string]func()),
		progCh:     make(chan float64, 64),
	}
}

// Progress streams the running average of member progress values, one
// event per report (or per membership-triggered recompute).
func (c *ProgressableContainer[T]) Progress() <-chan float64 {
	return c.progCh
}

// Add appends r, additionally attaching a progress listener if r implements
// ProgressReporter.
func (c *ProgressableContainer[T]) Add(r T) error {
	return c.AddRange([]T{r})
}

// AddRange appends rs, attaching progress listeners for any member that
// implements ProgressReporter, then recomputes the average from scratch.
func (c *ProgressableContainer[T]) AddRange(rs []T) error {
	if err := c.Container.AddRange(rs); err != nil {
		return err
	}
	type attachment struct {
		id string
		pr ProgressReporter
	}
	var attachments []attachment
	for _, r := range rs {
		if pr, ok := any(r).(ProgressReporter); ok {
			attachments = append(attachments, attachment{id: r.ID(), pr: pr})
		}
	}

	c.progMu.Lock()
	for _, a := range attachments {
		c.progValues[a.id] = 0
	}
	c.progMu.Unlock()

	for _, a := range attachments {
		id, pr := a.id, a.pr
		unsub := pr.OnProgress(func(p float64) { c.reportProgress(id, p) })
		c.progMu.Lock()
		c.progUnsubs[id] = unsub
		c.progMu.Unlock()
	}

	c.recomputeProgress()
	return nil
}

// Remove drops r, detaching its progress listener if one was attached, and
// recomputes the average from scratch.
func (c *ProgressableContainer[T]) Remove(r T) (bool, error) {
	ok, err := c.Container.Remove(r)
	if err != nil || !ok {
		return ok, err
	}
	c.progMu.Lock()
	id := r.ID()
	if unsub, found := c.progUnsubs[id]; found {
		unsub()
		delete(c.progUnsubs, id)
		delete(c.progValues, id)
	}
	c.progMu.Unlock()
	c.recomputeProgress()
	return true, nil
}

func (c *ProgressableContainer[T]) reportProgress(id string, pNew float64) {
	c.progMu.Lock()
	n := len(c.progValues)
	if n == 0 {
		c.progMu.Unlock()
		return
	}
	pOld := c.progValues[id]
	c.progValues[id] = pNew
	c.avg += (pNew - pOld) / float64(n)
	avg := c.avg
	c.progMu.Unlock()
	c.emit(avg)
}

func (c *ProgressableContainer[T]) recomputeProgress() {
	c.progMu.Lock()
	n := len(c.progValues)
	if n == 0 {
		c.avg = 0
		c.progMu.Unlock()
		return
	}
	sum := 0.0
	for _, v := range c.progValues {
		sum += v
	}
	c.avg = sum / float64(n)
	avg := c.avg
	c.progMu.Unlock()
	c.emit(avg)
}

func (c *ProgressableContainer[T]) emit(avg float64) {
	select {
	case c.progCh <- avg:
	default:
	}
}
