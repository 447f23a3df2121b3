package monitor

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var ErrInvalidThreshold = errors.New("invalid revive threshold")

// Threshold revives a connector once at least RequiredSuccesses of its last
// WindowSize probes succeeded.
type Threshold struct {
	RequiredSuccesses int
	WindowSize        int
}

func (t Threshold) Validate() error {
	err := validation.ValidateStruct(&t,
		validation.Field(&t.RequiredSuccesses,
			validation.Required,
			validation.Min(1),
			validation.Max(t.WindowSize).Error("must not exceed window_size"),
		),
		validation.Field(&t.WindowSize, validation.Required, validation.Min(1)),
	)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidThreshold, t, err)
	}
	return nil
}

// Met is evaluated on partial windows too, so a connector can be revived
// before WindowSize probes have been taken.
func (t Threshold) Met(w *Window) bool {
	return w.Successes() >= t.RequiredSuccesses
}

func (t Threshold) String() string {
	return fmt.Sprintf("%d/%d", t.RequiredSuccesses, t.WindowSize)
}

// Window is a FIFO of probe outcomes capped at a fixed size.
type Window struct {
	outcomes  []bool
	size      int
	successes int
}

func NewWindow(size int) *Window {
	return &Window{
		outcomes: make([]bool, 0, size),
		size:     size,
	}
}

// Record appends an outcome, evicting the oldest ones past the cap.
func (w *Window) Record(ok bool) {
	w.outcomes = append(w.outcomes, ok)
	if ok {
		w.successes++
	}
	w.trim()
}

// Resize changes the cap, evicting the oldest outcomes if it shrank.
func (w *Window) Resize(size int) {
	w.size = size
	w.trim()
}

func (w *Window) trim() {
	for len(w.outcomes) > w.size {
		if w.outcomes[0] {
			w.successes--
		}
		w.outcomes = w.outcomes[1:]
	}
}

func (w *Window) Len() int {
	return len(w.outcomes)
}

func (w *Window) Successes() int {
	return w.successes
}

// Outcomes returns a copy, oldest first.
func (w *Window) Outcomes() []bool {
	out := make([]bool, len(w.outcomes))
	copy(out, w.outcomes)
	return out
}
