package transcript

import (
	"strings"
)

// Callbacks are invoked synchronously from the goroutine delivering events.
// All fields are optional.
type Callbacks struct {
	// OnLivePreview receives partial text for display
	OnLivePreview func(text string)

	// OnUtterance receives each completed turn exactly once
	OnUtterance func(utterance Utterance)

	// OnError receives recognizer errors forwarded through OnError
	OnError func(err error)
}

// Accumulator buffers final fragments until an end-of-turn signal and then
// emits one consolidated Utterance.
//
// It is single-writer: all methods must be called from one goroutine (the
// recognizer's dispatch path). It holds no locks.
type Accumulator struct {
	callbacks     Callbacks
	endTimeSource EndTimeSource

	// pending is empty iff hasTurn is false
	pending   []string
	hasTurn   bool
	turnStart float64
	turnEnd   float64
	votes     speakerVotes

	closed bool
}

var _ EventSink = (*Accumulator)(nil)

// NewAccumulator creates an empty accumulator
func NewAccumulator(callbacks Callbacks, endTimeSource EndTimeSource) *Accumulator {
	return &Accumulator{
		callbacks:     callbacks,
		endTimeSource: endTimeSource,
	}
}

// OnPartial forwards partial text to the live preview callback.
// It never touches the pending turn.
func (a *Accumulator) OnPartial(fragment UtteranceFragment) {
	if a.closed {
		return
	}
	text := strings.TrimSpace(fragment.Text)
	if text == "" {
		return
	}
	if a.callbacks.OnLivePreview != nil {
		a.callbacks.OnLivePreview(text)
	}
}

// OnFinal appends a settled fragment to the current turn
func (a *Accumulator) OnFinal(fragment UtteranceFragment) {
	if a.closed {
		return
	}
	text := strings.TrimSpace(fragment.Text)
	if text == "" {
		return
	}

	if !a.hasTurn {
		a.hasTurn = true
		a.turnStart = fragment.StartTime
	}
	a.pending = append(a.pending, text)
	a.turnEnd = fragment.EndTime

	voted := false
	for _, w := range fragment.Words {
		if w.SpeakerLabel != "" {
			a.votes.add(w.SpeakerLabel)
			voted = true
		}
	}
	if !voted {
		a.votes.add(fragment.Speaker)
	}
}

// OnEndOfTurn closes the current turn and emits it. With nothing buffered
// it does nothing.
func (a *Accumulator) OnEndOfTurn(eot EndOfTurn) {
	if a.closed || !a.hasTurn {
		return
	}

	endTime := a.turnEnd
	if eot.EndTime != nil && a.endTimeSource == EndTimeExplicit {
		endTime = *eot.EndTime
	}

	utterance := Utterance{
		Text:      strings.Join(a.pending, " "),
		Speaker:   a.votes.winner(),
		StartTime: a.turnStart,
		EndTime:   endTime,
		IsPartial: false,
	}

	a.Reset()

	if a.callbacks.OnUtterance != nil {
		a.callbacks.OnUtterance(utterance)
	}
}

// OnError forwards a recognizer error to the error callback
func (a *Accumulator) OnError(err error) {
	if err == nil || a.callbacks.OnError == nil {
		return
	}
	a.callbacks.OnError(err)
}

// Flush emits any buffered fragments as an utterance. Call it at teardown
// so speech without a clean end-of-turn signal is not dropped.
func (a *Accumulator) Flush() {
	a.OnEndOfTurn(EndOfTurn{})
}

// Reset discards the pending turn without emitting it
func (a *Accumulator) Reset() {
	a.pending = nil
	a.hasTurn = false
	a.turnStart = 0
	a.turnEnd = 0
	a.votes.reset()
}

// Close flushes the pending turn. Events delivered afterwards are ignored.
func (a *Accumulator) Close() {
	if a.closed {
		return
	}
	a.Flush()
	a.closed = true
}

// Pending reports whether a turn is being accumulated
func (a *Accumulator) Pending() bool {
	return a.hasTurn
}

// PendingText returns the text buffered so far in the current turn
func (a *Accumulator) PendingText() string {
	return strings.Join(a.pending, " ")
}
