package transcript

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	previews   []string
	utterances []Utterance
	errs       []error
}

func newRecordingAccumulator(source EndTimeSource) (*Accumulator, *recorder) {
	rec := &recorder{}
	acc := NewAccumulator(Callbacks{
		OnLivePreview: func(text string) { rec.previews = append(rec.previews, text) },
		OnUtterance:   func(u Utterance) { rec.utterances = append(rec.utterances, u) },
		OnError:       func(err error) { rec.errs = append(rec.errs, err) },
	}, source)
	return acc, rec
}

func fragment(text string, start, end float64, speaker string) UtteranceFragment {
	return UtteranceFragment{
		Text:      text,
		StartTime: start,
		EndTime:   end,
		Words:     []WordResult{{Text: text, StartTime: start, EndTime: end, SpeakerLabel: speaker}},
	}
}

func TestAccumulator_EndToEnd(t *testing.T) {
	acc, rec := newRecordingAccumulator(EndTimeExplicit)

	acc.OnFinal(fragment("Hello", 0.0, 0.5, "S1"))
	acc.OnFinal(fragment("there", 0.5, 1.0, "S1"))
	acc.OnEndOfTurn(EndOfTurn{EndTime: Float(1.2)})

	require.Len(t, rec.utterances, 1)
	assert.Equal(t, Utterance{
		Text:      "Hello there",
		Speaker:   "S1",
		StartTime: 0.0,
		EndTime:   1.2,
		IsPartial: false,
	}, rec.utterances[0])
	assert.False(t, acc.Pending())
}

func TestAccumulator_JoinsInArrivalOrder(t *testing.T) {
	acc, rec := newRecordingAccumulator(EndTimeExplicit)

	texts := []string{"the", "patient", "reports", "chest pain"}
	for i, txt := range texts {
		acc.OnFinal(fragment(txt, float64(i), float64(i)+1, "S2"))
	}
	acc.OnEndOfTurn(EndOfTurn{})

	require.Len(t, rec.utterances, 1)
	assert.Equal(t, "the patient reports chest pain", rec.utterances[0].Text)
	assert.Equal(t, 0.0, rec.utterances[0].StartTime)
	assert.Equal(t, 4.0, rec.utterances[0].EndTime)
}

func TestAccumulator_TrimsFragmentText(t *testing.T) {
	acc, rec := newRecordingAccumulator(EndTimeExplicit)

	acc.OnFinal(fragment("  Hello ", 0, 1, "S1"))
	acc.OnFinal(fragment("world\n", 1, 2, "S1"))
	acc.Flush()

	require.Len(t, rec.utterances, 1)
	assert.Equal(t, "Hello world", rec.utterances[0].Text)
}

func TestAccumulator_EndOfTurnWhenEmpty(t *testing.T) {
	acc, rec := newRecordingAccumulator(EndTimeExplicit)

	acc.OnEndOfTurn(EndOfTurn{EndTime: Float(3.0)})
	acc.OnEndOfTurn(EndOfTurn{})
	acc.Flush()

	assert.Empty(t, rec.utterances)
	assert.False(t, acc.Pending())
}

func TestAccumulator_EmptyFinalIsNoop(t *testing.T) {
	acc, rec := newRecordingAccumulator(EndTimeExplicit)

	acc.OnFinal(UtteranceFragment{Text: "", Speaker: "S1"})
	acc.OnFinal(UtteranceFragment{Text: "   \t", Words: words("S2")})

	assert.False(t, acc.Pending())
	assert.True(t, acc.votes.empty())

	acc.OnEndOfTurn(EndOfTurn{})
	assert.Empty(t, rec.utterances)
}

func TestAccumulator_FlushMatchesEndOfTurn(t *testing.T) {
	build := func(acc *Accumulator) {
		acc.OnFinal(fragment("first", 2.0, 2.4, "S2"))
		acc.OnFinal(fragment("second", 2.4, 3.1, "S1"))
		acc.OnFinal(fragment("third", 3.1, 3.5, "S2"))
	}

	flushed, flushRec := newRecordingAccumulator(EndTimeExplicit)
	build(flushed)
	flushed.Flush()

	ended, endRec := newRecordingAccumulator(EndTimeExplicit)
	build(ended)
	ended.OnEndOfTurn(EndOfTurn{})

	require.Len(t, flushRec.utterances, 1)
	require.Len(t, endRec.utterances, 1)
	assert.Equal(t, endRec.utterances[0], flushRec.utterances[0])
	assert.Equal(t, "S2", flushRec.utterances[0].Speaker)
	assert.Equal(t, 3.5, flushRec.utterances[0].EndTime)
}

func TestAccumulator_SpeakerTieAcrossFragments(t *testing.T) {
	acc, rec := newRecordingAccumulator(EndTimeExplicit)

	acc.OnFinal(UtteranceFragment{Text: "one two", Words: words("S1", "S1")})
	acc.OnFinal(UtteranceFragment{Text: "three four", Words: words("S2", "S2")})
	acc.Flush()

	require.Len(t, rec.utterances, 1)
	assert.Equal(t, "S1", rec.utterances[0].Speaker)
}

func TestAccumulator_FragmentLevelSpeaker(t *testing.T) {
	acc, rec := newRecordingAccumulator(EndTimeExplicit)

	acc.OnFinal(UtteranceFragment{Text: "hi", Speaker: "agent"})
	acc.OnFinal(UtteranceFragment{Text: "there", Words: []WordResult{{Text: "there"}}, Speaker: "agent"})
	acc.Flush()

	require.Len(t, rec.utterances, 1)
	assert.Equal(t, "agent", rec.utterances[0].Speaker)
}

func TestAccumulator_UnknownSpeaker(t *testing.T) {
	acc, rec := newRecordingAccumulator(EndTimeExplicit)

	acc.OnFinal(UtteranceFragment{Text: "no diarization here", StartTime: 1, EndTime: 2})
	acc.Flush()

	require.Len(t, rec.utterances, 1)
	assert.Equal(t, UnknownSpeaker, rec.utterances[0].Speaker)
}

func TestAccumulator_EndTimeSource(t *testing.T) {
	explicit, explicitRec := newRecordingAccumulator(EndTimeExplicit)
	explicit.OnFinal(fragment("hello", 0, 0.8, "S1"))
	explicit.OnEndOfTurn(EndOfTurn{EndTime: Float(1.5)})

	frag, fragRec := newRecordingAccumulator(EndTimeFragment)
	frag.OnFinal(fragment("hello", 0, 0.8, "S1"))
	frag.OnEndOfTurn(EndOfTurn{EndTime: Float(1.5)})

	require.Len(t, explicitRec.utterances, 1)
	require.Len(t, fragRec.utterances, 1)
	assert.Equal(t, 1.5, explicitRec.utterances[0].EndTime)
	assert.Equal(t, 0.8, fragRec.utterances[0].EndTime)
}

func TestAccumulator_ConsecutiveTurns(t *testing.T) {
	acc, rec := newRecordingAccumulator(EndTimeExplicit)

	acc.OnFinal(fragment("good morning", 0, 1, "S1"))
	acc.OnEndOfTurn(EndOfTurn{EndTime: Float(1.1)})
	acc.OnEndOfTurn(EndOfTurn{EndTime: Float(1.4)})
	acc.OnFinal(fragment("morning doctor", 2, 3, "S2"))
	acc.OnEndOfTurn(EndOfTurn{})

	require.Len(t, rec.utterances, 2)
	assert.Equal(t, "good morning", rec.utterances[0].Text)
	assert.Equal(t, "morning doctor", rec.utterances[1].Text)
	assert.Equal(t, 2.0, rec.utterances[1].StartTime)
	assert.Equal(t, "S2", rec.utterances[1].Speaker)
}

func TestAccumulator_PartialDoesNotMutate(t *testing.T) {
	acc, rec := newRecordingAccumulator(EndTimeExplicit)

	acc.OnPartial(fragment("hel", 0, 0.2, "S1"))
	acc.OnPartial(UtteranceFragment{Text: "  "})

	assert.Equal(t, []string{"hel"}, rec.previews)
	assert.False(t, acc.Pending())

	acc.OnFinal(fragment("hello", 0, 0.5, "S1"))
	acc.OnPartial(fragment("hello wor", 0, 0.9, "S2"))
	assert.Equal(t, "hello", acc.PendingText())

	acc.Flush()
	require.Len(t, rec.utterances, 1)
	assert.Equal(t, "S1", rec.utterances[0].Speaker)
}

func TestAccumulator_Reset(t *testing.T) {
	acc, rec := newRecordingAccumulator(EndTimeExplicit)

	acc.OnFinal(fragment("discard me", 0, 1, "S1"))
	acc.Reset()
	acc.OnEndOfTurn(EndOfTurn{})

	assert.Empty(t, rec.utterances)
}

func TestAccumulator_EventsAfterClose(t *testing.T) {
	acc, rec := newRecordingAccumulator(EndTimeExplicit)

	acc.OnFinal(fragment("last words", 0, 1, "S1"))
	acc.Close()
	require.Len(t, rec.utterances, 1)

	acc.OnFinal(fragment("late", 1, 2, "S1"))
	acc.OnPartial(fragment("late", 1, 2, "S1"))
	acc.OnEndOfTurn(EndOfTurn{})
	acc.Close()

	assert.Len(t, rec.utterances, 1)
	assert.Empty(t, rec.previews)
	assert.False(t, acc.Pending())
}

func TestAccumulator_ForwardsErrors(t *testing.T) {
	acc, rec := newRecordingAccumulator(EndTimeExplicit)

	acc.OnError(nil)
	acc.OnError(errors.New("socket closed"))

	require.Len(t, rec.errs, 1)
	assert.EqualError(t, rec.errs[0], "socket closed")
}

func TestAccumulator_NilCallbacks(t *testing.T) {
	acc := NewAccumulator(Callbacks{}, EndTimeExplicit)

	assert.NotPanics(t, func() {
		acc.OnPartial(fragment("a", 0, 1, "S1"))
		acc.OnFinal(fragment("a", 0, 1, "S1"))
		acc.OnError(errors.New("boom"))
		acc.OnEndOfTurn(EndOfTurn{})
	})
}

func TestUtterance_Duration(t *testing.T) {
	u := Utterance{StartTime: 1.25, EndTime: 3.75}
	assert.Equal(t, 2.5, u.Duration())
}

func TestParseEndTimeSource(t *testing.T) {
	assert.Equal(t, EndTimeFragment, ParseEndTimeSource("fragment"))
	assert.Equal(t, EndTimeExplicit, ParseEndTimeSource("explicit"))
	assert.Equal(t, EndTimeExplicit, ParseEndTimeSource(""))
}
