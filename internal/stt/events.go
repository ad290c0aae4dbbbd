package stt

import (
	"fmt"
	"strings"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/lexiqai/scribe-gateway/internal/transcript"
)

// Event kinds reported by dispatchMessage, also used as metric labels
const (
	EventNone      = ""
	EventPartial   = "partial"
	EventFinal     = "final"
	EventEndOfTurn = "end_of_turn"
)

// speakerLabel formats Deepgram's zero-based speaker index as S1, S2, ...
func speakerLabel(speaker *int) string {
	if speaker == nil {
		return ""
	}
	return fmt.Sprintf("S%d", *speaker+1)
}

// toFragment converts the best alternative of a Results message
func toFragment(msg *msginterfaces.MessageResponse) (transcript.UtteranceFragment, bool) {
	if len(msg.Channel.Alternatives) == 0 {
		return transcript.UtteranceFragment{}, false
	}
	alt := msg.Channel.Alternatives[0]

	fragment := transcript.UtteranceFragment{
		Text:      strings.TrimSpace(alt.Transcript),
		StartTime: msg.Start,
		EndTime:   msg.Start + msg.Duration,
		Words:     make([]transcript.WordResult, 0, len(alt.Words)),
	}

	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		fragment.Words = append(fragment.Words, transcript.WordResult{
			Text:         text,
			StartTime:    w.Start,
			EndTime:      w.End,
			SpeakerLabel: speakerLabel(w.Speaker),
		})
	}

	if msg.Duration == 0 && len(alt.Words) > 0 {
		// Fallback: derive timing from words if not provided
		fragment.StartTime = alt.Words[0].Start
		fragment.EndTime = alt.Words[len(alt.Words)-1].End
	}

	return fragment, fragment.Text != ""
}

// dispatchMessage routes one Results message to sink and returns the kind
// of text event delivered. A speech_final message additionally ends the
// turn, without an explicit timestamp.
func dispatchMessage(sink transcript.EventSink, msg *msginterfaces.MessageResponse) string {
	if msg == nil {
		return EventNone
	}

	kind := EventNone
	if fragment, ok := toFragment(msg); ok {
		if msg.IsFinal {
			sink.OnFinal(fragment)
			kind = EventFinal
		} else {
			sink.OnPartial(fragment)
			kind = EventPartial
		}
	}

	if msg.SpeechFinal {
		sink.OnEndOfTurn(transcript.EndOfTurn{})
		if kind == EventNone {
			kind = EventEndOfTurn
		}
	}

	return kind
}

// dispatchUtteranceEnd routes an UtteranceEnd message, which carries the
// end time of the last word
func dispatchUtteranceEnd(sink transcript.EventSink, msg *msginterfaces.UtteranceEndResponse) {
	if msg == nil {
		sink.OnEndOfTurn(transcript.EndOfTurn{})
		return
	}
	sink.OnEndOfTurn(transcript.EndOfTurn{EndTime: transcript.Float(msg.LastWordEnd)})
}
