package transcript

// ResolveSpeaker returns the dominant speaker label among words.
// Words without a label are skipped. Ties go to the label that reached the
// winning count first in input order. Returns UnknownSpeaker when no word
// carries a label.
func ResolveSpeaker(words []WordResult) string {
	var votes speakerVotes
	for _, w := range words {
		votes.add(w.SpeakerLabel)
	}
	return votes.winner()
}

// speakerVotes tallies speaker labels across a turn.
// The leader is tracked as votes arrive so that the first label to reach
// the maximum count wins a tie.
type speakerVotes struct {
	counts map[string]int
	leader string
	max    int
}

func (v *speakerVotes) add(label string) {
	if label == "" {
		return
	}
	if v.counts == nil {
		v.counts = make(map[string]int)
	}
	v.counts[label]++
	if n := v.counts[label]; n > v.max {
		v.max = n
		v.leader = label
	}
}

func (v *speakerVotes) winner() string {
	if v.max == 0 {
		return UnknownSpeaker
	}
	return v.leader
}

func (v *speakerVotes) empty() bool {
	return v.max == 0
}

func (v *speakerVotes) reset() {
	v.counts = nil
	v.leader = ""
	v.max = 0
}
