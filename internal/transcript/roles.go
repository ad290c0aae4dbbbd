package transcript

import (
	"strings"
)

// Role is a conversational role attributed to a speaker
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleUnknown Role = "unknown"
)

// Phrases typical of clinician speech (English and Arabic)
var doctorPhrases = []string{
	"blood pressure", "pulse", "temperature", "let me examine",
	"i recommend", "i suggest", "prescribed", "diagnosis",
	"your vitals", "your symptoms", "examination shows",
	"we need to", "i'll order", "the test", "follow-up",
	"ضغط الدم", "نبض", "حرارة", "الفحص", "الفحص يظهر",
	"أنصح", "أوصي", "العلاج", "التشخيص", "المتابعة",
}

// Phrases typical of patient speech (English and Arabic)
var patientPhrases = []string{
	"i feel", "i have", "it hurts", "i'm experiencing",
	"my pain", "when i", "i can't", "i've been",
	"started yesterday", "woke up with", "since last",
	"أشعر", "عندي", "يؤلمني", "ألم في", "منذ",
	"بدأت", "أعاني من", "لا أستطيع",
}

// InferRole guesses whether speaker is the doctor or the patient.
// Phrase matches decide first; on a tie the speaker's previous role is
// reused, then S1 is assumed to be the doctor and S2 the patient.
func InferRole(text, speaker string, history map[string]Role) Role {
	lower := strings.ToLower(text)

	doctor := countPhrases(lower, doctorPhrases)
	patient := countPhrases(lower, patientPhrases)
	switch {
	case doctor > patient:
		return RoleDoctor
	case patient > doctor:
		return RolePatient
	}

	if role, ok := history[speaker]; ok {
		return role
	}

	switch speaker {
	case "S1":
		return RoleDoctor
	case "S2":
		return RolePatient
	}
	return RoleUnknown
}

func countPhrases(text string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(text, p) {
			n++
		}
	}
	return n
}
