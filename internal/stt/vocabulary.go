package stt

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// defaultKeywordBoost is the Deepgram keyword intensifier used when an
// entry does not set one
const defaultKeywordBoost = 2

// VocabularyEntry is a domain term the recognizer should favour.
// SoundsLike lists common mis-hearings; Deepgram has no phonetic hint,
// so they are kept for other recognizers and for review only.
type VocabularyEntry struct {
	Content    string   `yaml:"content"`
	SoundsLike []string `yaml:"sounds_like,omitempty"`
	Boost      int      `yaml:"boost,omitempty"`
}

// Vocabulary is a list of domain terms
type Vocabulary []VocabularyEntry

// englishMedicalVocabulary covers cardiology and vitals terms
var englishMedicalVocabulary = Vocabulary{
	{Content: "hypertension", SoundsLike: []string{"high per tension", "hyper tension"}},
	{Content: "tachycardia", SoundsLike: []string{"tacky cardia", "taki cardia"}},
	{Content: "bradycardia", SoundsLike: []string{"brady cardia"}},
	{Content: "arrhythmia", SoundsLike: []string{"a rithmia", "arrythmia"}},
	{Content: "dyspnea", SoundsLike: []string{"disp nea", "dispnea"}},
	{Content: "edema", SoundsLike: []string{"e dema"}},
	{Content: "angina", SoundsLike: []string{"an gina", "anjina"}},
	{Content: "myocardial", SoundsLike: []string{"myo cardial"}},
	{Content: "infarction", SoundsLike: []string{"in farction"}},
	{Content: "electrocardiogram", SoundsLike: []string{"electro cardio gram", "ECG", "EKG"}},
	{Content: "echocardiogram", SoundsLike: []string{"echo cardio gram"}},
	{Content: "auscultation", SoundsLike: []string{"aus cul tation"}},
	{Content: "palpitations", SoundsLike: []string{"palpi tations"}},
	{Content: "syncope", SoundsLike: []string{"sin copy", "sin co pe"}},
	{Content: "cyanosis", SoundsLike: []string{"sya nosis", "cyano sis"}},
	{Content: "SpO2", SoundsLike: []string{"S P O 2", "spo two", "oxygen saturation"}},
	{Content: "mmHg", SoundsLike: []string{"millimeters of mercury", "mm H G"}},
	{Content: "bpm", SoundsLike: []string{"beats per minute", "B P M"}},
}

var arabicMedicalVocabulary = Vocabulary{
	{Content: "ضغط الدم", SoundsLike: []string{"daght al dam"}},
	{Content: "نبض القلب", SoundsLike: []string{"nabd al qalb"}},
	{Content: "حرارة", SoundsLike: []string{"harara"}},
	{Content: "تنفس", SoundsLike: []string{"tanaffus"}},
	{Content: "ألم", SoundsLike: []string{"alam"}},
	{Content: "صداع", SoundsLike: []string{"suda"}},
	{Content: "دوخة", SoundsLike: []string{"dawkha"}},
	{Content: "غثيان", SoundsLike: []string{"ghathayan"}},
}

// BuiltinVocabulary returns the medical vocabulary for a session language
func BuiltinVocabulary(language string) Vocabulary {
	switch language {
	case "en":
		return append(Vocabulary(nil), englishMedicalVocabulary...)
	case "ar":
		return append(Vocabulary(nil), arabicMedicalVocabulary...)
	case "ar_en":
		v := append(Vocabulary(nil), englishMedicalVocabulary...)
		return append(v, arabicMedicalVocabulary...)
	}
	return nil
}

// LoadVocabulary reads a YAML list of vocabulary entries from path
func LoadVocabulary(path string) (Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary file: %w", err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary decodes a YAML list of vocabulary entries.
// Entries without content are rejected.
func ParseVocabulary(data []byte) (Vocabulary, error) {
	var vocab Vocabulary
	if err := yaml.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary: %w", err)
	}
	for i, entry := range vocab {
		if strings.TrimSpace(entry.Content) == "" {
			return nil, fmt.Errorf("vocabulary entry %d has no content", i)
		}
	}
	return vocab, nil
}

// Merge returns v followed by the entries of other whose content is not
// already present (case-insensitive)
func (v Vocabulary) Merge(other Vocabulary) Vocabulary {
	seen := make(map[string]bool, len(v)+len(other))
	out := make(Vocabulary, 0, len(v)+len(other))
	for _, list := range []Vocabulary{v, other} {
		for _, entry := range list {
			key := strings.ToLower(strings.TrimSpace(entry.Content))
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, entry)
		}
	}
	return out
}

// Keywords formats the vocabulary as Deepgram keyword:boost pairs
func (v Vocabulary) Keywords() []string {
	keywords := make([]string, 0, len(v))
	for _, entry := range v {
		boost := entry.Boost
		if boost == 0 {
			boost = defaultKeywordBoost
		}
		keywords = append(keywords, fmt.Sprintf("%s:%d", strings.TrimSpace(entry.Content), boost))
	}
	return keywords
}

// SessionKeywords combines the built-in vocabulary for language with the
// optional vocabulary file
func SessionKeywords(language, vocabularyFile string) ([]string, error) {
	vocab := BuiltinVocabulary(language)
	if vocabularyFile != "" {
		extra, err := LoadVocabulary(vocabularyFile)
		if err != nil {
			return nil, err
		}
		vocab = vocab.Merge(extra)
	}
	return vocab.Keywords(), nil
}
