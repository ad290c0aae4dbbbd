package audio

// TelephonyFrameBytes is one 20 ms frame of 8 kHz mu-law audio
const TelephonyFrameBytes = 160

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive silent frames that end speech
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   50, // 1s at 20ms frames
	}
}

// VADResult reports the detector state after one frame
type VADResult struct {
	Speaking bool
	Started  bool // first speech frame after silence
	Ended    bool // SilenceFrames of silence after speech
}

// VADDetector is an energy-based voice activity detector. It is used as a
// local end-of-turn fallback when the recognizer's own endpointing is slow
// to fire. Not safe for concurrent use.
type VADDetector struct {
	config         VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: *config}
}

// ProcessFrame classifies one frame of samples
func (v *VADDetector) ProcessFrame(samples []int16) VADResult {
	var result VADResult

	if CalculateRMS(samples) > v.config.EnergyThreshold {
		v.silenceCounter = 0
		if !v.isSpeaking {
			result.Started = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			result.Ended = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	result.Speaking = v.isSpeaking
	return result
}

// ProcessPCMU decodes a mu-law frame and classifies it
func (v *VADDetector) ProcessPCMU(frame []byte) VADResult {
	pcm, err := ConvertPCMUToPCM(frame)
	if err != nil {
		return VADResult{Speaking: v.isSpeaking}
	}
	return v.ProcessFrame(BytesToSamples(pcm))
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}
