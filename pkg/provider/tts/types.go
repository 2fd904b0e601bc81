package tts

// VoiceProfile identifies a voice on a TTS backend.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (an ElevenLabs voice id, a
	// Coqui speaker name or reference WAV path).
	ID string `yaml:"id"`

	// Name is a human-readable label.
	Name string `yaml:"name"`

	// Provider names the backend that owns the voice.
	Provider string `yaml:"provider"`

	// Language overrides the provider default, when the backend supports it.
	Language string `yaml:"language"`

	// Metadata carries backend-specific extras (category, model name).
	Metadata map[string]string `yaml:"-"`
}
