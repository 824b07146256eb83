package agent

// Agent captures the companion attributes the conversation core needs: naming
// for the UI, and the media hints forwarded to the generation endpoints.
type Agent struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Tagline       string `json:"tagline,omitempty"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
	VoiceID       string `json:"voiceId,omitempty"`
	MotionPhrase  string `json:"motionPhrase,omitempty"` // template prefix for video prompts
	Description   string `json:"description,omitempty"`
}

// Seed provides the default companion roster.
func Seed() []Agent {
	return []Agent{
		{
			ID:           "luna",
			Name:         "Luna",
			Tagline:      "Stargazer with a soft spot for late-night talks",
			VoiceID:      "luna-warm-alto",
			MotionPhrase: "slow dreamy drift under starlight",
			Description:  "An astronomy student who narrates the sky like a bedtime story.",
		},
		{
			ID:           "kai",
			Name:         "Kai",
			Tagline:      "Surf instructor, professional optimist",
			VoiceID:      "kai-bright-tenor",
			MotionPhrase: "sunlit handheld shot by the shore",
			Description:  "Keeps every conversation moving like a good set of waves.",
		},
		{
			ID:           "mira",
			Name:         "Mira",
			Tagline:      "Gallery curator who teases more than she tells",
			VoiceID:      "mira-velvet-mezzo",
			MotionPhrase: "soft gallery lighting, slow pan",
			Description:  "Answers in half-sketches and expects you to fill in the rest.",
		},
	}
}
