package conversation

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ProactiveType classifies assistant-initiated messages that were not
// triggered by user input.
type ProactiveType string

const (
	ProactiveGreeting  ProactiveType = "greeting"
	ProactiveMissing   ProactiveType = "missing"
	ProactiveLifeShare ProactiveType = "life_share"
	ProactiveTease     ProactiveType = "tease"
	ProactiveMood      ProactiveType = "mood"
	ProactiveOther     ProactiveType = "other"
)

// MediaPlaceholder marks an image slot whose generation is still in flight.
// It is only ever visible while IsMediaLoading is true.
const MediaPlaceholder = "__generating__"

// Message is one entry in a conversation transcript.
type Message struct {
	ID             string        `json:"id"`
	Role           Role          `json:"role"`
	Content        string        `json:"content"`
	AudioURL       string        `json:"audioUrl,omitempty"`
	ImageURL       string        `json:"imageUrl,omitempty"`
	VideoURL       string        `json:"videoUrl,omitempty"`
	IsMediaLoading bool          `json:"isMediaLoading,omitempty"`
	IsProactive    bool          `json:"isProactive,omitempty"`
	ProactiveType  ProactiveType `json:"proactiveType,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// ReplyOption is one selectable reply, either from the detection protocol or
// from the suggestion engine. Style only drives which slot it renders in.
type ReplyOption struct {
	Text  string `json:"text"`
	Style string `json:"style,omitempty"`
}

// Greeting is the assistant's opening line for an empty conversation. It is
// surfaced to the UI directly and never enters the transcript.
type Greeting struct {
	Content   string `json:"content"`
	WithImage bool   `json:"withImage,omitempty"`
}
