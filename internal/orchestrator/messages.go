package orchestrator

// Notice is a non-blocking, user-facing notification. Message is always
// human-readable; Code is for logs and clients that localize.
type Notice struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Persistent bool   `json:"persistent,omitempty"`
}

var userMessages = map[string]string{
	"NO_AUDIO":            "I didn't receive any audio. Check that your microphone is on.",
	"NO_SPEECH":           "I couldn't hear anything. Try speaking a little closer to the microphone.",
	"SERVICE_UNAVAILABLE": "Voice services are unavailable right now. You can type instead.",
	"AUTH_ERROR":          "Voice is turned off because the voice service rejected our credentials. You can keep going in text.",
	"RATE_LIMIT":          "Things are a little busy. Give me a moment and try again.",
	"FILE_TOO_LARGE":      "That recording was too long for me to process. Try a shorter entry, or type it.",
	"TEXT_TOO_LONG":       "My reply was too long to read aloud, so here it is in text.",
	"ALL_ATTEMPTS_FAILED": "I couldn't say that out loud, so here it is in text.",
	"NETWORK":             "I'm having trouble reaching the network. Here's my reply in text.",
	"REPLY_FAILED":        "I couldn't come up with a reply just now. Please try again.",
	"PLACEHOLDER":         "I didn't quite catch that. Could you say it again?",
	"TURN_VIOLATION":      "Hold on, I'm still finishing my turn.",
	"STATE_REJECTED":      "That can't happen right now.",
	"TURN_FAILED":         "That didn't go through. Let's try again.",
}

const defaultUserMessage = "Something went wrong, but we can keep going."

// UserMessage returns the text shown to the user for an internal code.
func UserMessage(code string) string {
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return defaultUserMessage
}
