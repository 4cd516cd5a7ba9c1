package bot

// Turn is one prior message in the conversation, oldest first.
type Turn struct {
	// Role is "user" for contact messages and "assistant" for bot replies.
	Role    string
	Content string
}

// DecideInput is everything the engine sees for one decision.
type DecideInput struct {
	SchoolName  string
	ContactName string
	History     []Turn
	Text        string
}

// Decision is the engine's structured verdict for an inbound message.
// An empty Reply with Handover set means "say nothing, wake a human".
type Decision struct {
	Reply    string `json:"reply"`
	Handover bool   `json:"handover"`
	Reason   string `json:"reason,omitempty"`
	Model    string `json:"-"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
