package gateway

import "time"

// MessageType distinguishes displayed notifications from passthrough messages on Android.
type MessageType int

const (
	TypeNotification MessageType = 1
	TypeMessage      MessageType = 2
)

// Action types for Android click actions.
const (
	ActionActivity = 1
	ActionURL      = 2
	ActionIntent   = 3
)

// Style controls how an Android notification is rendered.
type Style struct {
	BuilderID int `json:"builder_id"`
	Ring      int `json:"ring"`
	Vibrate   int `json:"vibrate"`
	Clearable int `json:"clearable"`
	NID       int `json:"n_id"`
}

// ClickAction is what an Android notification does when tapped.
type ClickAction struct {
	ActionType int    `json:"action_type"`
	Activity   string `json:"activity,omitempty"`
	URL        string `json:"url,omitempty"`
	Intent     string `json:"intent,omitempty"`
}

// Message is a platform-neutral push payload. iOS deliveries read Alert,
// Badge and Sound; Android and web deliveries read Title and Content.
type Message struct {
	Title   string      `json:"title,omitempty"`
	Content string      `json:"content,omitempty"`
	Type    MessageType `json:"type,omitempty"`

	Alert string `json:"alert,omitempty"`
	Badge *int   `json:"badge,omitempty"`
	Sound string `json:"sound,omitempty"`

	Custom map[string]any `json:"custom,omitempty"`
	Style  *Style         `json:"style,omitempty"`
	Action *ClickAction   `json:"action,omitempty"`

	// SendTime schedules the push. Zero means immediately.
	SendTime time.Time `json:"send_time,omitzero"`
}

// Headline is the title shown on platforms without a separate alert field.
func (m Message) Headline() string {
	if m.Title != "" {
		return m.Title
	}
	return m.Alert
}

// Body is the text shown on platforms without a separate alert field.
func (m Message) Body() string {
	if m.Content != "" {
		return m.Content
	}
	if m.Title == "" {
		return ""
	}
	return m.Alert
}
