package model

type ChatMode string

const (
	ChatModeText   ChatMode = "text"
	ChatModeVision ChatMode = "vision"
)

const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

type ChatImage struct {
	MIMEType string `json:"mime_type"`
	// Data is base64 encoded. Ignored when FileKey is set.
	Data    string `json:"data"`
	FileKey string `json:"file_key"`
}

type ChatMessage struct {
	Role   string      `json:"role"`
	Text   string      `json:"text"`
	Images []ChatImage `json:"images,omitempty"`
}
