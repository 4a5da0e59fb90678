package ai

type ChatImage struct {
	MIMEType string
	Data     []byte
}

type ChatMessage struct {
	Role   string
	Text   string
	Images []ChatImage
}

type ChatRequest struct {
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature *float32
}

func (r *ChatRequest) HasImages() bool {
	for _, msg := range r.Messages {
		if len(msg.Images) > 0 {
			return true
		}
	}
	return false
}
