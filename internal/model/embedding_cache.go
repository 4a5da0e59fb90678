package model

// EmbeddingCache is one persisted vector, keyed by the embedder identity,
// the task type and a hash of the embedded text.
type EmbeddingCache struct {
	ModelName   string    `json:"model_name"`
	TaskType    string    `json:"task_type"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"embedding"`
	Ctime       int64     `json:"ctime"`
}

// Fits reports whether the cached vector can stand in for a fresh one of the
// given width. A width of zero only rejects empty vectors.
func (c *EmbeddingCache) Fits(width int) bool {
	if c == nil || len(c.Embedding) == 0 {
		return false
	}
	return width <= 0 || len(c.Embedding) == width
}
