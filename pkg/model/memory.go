package model

// Memory service namespaces
const (
	NamespaceTools    = "tools"
	NamespaceSessions = "sessions"
	NamespaceMemories = "memories"
)

// MemoryRecord is a document handed to the memory service for indexing. The
// embedding is owned by the service and never surfaces here.
type MemoryRecord struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Namespace string         `json:"namespace"`
	Context   map[string]any `json:"context"`
}

// MemoryHit is a ranked record returned by the memory service
type MemoryHit struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Namespace string         `json:"namespace"`
	Context   map[string]any `json:"context"`
	Relevance float64        `json:"score"`
}

// ContextString returns a string value from the hit context
func (h *MemoryHit) ContextString(key string) string {
	if h.Context == nil {
		return ""
	}
	s, _ := h.Context[key].(string)
	return s
}

// MemoryStatus reports the state of the memory service
type MemoryStatus struct {
	Backend        string         `json:"backend"`
	Ready          bool           `json:"ready"`
	Model          string         `json:"model,omitempty"`
	Namespaces     []string       `json:"namespaces"`
	DocumentCounts map[string]int `json:"document_counts"`
}
