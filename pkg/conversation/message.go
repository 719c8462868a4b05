package conversation

import "github.com/agentmesh/coordinator/pkg/models"

// wrapContent normalizes an opaque message value into the key/value
// document the store persists (spec.md §4.6 "Serialization of message
// bodies").
func wrapContent(msg any) map[string]any {
	return models.WrapDocument(msg)
}
