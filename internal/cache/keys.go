package cache

import "strings"

// Key templates are normative wire-level contracts. The fixed ':' delimiter
// guarantees that similar-prefix user ids (user123 vs user1234) occupy
// distinct keys. Every builder takes the user id; there is no way to produce
// an unscoped key.

const delimiter = ":"

func join(parts ...string) string {
	return strings.Join(parts, delimiter)
}

// TurnContextKey -> turn_context:{userId}:{conversationId}
func TurnContextKey(userID, conversationID string) string {
	return join("turn_context", userID, conversationID)
}

// ConversationTimeoutKey -> conversation:timeout:{userId}:{conversationId}
func ConversationTimeoutKey(userID, conversationID string) string {
	return join("conversation", "timeout", userID, conversationID)
}

// HRTResultKey -> hrt:result:{version}:{userId}:{conversationId}:{scope}:{phrase}:{weights}
func HRTResultKey(version, userID, conversationID, scope, phrase, weights string) string {
	return join("hrt", "result", version, userID, conversationID, scope, phrase, weights)
}

// SharedEmbeddingKey -> shared_embedding:{userId}:{phrase}
func SharedEmbeddingKey(userID, phrase string) string {
	return join("shared_embedding", userID, phrase)
}

// PromptSectionKey -> prompt_section:{sectionType}:{userId}[:{conversationId}][:{hash}]
func PromptSectionKey(sectionType, userID, conversationID, contextHash string) string {
	parts := []string{"prompt_section", sectionType, userID}
	if conversationID != "" {
		parts = append(parts, conversationID)
	}
	if contextHash != "" {
		parts = append(parts, contextHash)
	}
	return join(parts...)
}

// HRTParametersKey -> hrt_parameters:{userId}
func HRTParametersKey(userID string) string {
	return join("hrt_parameters", userID)
}

// IngestionLockKey -> ingestion:lock:{userId}:{conversationId}
func IngestionLockKey(userID, conversationID string) string {
	return join("ingestion", "lock", userID, conversationID)
}
