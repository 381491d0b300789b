package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyTemplates(t *testing.T) {
	assert.Equal(t, "turn_context:u1:c1", TurnContextKey("u1", "c1"))
	assert.Equal(t, "conversation:timeout:u1:c1", ConversationTimeoutKey("u1", "c1"))
	assert.Equal(t, "hrt:result:v2:u1:c1:scope:phrase:w", HRTResultKey("v2", "u1", "c1", "scope", "phrase", "w"))
	assert.Equal(t, "shared_embedding:u1:hello", SharedEmbeddingKey("u1", "hello"))
	assert.Equal(t, "hrt_parameters:u1", HRTParametersKey("u1"))
	assert.Equal(t, "ingestion:lock:u1:c1", IngestionLockKey("u1", "c1"))
}

func TestPromptSectionKeyOptionalSegments(t *testing.T) {
	assert.Equal(t, "prompt_section:core_identity:u1", PromptSectionKey("core_identity", "u1", "", ""))
	assert.Equal(t, "prompt_section:dynamic_context:u1:c1", PromptSectionKey("dynamic_context", "u1", "c1", ""))
	assert.Equal(t, "prompt_section:dynamic_context:u1:c1:abc123", PromptSectionKey("dynamic_context", "u1", "c1", "abc123"))
}

// Similar-prefix user ids must never collide: the fixed delimiter keeps
// user123 and user1234 apart even on the same conversation id.
func TestSimilarPrefixUserIDsDoNotCollide(t *testing.T) {
	convID := "conv-9"
	keysA := []string{
		TurnContextKey("user123", convID),
		ConversationTimeoutKey("user123", convID),
		PromptSectionKey("core_identity", "user123", convID, ""),
		HRTParametersKey("user123"),
		SharedEmbeddingKey("user123", "phrase"),
	}
	keysB := []string{
		TurnContextKey("user1234", convID),
		ConversationTimeoutKey("user1234", convID),
		PromptSectionKey("core_identity", "user1234", convID, ""),
		HRTParametersKey("user1234"),
		SharedEmbeddingKey("user1234", "phrase"),
	}
	for i := range keysA {
		assert.NotEqual(t, keysA[i], keysB[i])
	}
}
