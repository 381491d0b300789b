package synthesis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayload() string {
	return `{
  "persistence_payload": {
    "conversation_title": "t",
    "conversation_summary": "a summary long enough to matter",
    "conversation_importance_score": 5,
    "extracted_memory_units": [],
    "extracted_concepts": [],
    "detected_growth_events": [],
    "new_relationships": []
  },
  "forward_looking_context": {"proactive_greeting": "hi"}
}`
}

func TestDecodeStructuredAcceptsFencedJSON(t *testing.T) {
	var out HolisticResult
	raw := "```json\n" + validPayload() + "\n```"
	require.NoError(t, decodeStructured(raw, &out))
	assert.Equal(t, "hi", out.ProactiveGreeting())
}

func TestDecodeStructuredRejectsShortOutput(t *testing.T) {
	var out HolisticResult
	err := decodeStructured(`{"persistence_payload": {}}`, &out)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "too short")
}

func TestDecodeStructuredRejectsTruncationMarkers(t *testing.T) {
	var out HolisticResult
	err := decodeStructured(validPayload()+"...", &out)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	marked := strings.Replace(validPayload(), `"hi"`, `"truncated"`, 1)
	err = decodeStructured(marked, &out)
	require.ErrorAs(t, err, &verr)
}

func TestDecodeStructuredRejectsMalformedJSON(t *testing.T) {
	var out HolisticResult
	long := validPayload()
	err := decodeStructured(long[:len(long)-2], &out)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "malformed JSON")
}
