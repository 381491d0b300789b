package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRelationshipType(t *testing.T) {
	cases := map[string]string{
		"influences":       "INFLUENCES",
		"is similar to":    "IS_SIMILAR_TO",
		"Contributes-To":   "CONTRIBUTES_TO",
		"ENABLES":          "ENABLES",
		"":                 "RELATED_TO",
		"   ":              "RELATED_TO",
		"is_a_type_of":     "IS_A_TYPE_OF",
		"related to":       "RELATED_TO",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeRelationshipType(in), "input %q", in)
	}
}

func TestCoherentRelationship(t *testing.T) {
	assert.True(t, CoherentRelationship("INFLUENCES", "this habit influences her mood"))
	assert.False(t, CoherentRelationship("INFLUENCES", "these are totally unconnected"))
	assert.True(t, CoherentRelationship("CAUSES", "stress leads to poor sleep"))
	// RELATED_TO accepts any description.
	assert.True(t, CoherentRelationship("RELATED_TO", "anything at all"))
	// Unknown labels are not constrained.
	assert.True(t, CoherentRelationship("STRATEGIC_RELATIONSHIP", "whatever"))
	// Empty descriptions never satisfy a typed label.
	assert.False(t, CoherentRelationship("ENABLES", "  "))
}
