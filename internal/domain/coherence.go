package domain

import "strings"

// RelationshipFallback is the catch-all label used when an emergent label
// cannot be derived from the LLM's relationship type.
const RelationshipFallback = "RELATED_TO"

// allowedPhrases maps each typed relationship label to the description
// phrases considered coherent with it. A description is coherent when it
// contains any allowed phrase (case-insensitive). RELATED_TO accepts any
// description and is intentionally absent here.
var allowedPhrases = map[string][]string{
	"INFLUENCES":              {"influence", "shape", "affect", "impact"},
	"CAUSES":                  {"cause", "lead", "result in", "trigger"},
	"IS_SIMILAR_TO":           {"similar", "alike", "resemble", "parallel"},
	"INSPIRES":                {"inspire", "motivate", "spark"},
	"CONTRIBUTES_TO":          {"contribute", "support", "feed into", "advance"},
	"IS_A_TYPE_OF":            {"type of", "kind of", "category", "instance"},
	"IS_PART_OF":              {"part of", "component", "belongs to", "within"},
	"PRECEDES":                {"precede", "before", "prior", "earlier"},
	"FOLLOWS":                 {"follow", "after", "subsequent", "later"},
	"ENABLES":                 {"enable", "allow", "make possible", "unlock"},
	"PREVENTS":                {"prevent", "block", "stop", "inhibit"},
	"EXEMPLIFIES_TRAIT":       {"exemplif", "demonstrate", "show", "trait"},
	"SUPPORTS_VALUE":          {"value", "uphold", "align", "support"},
	"IS_MILESTONE_FOR":        {"milestone", "step toward", "progress", "achievement"},
	"IS_METAPHOR_FOR":         {"metaphor", "like", "as if", "stands in"},
	"REPRESENTS_SYMBOLICALLY": {"symbol", "represent", "embod", "signif"},
}

// NormalizeRelationshipType turns a free-form relationship type from the LLM
// into an emergent uppercase label, e.g. "influences" -> "INFLUENCES" and
// "is similar to" -> "IS_SIMILAR_TO". Empty input falls back to RELATED_TO.
func NormalizeRelationshipType(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return RelationshipFallback
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 32)
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			if b.Len() > 0 && b.String()[b.Len()-1] != '_' {
				b.WriteByte('_')
			}
		}
	}
	label := strings.Trim(b.String(), "_")
	if label == "" {
		return RelationshipFallback
	}
	return label
}

// CoherentRelationship reports whether the (label, description) pair passes
// the coherence table. Unknown labels and RELATED_TO accept any description.
// Callers log a mismatch but still create the edge.
func CoherentRelationship(label, description string) bool {
	phrases, ok := allowedPhrases[label]
	if !ok {
		return true
	}
	desc := strings.ToLower(description)
	if strings.TrimSpace(desc) == "" {
		return false
	}
	for _, p := range phrases {
		if strings.Contains(desc, p) {
			return true
		}
	}
	return false
}
