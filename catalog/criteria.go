package catalog

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Vidura-Wijekoon/fitassist/model"
)

// Muscles accepted by the catalog.
var Muscles = []string{
	"abdominals", "abductors", "adductors", "biceps", "calves", "chest",
	"forearms", "glutes", "hamstrings", "lats", "lower_back", "middle_back",
	"neck", "quadriceps", "traps", "triceps",
}

// Types accepted by the catalog.
var Types = []string{
	"cardio", "olympic_weightlifting", "plyometrics", "powerlifting",
	"strength", "stretching", "strongman",
}

// Difficulties accepted by the catalog.
var Difficulties = []string{"beginner", "intermediate", "expert"}

// synonyms maps colloquial names onto catalog vocabulary. Keys are already
// normalised (lower case, underscores).
var synonyms = map[string]string{
	"abs":        "abdominals",
	"ab":         "abdominals",
	"core":       "abdominals",
	"stomach":    "abdominals",
	"quads":      "quadriceps",
	"quad":       "quadriceps",
	"bicep":      "biceps",
	"tricep":     "triceps",
	"calf":       "calves",
	"glute":      "glutes",
	"butt":       "glutes",
	"hamstring":  "hamstrings",
	"lat":        "lats",
	"lower_back": "lower_back",
	"upper_back": "middle_back",
	"back":       "middle_back",
	"pecs":       "chest",
	"pec":        "chest",
	"delts":      "shoulders",
	"delt":       "shoulders",
	"trap":       "traps",
	"forearm":    "forearms",
	"olympic":    "olympic_weightlifting",
	"stretch":    "stretching",
	"plyometric": "plyometrics",
	"plyo":       "plyometrics",
	"easy":       "beginner",
	"novice":     "beginner",
	"medium":     "intermediate",
	"advanced":   "expert",
	"hard":       "expert",
}

// Criteria are the filters of a catalog search. Empty fields are not sent.
type Criteria struct {
	Muscle     string `json:"muscle,omitempty"`
	Type       string `json:"type,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Empty reports whether no filter is set.
func (c Criteria) Empty() bool {
	return c == Criteria{}
}

// Normalize lower-cases and trims a term, replaces spaces with underscores
// and resolves synonyms.
func Normalize(term string) string {
	t := strings.ToLower(strings.TrimSpace(term))
	t = strings.Join(strings.Fields(t), "_")
	t = strings.ReplaceAll(t, "-", "_")
	if s, ok := synonyms[t]; ok {
		return s
	}
	return t
}

// Normalized returns c with every enumerated field normalised and
// validated. Unknown values fail with model.ErrInvalidCriteria.
func (c Criteria) Normalized() (Criteria, error) {
	out := Criteria{Name: strings.TrimSpace(c.Name)}
	var err error
	if out.Muscle, err = normalizeField("muscle", c.Muscle, muscleVocabulary); err != nil {
		return Criteria{}, err
	}
	if out.Type, err = normalizeField("type", c.Type, Types); err != nil {
		return Criteria{}, err
	}
	if out.Difficulty, err = normalizeField("difficulty", c.Difficulty, Difficulties); err != nil {
		return Criteria{}, err
	}
	return out, nil
}

// muscleVocabulary is Muscles plus shoulders, which the synonym map
// resolves deltoid terms to.
var muscleVocabulary = append(slices.Clone(Muscles), "shoulders")

func normalizeField(field, value string, allowed []string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	v := Normalize(value)
	if !slices.Contains(allowed, v) {
		return "", fmt.Errorf("%s %q is not one of %s: %w",
			field, value, strings.Join(allowed, ", "), model.ErrInvalidCriteria)
	}
	return v, nil
}

// ParseQuery scans free text for known muscle, type and difficulty terms.
// When none is found the whole text becomes the name filter.
func ParseQuery(query string) Criteria {
	var c Criteria
	lower := strings.ToLower(query)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && r != '_'
	})

	// Two-word terms first, e.g. "lower back".
	for i := 0; i+1 < len(words); i++ {
		classify(&c, Normalize(words[i]+" "+words[i+1]))
	}
	for _, w := range words {
		classify(&c, Normalize(w))
	}

	if c.Empty() {
		c.Name = strings.TrimSpace(query)
	}
	return c
}

func classify(c *Criteria, term string) {
	switch {
	case c.Muscle == "" && slices.Contains(muscleVocabulary, term):
		c.Muscle = term
	case c.Type == "" && slices.Contains(Types, term):
		c.Type = term
	case c.Difficulty == "" && slices.Contains(Difficulties, term):
		c.Difficulty = term
	}
}
