package memory

import (
	"regexp"
	"strings"
)

// capitalizedRun matches one or more adjacent capitalized words.
var capitalizedRun = regexp.MustCompile(`\p{Lu}[\p{L}\p{N}'’-]*(?:[ \t]+\p{Lu}[\p{L}\p{N}'’-]*)*`)

// stopWords are capitalized for grammatical reasons rather than because they name something.
var stopWords = toSet(
	"a", "an", "the", "i", "i'm", "i've", "i'll", "i'd", "me", "my", "you", "your", "we", "our",
	"he", "she", "it", "they", "them", "his", "her", "its", "their", "this", "that", "these", "those",
	"what", "who", "whom", "which", "when", "where", "why", "how",
	"is", "are", "was", "were", "be", "do", "does", "did", "have", "has", "had",
	"and", "or", "but", "so", "if", "then", "because", "also", "just", "not", "no", "yes",
	"in", "on", "at", "to", "for", "of", "with", "from", "by", "about", "as",
	"hello", "hi", "hey", "thanks", "thank", "please", "okay", "ok", "sure", "well", "oh",
	"can", "could", "would", "should", "will", "shall", "may", "might", "must",
	"user", "agent", "message", "reply",
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Entity is a name found in text.
type Entity struct {
	Name string // as written
	Key  string // normalized for matching
}

// ExtractEntities returns the distinct names in text, in order of first appearance.
// Names are runs of capitalized words with stop words trimmed from both ends.
func ExtractEntities(text string) []Entity {
	seen := make(map[string]struct{})
	var out []Entity
	for _, run := range capitalizedRun.FindAllString(text, -1) {
		words := strings.Fields(run)
		for i := range words {
			words[i] = cleanWord(words[i])
		}
		for len(words) > 0 && isStopWord(words[0]) {
			words = words[1:]
		}
		for len(words) > 0 && isStopWord(words[len(words)-1]) {
			words = words[:len(words)-1]
		}
		if len(words) == 0 {
			continue
		}
		name := strings.Join(words, " ")
		if len([]rune(name)) < 2 {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Entity{Name: name, Key: key})
	}
	return out
}

func cleanWord(w string) string {
	w = strings.TrimRight(w, "'’-")
	for _, suffix := range []string{"'s", "’s"} {
		w = strings.TrimSuffix(w, suffix)
	}
	return w
}

func isStopWord(w string) bool {
	if w == "" {
		return true
	}
	_, ok := stopWords[strings.ToLower(w)]
	return ok
}
