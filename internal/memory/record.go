package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Interaction is one completed question/answer turn. Query and Result are
// empty for chat-only turns. Interactions are immutable once recorded.
type Interaction struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Question  string    `json:"question"`
	Query     string    `json:"query"`
	Result    string    `json:"result"`
	Answer    string    `json:"answer"`
}

// PatternExample is one question/query pair filed under a pattern key.
type PatternExample struct {
	Question string `json:"question"`
	Query    string `json:"query"`
}

// EntityRef points an extracted entity back at the interaction that
// produced it.
type EntityRef struct {
	Question  string    `json:"question"`
	Result    string    `json:"result"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// Record bundles one user's conversational memory: the bounded
// interaction log, the pattern index (introspection only), and the entity
// index used for reference resolution.
type Record struct {
	Username   string
	MaxHistory int
	History    []Interaction
	Patterns   map[string][]PatternExample
	Entities   map[string]EntityRef

	// UpdatedAt orders users when the durable backend is unavailable.
	UpdatedAt time.Time
}

// NewRecord creates an empty record for username. maxHistory values <= 0
// fall back to 10.
func NewRecord(username string, maxHistory int) *Record {
	if maxHistory <= 0 {
		maxHistory = 10
	}
	return &Record{
		Username:   username,
		MaxHistory: maxHistory,
		Patterns:   make(map[string][]PatternExample),
		Entities:   make(map[string]EntityRef),
	}
}

// Add appends an interaction, evicting the oldest entries beyond
// MaxHistory, and recomputes the pattern and entity indexes for it.
func (r *Record) Add(in Interaction) {
	r.History = append(r.History, in)
	if len(r.History) > r.MaxHistory {
		r.History = r.History[len(r.History)-r.MaxHistory:]
	}

	r.extractPatterns(in)
	r.extractEntities(in)
	r.UpdatedAt = in.Timestamp
}

// patternNouns is the fixed vocabulary scanned for question patterns.
var patternNouns = []string{"student", "name", "marks", "class", "section", "grade", "email", "id"}

func (r *Record) extractPatterns(in Interaction) {
	lower := strings.ToLower(in.Question)
	for _, noun := range patternNouns {
		if !strings.Contains(lower, noun) {
			continue
		}
		key := noun + "_queries"
		r.Patterns[key] = append(r.Patterns[key], PatternExample{Question: in.Question, Query: in.Query})
	}
}

// extractEntities records the first field of each result tuple as a
// lower-cased entity key. Results that are not tuple literals are skipped
// silently: most chat turns and failed queries produce none.
func (r *Record) extractEntities(in Interaction) {
	rows, ok := ParseTuples(in.Result)
	if !ok {
		return
	}
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		entity := strings.ToLower(strings.TrimSpace(row[0]))
		if entity == "" {
			continue
		}
		r.Entities[entity] = EntityRef{
			Question:  in.Question,
			Result:    in.Result,
			Answer:    in.Answer,
			Timestamp: in.Timestamp,
		}
	}
}

// pronouns is the fixed set substituted during reference resolution.
var pronouns = []string{"her", "his", "their", "it", "she", "he", "they"}

var pronounPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(pronouns))
	for _, p := range pronouns {
		m[p] = regexp.MustCompile(`(?i)\b` + p + `\b`)
	}
	return m
}()

// ResolveReferences substitutes pronouns in the question with the subject
// of the most recent interaction's result, and rewrites bare
// "what ... marks/grade" questions toward the most recently seen entity.
// Multiple distinct pronouns referring to different entities all resolve
// to the same subject; that is a known limitation.
func (r *Record) ResolveReferences(question string) string {
	resolved := question

	for _, pronoun := range pronouns {
		re := pronounPatterns[pronoun]
		if !re.MatchString(resolved) {
			continue
		}
		name, ok := r.lastResultSubject()
		if !ok {
			continue
		}
		resolved = re.ReplaceAllString(resolved, name)
	}

	lower := strings.ToLower(question)
	if strings.Contains(lower, "what") && (strings.Contains(lower, "marks") || strings.Contains(lower, "grade")) {
		if entity, ok := r.mostRecentEntity(); ok && !r.mentionsKnownEntity(lower) {
			resolved = fmt.Sprintf("what are %s's marks", entity)
		}
	}

	return resolved
}

// lastResultSubject returns the first field of the first tuple in the most
// recent interaction's result.
func (r *Record) lastResultSubject() (string, bool) {
	if len(r.History) == 0 {
		return "", false
	}
	rows, ok := ParseTuples(r.History[len(r.History)-1].Result)
	if !ok || len(rows) == 0 || len(rows[0]) == 0 {
		return "", false
	}
	subject := rows[0][0]
	if subject == "" {
		return "", false
	}
	return subject, true
}

func (r *Record) mostRecentEntity() (string, bool) {
	if len(r.Entities) == 0 {
		return "", false
	}
	keys := r.entityKeys()
	best := keys[0]
	for _, k := range keys[1:] {
		if r.Entities[k].Timestamp.After(r.Entities[best].Timestamp) {
			best = k
		}
	}
	return best, true
}

func (r *Record) mentionsKnownEntity(lowerQuestion string) bool {
	for entity := range r.Entities {
		if strings.Contains(lowerQuestion, entity) {
			return true
		}
	}
	return false
}

// RelevantContext builds the prompt narrative from memory: the last two
// interactions plus any older one whose question shares at least two
// words with the current question, capped at the three most relevant,
// plus the known entity keys. Empty history yields an empty narrative.
func (r *Record) RelevantContext(question string) string {
	if len(r.History) == 0 {
		return ""
	}

	currentWords := wordSet(question)

	recent := r.History
	if len(recent) > 2 {
		recent = recent[len(recent)-2:]
	}

	var related []Interaction
	for _, in := range r.History {
		if commonWords(currentWords, wordSet(in.Question)) >= 2 {
			related = append(related, in)
		}
	}

	seen := make(map[string]bool)
	var unique []Interaction
	for _, in := range append(append([]Interaction{}, recent...), related...) {
		key := in.Question + "\x00" + in.Timestamp.Format(time.RFC3339Nano)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, in)
	}

	if len(unique) > 3 {
		unique = unique[len(unique)-3:]
	}

	var parts []string
	parts = append(parts, "CONVERSATION CONTEXT (use this to resolve references like 'her', 'his', 'it', etc.):")
	for i, in := range unique {
		parts = append(parts, fmt.Sprintf("\n%d. Previous Question: %s", i+1, in.Question))
		parts = append(parts, fmt.Sprintf("   SQL Query: %s", in.Query))
		parts = append(parts, fmt.Sprintf("   Result: %s", in.Result))
		parts = append(parts, fmt.Sprintf("   Answer Given: %s", in.Answer))
	}
	if len(r.Entities) > 0 {
		parts = append(parts, fmt.Sprintf("\nKNOWN ENTITIES: %v", r.entityKeys()))
	}

	return strings.Join(parts, "\n")
}

func (r *Record) entityKeys() []string {
	keys := make([]string, 0, len(r.Entities))
	for k := range r.Entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Record) patternKeys() []string {
	keys := make([]string, 0, len(r.Patterns))
	for k := range r.Patterns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summary is the introspection view returned by the memory commands.
type Summary struct {
	Username           string        `json:"username"`
	TotalInteractions  int           `json:"total_interactions"`
	RecentInteractions []Interaction `json:"recent_interactions"`
	KnownEntities      []string      `json:"known_entities"`
	QuestionPatterns   []string      `json:"question_patterns"`
}

// Summarize returns the record's introspection view: the last five
// interactions plus the entity and pattern key sets.
func (r *Record) Summarize() Summary {
	recent := r.History
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	out := make([]Interaction, len(recent))
	copy(out, recent)

	return Summary{
		Username:           r.Username,
		TotalInteractions:  len(r.History),
		RecentInteractions: out,
		KnownEntities:      r.entityKeys(),
		QuestionPatterns:   r.patternKeys(),
	}
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}

func commonWords(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}
