package agent

// State carries one question through the pipeline. A paused State (query
// generated, not yet executed) round-trips through the checkpoint token so
// the approval endpoints can resume it without server-side storage.
type State struct {
	Username         string `json:"username"`
	Question         string `json:"question"`
	ResolvedQuestion string `json:"resolved_question"`
	MemoryContext    string `json:"context_from_memory"`
	Intent           string `json:"intent,omitempty"`
	Query            string `json:"query"`
	Result           string `json:"result"`
	Answer           string `json:"answer"`
	Feedback         string `json:"feedback,omitempty"`
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
}

// Pending reports whether the state is paused at the approval checkpoint.
func (s State) Pending() bool {
	return s.Success && s.Intent == IntentSQL && s.Result == "" && s.Answer == ""
}
