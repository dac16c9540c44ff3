package tools

import "encoding/json"

// Result is the unified return type from tool execution. ForLLM is what the
// handler serializes into the tool entry; Err is kept for logging only.
type Result struct {
	ForLLM  string `json:"for_llm"`
	IsError bool   `json:"is_error"`
	Err     error  `json:"-"`

	// ImageURL carries a data URL when the tool returns image content.
	// The handler turns it into a multimodal tool entry.
	ImageURL string `json:"-"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

// JSONResult marshals v as the ForLLM payload. Marshal failures surface as
// error results so the LLM sees something actionable.
func JSONResult(v any) *Result {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorResult("internal: encode tool result: " + err.Error())
	}
	return NewResult(string(data))
}
