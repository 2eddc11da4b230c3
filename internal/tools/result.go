package tools

// Result is the unified return type from tool execution. ForLLM is what
// the conversation sees; side effects on users happen inside the tool.
type Result struct {
	ForLLM  string // content sent to the LLM
	IsError bool   // marks error
	Async   bool   // work continues in the background
	Err     error  // internal error, never serialized
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

// AsyncResult reports work that was accepted but not finished; the
// outcome arrives later through the event queue.
func AsyncResult(message string) *Result {
	return &Result{ForLLM: message, Async: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
