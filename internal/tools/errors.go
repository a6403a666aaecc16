package tools

import "fmt"

// UnknownToolError means the model asked for a tool that is not in the
// catalogue. The call is rejected; nothing is executed.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// InvalidArgumentError means the arguments failed validation before the
// tool ran. Field names the offending argument.
type InvalidArgumentError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: invalid argument %q: %s", e.Tool, e.Field, e.Reason)
}

func invalidArg(tool, field, reason string) error {
	return &InvalidArgumentError{Tool: tool, Field: field, Reason: reason}
}
