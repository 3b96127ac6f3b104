package message

// OutputType discriminates the tool-result output union.
type OutputType string

const (
	OutputText            OutputType = "text"
	OutputJSON            OutputType = "json"
	OutputErrorText       OutputType = "error-text"
	OutputErrorJSON       OutputType = "error-json"
	OutputExecutionDenied OutputType = "execution-denied"
)

// ToolResultOutput is the tagged result of a tool execution. Value holds a
// string for the text variants and a structured value for the json variants;
// Reason is set only for execution-denied.
type ToolResultOutput struct {
	Type   OutputType `json:"type"`
	Value  any        `json:"value,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// IsError reports whether the output represents a failed execution.
func (o ToolResultOutput) IsError() bool {
	switch o.Type {
	case OutputErrorText, OutputErrorJSON, OutputExecutionDenied:
		return true
	default:
		return false
	}
}

// DeniedOutput builds the distinguished execution-denied output.
func DeniedOutput(reason string) ToolResultOutput {
	return ToolResultOutput{Type: OutputExecutionDenied, Reason: reason}
}

// ClassifyOutput maps a raw (result, isError) pair from a driver onto the
// output union: strings become text/error-text, structured values become
// json/error-json.
func ClassifyOutput(result any, isError bool) ToolResultOutput {
	if s, ok := result.(string); ok {
		if isError {
			return ToolResultOutput{Type: OutputErrorText, Value: s}
		}
		return ToolResultOutput{Type: OutputText, Value: s}
	}
	if isError {
		return ToolResultOutput{Type: OutputErrorJSON, Value: result}
	}
	return ToolResultOutput{Type: OutputJSON, Value: result}
}
