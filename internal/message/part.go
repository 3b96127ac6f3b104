package message

// PartType discriminates the content part union.
type PartType string

const (
	PartTypeText     PartType = "text"
	PartTypeThinking PartType = "thinking"
	PartTypeToolCall PartType = "tool-call"
	PartTypeImage    PartType = "image"
	PartTypeFile     PartType = "file"
)

// Part is one element of a message's ordered content list. Which fields are
// populated depends on Type.
type Part struct {
	Type PartType `json:"type"`

	Text      string    `json:"text,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	ToolCall  *ToolCall `json:"toolCall,omitempty"`
	Image     *Blob     `json:"image,omitempty"`
	File      *Blob     `json:"file,omitempty"`
}

// ToolCall is a provider-requested tool invocation.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// Blob is binary content attached to a message, base64-encoded on the wire.
type Blob struct {
	Data      string `json:"data"`
	MediaType string `json:"mediaType"`
	Name      string `json:"name,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// ThinkingPart builds a reasoning part.
func ThinkingPart(reasoning string) Part {
	return Part{Type: PartTypeThinking, Reasoning: reasoning}
}

// ToolCallPart builds a tool-call part.
func ToolCallPart(call ToolCall) Part {
	c := call
	if c.Input == nil {
		c.Input = map[string]any{}
	}
	return Part{Type: PartTypeToolCall, ToolCall: &c}
}

// ImagePart builds an image part.
func ImagePart(data, mediaType, name string) Part {
	return Part{Type: PartTypeImage, Image: &Blob{Data: data, MediaType: mediaType, Name: name}}
}

// FilePart builds a file part.
func FilePart(data, mediaType, filename string) Part {
	return Part{Type: PartTypeFile, File: &Blob{Data: data, MediaType: mediaType, Name: filename}}
}
