// Package anthropic binds the driver contract to the Anthropic Messages API.
// It translates the provider's SSE stream into the canonical stream event
// alphabet and runs the tool loop: when a step stops with tool_use, the
// requested calls are executed and their results re-submitted until the
// provider terminates the step.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"go.uber.org/zap"

	xerrors "github.com/agentx/agentx/internal/common/errors"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/driver"
	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/internal/message"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096

	// maxToolRounds bounds the tool loop so a provider that keeps requesting
	// tools cannot spin a turn forever.
	maxToolRounds = 25
)

// ClientConfig configures the shared Anthropic client.
type ClientConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewFactory creates a driver factory over one shared Anthropic client.
func NewFactory(cfg ClientConfig, log *logger.Logger) (driver.Factory, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := sdk.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return driver.FactoryFunc(func(dc driver.Config) (driver.Driver, error) {
		m := dc.Model
		if m == "" {
			m = model
		}
		return &Driver{
			client:    client,
			logger:    log.WithAgentID(dc.AgentID),
			agentID:   dc.AgentID,
			system:    dc.SystemPrompt,
			model:     m,
			maxTokens: int64(maxTokens),
			tools:     dc.Tools,
			persist:   dc.Persist,
			state:     dc.InitialState,
		}, nil
	}), nil
}

// Driver is one agent's binding to the Anthropic API.
type Driver struct {
	client    sdk.Client
	logger    *logger.Logger
	agentID   string
	system    string
	model     string
	maxTokens int64
	tools     driver.ToolExecutor
	persist   driver.StatePersister

	mu     sync.Mutex
	cancel context.CancelFunc
	state  map[string]any
}

// Receive runs one turn against the provider.
func (d *Driver) Receive(ctx context.Context, req driver.Request) (<-chan *event.Event, error) {
	history := make([]message.Message, 0, len(req.History)+1)
	history = append(history, req.History...)
	history = append(history, req.UserMessage)

	msgs, err := convertHistory(history)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CategoryValidation, xerrors.CodeInvalidMessage, "history not representable", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	out := make(chan *event.Event, 64)
	go func() {
		defer close(out)
		defer func() {
			cancel()
			d.mu.Lock()
			d.cancel = nil
			d.mu.Unlock()
		}()
		d.run(runCtx, req, msgs, out)
	}()
	return out, nil
}

// Interrupt cancels the in-flight turn. The pump observes the cancellation
// and yields the interrupted event before the channel closes.
func (d *Driver) Interrupt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// State returns the resume cursor.
func (d *Driver) State() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SetState restores the resume cursor.
func (d *Driver) SetState(state map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
}

// run drives the tool loop for one turn.
func (d *Driver) run(ctx context.Context, req driver.Request, msgs []sdk.MessageParam, out chan<- *event.Event) {
	model := req.Model
	if model == "" {
		model = d.model
	}
	system := req.SystemPrompt
	if system == "" {
		system = d.system
	}

	var tools []sdk.ToolUnionParam
	if d.tools != nil {
		var err error
		tools, err = convertTools(d.tools.Tools())
		if err != nil {
			out <- event.New(event.TypeError, d.agentID, event.ErrorData{Error: xerrors.Classify(err)})
			return
		}
	}

	for round := 0; round < maxToolRounds; round++ {
		params := sdk.MessageNewParams{
			Model:     sdk.Model(model),
			Messages:  msgs,
			MaxTokens: d.maxTokens,
		}
		if system != "" {
			params.System = []sdk.TextBlockParam{{Type: "text", Text: system}}
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		stream := d.client.Messages.NewStreaming(ctx, params)
		res := d.pump(stream, out)

		if res.err != nil {
			if ctx.Err() != nil {
				out <- event.New(event.TypeInterrupted, d.agentID, event.InterruptedData{Reason: "user interrupt"})
				return
			}
			out <- event.New(event.TypeError, d.agentID, event.ErrorData{Error: xerrors.Classify(res.err)})
			return
		}

		d.persistCursor(model, res.messageID)

		if res.stopReason != message.StopReasonToolCalls || len(res.calls) == 0 || d.tools == nil {
			return
		}

		// Append the assistant step and the tool results, then go around for
		// the provider's next message. message_stop already went out before
		// the first tool result, keeping the assistant message a distinct
		// entity in the transcript.
		msgs = append(msgs, sdk.NewAssistantMessage(res.blocks...))

		resultBlocks := make([]sdk.ContentBlockParamUnion, 0, len(res.calls))
		for _, call := range res.calls {
			outcome := d.tools.Execute(ctx, call)
			if ctx.Err() != nil {
				out <- event.New(event.TypeInterrupted, d.agentID, event.InterruptedData{Reason: "user interrupt"})
				return
			}
			out <- event.New(event.TypeToolResult, d.agentID, event.ToolResultData{
				ToolCallID:   call.ID,
				Result:       outcome.Result,
				IsError:      outcome.IsError,
				Denied:       outcome.Denied,
				DeniedReason: outcome.DeniedReason,
			})
			content, isErr := renderOutcome(outcome)
			resultBlocks = append(resultBlocks, sdk.NewToolResultBlock(call.ID, content, isErr))
		}
		msgs = append(msgs, sdk.NewUserMessage(resultBlocks...))
	}

	d.logger.Warn("Tool loop exceeded round limit", zap.Int("rounds", maxToolRounds))
	out <- event.New(event.TypeError, d.agentID, event.ErrorData{
		Error: xerrors.New(xerrors.CategoryDriver, xerrors.CodeReceiveFailed,
			fmt.Sprintf("tool loop did not terminate within %d rounds", maxToolRounds)),
	})
}

// stepResult is the outcome of pumping one provider message.
type stepResult struct {
	messageID  string
	stopReason message.StopReason
	calls      []message.ToolCall
	blocks     []sdk.ContentBlockParamUnion
	err        error
}

type toolBuffer struct {
	id   string
	name string
	buf  strings.Builder
}

// pump translates one SSE message into canonical stream events.
func (d *Driver) pump(stream *ssestream.Stream[sdk.MessageStreamEventUnion], out chan<- *event.Event) stepResult {
	var res stepResult

	var text strings.Builder
	var textOpen bool
	var tool *toolBuffer
	var stopReason string
	var inputTokens, outputTokens int64

	closeText := func() {
		if !textOpen {
			return
		}
		textOpen = false
		if text.Len() > 0 {
			res.blocks = append(res.blocks, sdk.NewTextBlock(text.String()))
		}
		text.Reset()
		out <- event.New(event.TypeTextBlockStop, d.agentID, nil)
	}

	for stream.Next() {
		ev := stream.Current()

		switch ev.Type {
		case "message_start":
			ms := ev.AsMessageStart()
			res.messageID = ms.Message.ID
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = ms.Message.Usage.InputTokens
			}
			out <- event.New(event.TypeMessageStart, d.agentID, event.MessageStartData{
				MessageID: ms.Message.ID,
				Model:     string(ms.Message.Model),
			})

		case "content_block_start":
			cbs := ev.AsContentBlockStart()
			switch cbs.ContentBlock.Type {
			case "text":
				textOpen = true
				text.Reset()
				out <- event.New(event.TypeTextBlockStart, d.agentID, nil)
			case "tool_use":
				closeText()
				tu := cbs.ContentBlock.AsToolUse()
				tool = &toolBuffer{id: tu.ID, name: tu.Name}
				out <- event.New(event.TypeToolUseBlockStart, d.agentID, event.ToolUseStartData{
					ToolCallID: tu.ID,
					ToolName:   tu.Name,
				})
			}

		case "content_block_delta":
			delta := ev.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text == "" {
					break
				}
				text.WriteString(delta.Text)
				out <- event.New(event.TypeTextDelta, d.agentID, event.TextDeltaData{Text: delta.Text})
			case "input_json_delta":
				if tool == nil || delta.PartialJSON == "" {
					break
				}
				tool.buf.WriteString(delta.PartialJSON)
				out <- event.New(event.TypeInputJSONDelta, d.agentID, event.InputJSONDeltaData{PartialJSON: delta.PartialJSON})
			}

		case "content_block_stop":
			if tool != nil {
				call := message.ToolCall{ID: tool.id, Name: tool.name, Input: parseToolInput(d.logger, tool.id, tool.buf.String())}
				tool = nil
				res.calls = append(res.calls, call)
				raw, _ := json.Marshal(call.Input)
				res.blocks = append(res.blocks, sdk.NewToolUseBlock(call.ID, json.RawMessage(raw), call.Name))
				out <- event.New(event.TypeToolUseBlockStop, d.agentID, event.ToolUseStopData{
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Input:      call.Input,
				})
				out <- event.New(event.TypeToolCall, d.agentID, event.ToolCallData{Call: call})
			} else {
				closeText()
			}

		case "message_delta":
			md := ev.AsMessageDelta()
			stopReason = string(md.Delta.StopReason)
			if md.Usage.OutputTokens > 0 {
				outputTokens = md.Usage.OutputTokens
			}

		case "message_stop":
			closeText()
			res.stopReason = mapStopReason(stopReason)
			out <- event.New(event.TypeMessageStop, d.agentID, event.MessageStopData{
				StopReason: res.stopReason,
				Usage:      &message.Usage{InputTokens: int(inputTokens), OutputTokens: int(outputTokens)},
			})
			return res

		case "error":
			res.err = errors.New("anthropic stream error")
			return res
		}
	}

	if err := stream.Err(); err != nil {
		res.err = err
		return res
	}
	res.err = errors.New("anthropic stream ended without message_stop")
	return res
}

func (d *Driver) persistCursor(model, messageID string) {
	d.mu.Lock()
	d.state = map[string]any{
		"provider":      "anthropic",
		"model":         model,
		"lastMessageId": messageID,
	}
	state := d.state
	persist := d.persist
	d.mu.Unlock()

	if persist == nil {
		return
	}
	if err := persist(state); err != nil {
		d.logger.Warn("Resume cursor persist failed", zap.Error(err))
	}
}

// parseToolInput decodes the accumulated partial JSON of a tool_use block.
// Malformed input degrades to an empty object so the turn can continue.
func parseToolInput(log *logger.Logger, callID, raw string) map[string]any {
	input := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return input
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		log.Warn("Tool input JSON malformed, using empty object",
			zap.String("tool_call_id", callID),
			zap.Error(err))
		return map[string]any{}
	}
	return input
}

func mapStopReason(s string) message.StopReason {
	switch s {
	case "tool_use":
		return message.StopReasonToolCalls
	case "max_tokens":
		return message.StopReasonMaxTokens
	default:
		return message.StopReasonStop
	}
}

// convertHistory maps the conversation onto Anthropic message params. System
// messages go out separately; consecutive same-role entries fold into one
// message because the API enforces strict role alternation.
func convertHistory(history []message.Message) ([]sdk.MessageParam, error) {
	var out []sdk.MessageParam
	var blocks []sdk.ContentBlockParamUnion
	assistant := false

	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if assistant {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
		blocks = nil
	}

	for _, m := range history {
		if m.Kind == message.KindSystem {
			continue
		}
		isAssistant := !m.UserEquivalent()
		if isAssistant != assistant {
			flush()
			assistant = isAssistant
		}
		bs, err := blocksFor(m)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, bs...)
	}
	flush()
	return out, nil
}

func blocksFor(m message.Message) ([]sdk.ContentBlockParamUnion, error) {
	if m.Kind == message.KindToolResult {
		if m.ToolResult == nil {
			return nil, fmt.Errorf("tool result %s has no output", m.ID)
		}
		content, isErr := renderToolResult(*m.ToolResult)
		return []sdk.ContentBlockParamUnion{sdk.NewToolResultBlock(m.ToolCallID, content, isErr)}, nil
	}

	var blocks []sdk.ContentBlockParamUnion
	for _, p := range m.Content {
		switch p.Type {
		case message.PartTypeText:
			if p.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(p.Text))
			}
		case message.PartTypeToolCall:
			raw, err := json.Marshal(p.ToolCall.Input)
			if err != nil {
				return nil, fmt.Errorf("tool call %s: %w", p.ToolCall.ID, err)
			}
			blocks = append(blocks, sdk.NewToolUseBlock(p.ToolCall.ID, json.RawMessage(raw), p.ToolCall.Name))
		case message.PartTypeImage:
			blocks = append(blocks, sdk.NewImageBlockBase64(p.Image.MediaType, p.Image.Data))
		}
		// Thinking and file parts are not re-submitted.
	}
	return blocks, nil
}

func renderToolResult(out message.ToolResultOutput) (string, bool) {
	if out.Type == message.OutputExecutionDenied {
		return "tool execution denied: " + out.Reason, true
	}
	return stringify(out.Value), out.IsError()
}

func renderOutcome(outcome driver.ToolOutcome) (string, bool) {
	if outcome.Denied {
		return "tool execution denied: " + outcome.DeniedReason, true
	}
	return stringify(outcome.Result), outcome.IsError
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func convertTools(defs []driver.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		raw, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: invalid input schema: %w", def.Name, err)
		}
		var schema sdk.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid input schema: %w", def.Name, err)
		}
		param := sdk.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("tool %s: missing tool definition", def.Name)
		}
		if def.Description != "" {
			param.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, param)
	}
	return out, nil
}
