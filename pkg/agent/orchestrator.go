package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// ToolInvocation records the arguments of one tool call in the trace.
type ToolInvocation struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	Timestamp string                 `json:"timestamp"`
}

// ToolOutcome records what the tool returned, including the literal store
// query when one was issued.
type ToolOutcome struct {
	ToolName        string      `json:"tool_name"`
	Result          interface{} `json:"result"`
	StoreQuery      string      `json:"store_query,omitempty"`
	ExecutionTimeMs int64       `json:"execution_time_ms"`
	Timestamp       string      `json:"timestamp"`
}

// ReasoningStep is one recorded unit of the agent's work. A step with no
// tool_call is pure model reasoning, such as the final synthesis.
type ReasoningStep struct {
	StepNumber int             `json:"step_number"`
	Thought    string          `json:"thought"`
	ToolCall   *ToolInvocation `json:"tool_call,omitempty"`
	ToolResult *ToolOutcome    `json:"tool_result,omitempty"`
}

// AgentResponse is the full glass-box answer: the final text plus every step
// that produced it. Immutable after return.
type AgentResponse struct {
	Question        string          `json:"question"`
	FinalAnswer     string          `json:"final_answer"`
	ReasoningSteps  []ReasoningStep `json:"reasoning_steps"`
	TotalDurationMs int64           `json:"total_duration_ms"`
	Success         bool            `json:"success"`
	Error           string          `json:"error,omitempty"`
}

type EventType string

const (
	EventThinking  EventType = "thinking"
	EventToolStart EventType = "tool_start"
	EventToolDone  EventType = "tool_done"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one incremental state transition. Terminal events (done, error)
// carry the full response; step events carry the step they describe.
type Event struct {
	Type     EventType      `json:"type"`
	Step     *ReasoningStep `json:"step,omitempty"`
	Response *AgentResponse `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"`
}

const systemPrompt = `You are a blockchain wallet analyst with tool access to live Bitcoin and Ethereum data.

SUPPORTED CHAINS:
- Bitcoin: addresses starting with 1, 3, or bc1. Values in BTC (1 BTC = 100,000,000 satoshi). Transactions have multiple inputs and outputs.
- Ethereum: addresses starting with 0x (40 hex chars). Values in ETH (1 ETH = 10^18 wei). Transactions have one sender and one recipient, pay gas, and may carry ERC-20 token transfers.

TOOL ORDER:
1. fetch_wallet_data first for any address you have not fetched this conversation. Nothing else has data until you do.
2. get_wallet_summary for totals and balances.
3. search_transactions for filtered views (direction, value range, time range).
4. detect_anomalies for suspicious patterns: large transactions, rapid sequences, round numbers, dormancy reactivation, fan-out/fan-in (Bitcoin), failed transactions and high gas prices (Ethereum).

CONVENTIONS:
- Report values in native units (BTC or ETH) with USD figures only when the data provides them.
- When citing a transaction, include its hash.
- Anomaly severity is low, medium, or high; mention severity when reporting findings.
- If an address is unrecognized, say so plainly rather than guessing a chain.

Answer the user's question, then stop calling tools and write your final analysis as plain text.`

// Orchestrator drives the model/tool loop and builds the reasoning trace.
type Orchestrator struct {
	llm           LLMClient
	registry      *Registry
	maxIterations int
}

func NewOrchestrator(llm LLMClient, registry *Registry, maxIterations int) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	return &Orchestrator{llm: llm, registry: registry, maxIterations: maxIterations}
}

// AskStream runs the loop in the background and emits events as they happen.
// The channel closes after the terminal done or error event.
func (o *Orchestrator) AskStream(ctx context.Context, question string) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		o.run(ctx, question, events)
	}()
	return events
}

// Ask is the buffered variant: it drains the same event stream to completion
// and returns the terminal response. One code path, two consumption modes.
func (o *Orchestrator) Ask(ctx context.Context, question string) *AgentResponse {
	var final *AgentResponse
	for ev := range o.AskStream(ctx, question) {
		if ev.Response != nil {
			final = ev.Response
		}
	}
	return final
}

func (o *Orchestrator) run(ctx context.Context, question string, events chan<- Event) {
	started := time.Now()
	resp := &AgentResponse{
		Question:       question,
		ReasoningSteps: []ReasoningStep{},
	}

	fail := func(err error) {
		resp.Success = false
		resp.Error = err.Error()
		resp.TotalDurationMs = time.Since(started).Milliseconds()
		log.Warn().Err(err).Int("steps", len(resp.ReasoningSteps)).Msg("agent run failed")
		events <- Event{Type: EventError, Error: resp.Error, Response: resp}
	}

	msgs := []Message{{Role: "user", Text: question}}
	defs := o.registry.Defs()
	stepNum := 0

	for turn := 1; turn <= o.maxIterations; turn++ {
		turnResp, err := o.llm.Complete(ctx, systemPrompt, msgs, defs)
		if err != nil {
			fail(err)
			return
		}

		if len(turnResp.ToolCalls) == 0 {
			stepNum++
			step := ReasoningStep{StepNumber: stepNum, Thought: turnResp.Text}
			resp.ReasoningSteps = append(resp.ReasoningSteps, step)
			events <- Event{Type: EventThinking, Step: &step}

			resp.FinalAnswer = turnResp.Text
			resp.Success = true
			resp.TotalDurationMs = time.Since(started).Milliseconds()
			log.Info().Int("turns", turn).Int("steps", stepNum).
				Dur("took", time.Since(started)).Msg("✅ agent run done")
			events <- Event{Type: EventDone, Response: resp}
			return
		}

		msgs = append(msgs, Message{
			Role:      "assistant",
			Text:      turnResp.Text,
			ToolCalls: turnResp.ToolCalls,
		})

		// Execute in request order. The turn's text is the thought behind its
		// first tool call.
		thought := turnResp.Text
		for _, call := range turnResp.ToolCalls {
			stepNum++
			step := ReasoningStep{
				StepNumber: stepNum,
				Thought:    thought,
				ToolCall: &ToolInvocation{
					ToolName:  call.Name,
					Arguments: call.Arguments,
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				},
			}
			thought = ""

			// Send a copy: the step is still being filled in.
			pending := step
			events <- Event{Type: EventToolStart, Step: &pending}

			toolStart := time.Now()
			result, err := o.registry.Execute(ctx, call)
			if err != nil {
				resp.ReasoningSteps = append(resp.ReasoningSteps, step)
				fail(err)
				return
			}

			step.ToolResult = &ToolOutcome{
				ToolName:        call.Name,
				Result:          result,
				StoreQuery:      liftStoreQuery(result),
				ExecutionTimeMs: time.Since(toolStart).Milliseconds(),
				Timestamp:       time.Now().UTC().Format(time.RFC3339),
			}
			resp.ReasoningSteps = append(resp.ReasoningSteps, step)
			events <- Event{Type: EventToolDone, Step: &step}

			log.Debug().Str("tool", call.Name).
				Int64("ms", step.ToolResult.ExecutionTimeMs).Msg("🔧 tool executed")

			payload, merr := json.Marshal(result)
			if merr != nil {
				payload = []byte(`{"error":"result not serializable"}`)
			}
			msgs = append(msgs, Message{
				Role:       "tool",
				Text:       string(payload),
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	fail(ErrMaxIterations)
}

// liftStoreQuery surfaces the literal store query into the trace when the
// tool result carries one.
func liftStoreQuery(result interface{}) string {
	m, ok := result.(map[string]interface{})
	if !ok {
		return ""
	}
	q, _ := m["store_query"].(string)
	return q
}
