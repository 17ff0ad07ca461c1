// Package agent drives one conversation through a multi-turn tool-calling
// loop against a streaming model service.
//
// Invariants:
// - Tool definitions are fetched once per run; failure to fetch ends the run.
// - Native tool calls are authoritative; free-text actions are only extracted
//   when the model returned none.
// - Tool calls of one turn are dispatched one at a time in model order and
//   their results appended in the same order.
// - Every run emits exactly one terminal event: EventFinished, EventError or
//   EventCapReached.
// - At most one run per conversation key is active at a time.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{
//		Provider: client,
//		Tools:    registry,
//		Events:   events,
//		Model:    "qwen2.5-coder:latest",
//	})
//	result, err := runner.Run(ctx, "chat_1", conversation)
package agent
