// Package toolexecutor owns the table of tools the model may call and runs
// each call from a single mailbox goroutine.
//
// Invariants:
// - Tool names are unique and the table is frozen once the registry starts.
// - ListTools returns tools in registration order.
// - Arguments are schema-validated before a handler runs.
// - Tool failures are returned as observation text, never as errors.
//
// Usage:
//
//	reg := toolexecutor.NewRegistry(toolexecutor.Config{Logger: logger})
//	_ = reg.Register(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, args toolexecutor.Args) (string, error) {
//			return args.String("text")
//		},
//	})
//	reg.Start(ctx)
//	out, err := reg.CallTool(ctx, "echo", map[string]interface{}{"text": "hi"})
package toolexecutor
