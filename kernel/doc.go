// Package kernel adapts notebook execute requests into prompts for a
// language model.
//
// A Kernel owns one chat.Manager. Execute streams the model reply chunk by
// chunk to the caller and to an iopub.Channel, and always ends with exactly
// one core.ExecutionResult:
//
//	k := kernel.New(chat.NewManager(provider))
//	res := k.Execute(ctx, core.PromptRequest{Text: "Hello"}, func(c core.Chunk) {
//		fmt.Print(c.Text)
//	})
//
// On top of Execute the package answers the remaining kernel protocol
// requests (kernel info, complete, inspect, is-complete, comm info, history,
// shutdown, interrupt) and provides a Registry of kernel specs.
package kernel
