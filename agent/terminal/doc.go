// Package terminal implements the interactive chat mode.
//
// A Terminal reads prompts from an input stream, hands each one to an
// agent.Engine on a single thread, and prints the engine's messages as they
// arrive. Sensitive tools are confirmed with a y/n question unless
// AutoApprove is set.
//
//	term := terminal.New(engine, terminal.Options{
//	    In:        os.Stdin,
//	    Out:       os.Stdout,
//	    ThreadID:  uuid.NewString(),
//	    Verbosity: terminal.VerbosityInfo,
//	})
//	err := term.Run(ctx, initialPrompt)
//
// # Verbosity Levels
//
//   - none: only assistant text is printed
//   - info: tool names are printed when called
//   - all: tool names, arguments, and results are printed
//
// /quit and /exit end the session, as does end of input.
package terminal
