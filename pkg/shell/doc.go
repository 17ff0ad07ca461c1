// Package shell runs one persistent interactive shell and frames the output
// of each command it is given.
//
// Invariants:
// - Exactly one command is in flight. Later requests wait in the mailbox.
// - Output of different commands never interleaves.
// - The sentinel line ends a command and is never delivered as output.
// - End of output closes the session; queued and later requests fail.
//
// Usage:
//
//	sess, _ := shell.New(shell.Config{Launcher: env, Broadcast: onLine})
//	if err := sess.Start(ctx); err != nil {
//		return err
//	}
//	defer sess.Close()
//	out, err := sess.Capture(ctx, "ls -la")
package shell
