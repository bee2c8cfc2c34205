// Package messagelog defines the append-only record of every raw message the
// router has received.
//
// Messages are recorded before they are parsed, so malformed input shows up in
// the log next to valid frames. A log can be switched off at runtime; while
// disabled, appends are dropped and report ErrLogDisabled.
//
// Example usage:
//
//	entry, err := log.Append(ctx, raw)
//	if errors.Is(err, messagelog.ErrLogDisabled) {
//		// recording is off
//	}
//
//	entries, errs := log.Replay(ctx, 0)
//	for e := range entries {
//		fmt.Printf("%d %q\n", e.Offset, e.Message)
//	}
//	if err := <-errs; err != nil {
//		return err
//	}
package messagelog
