package core

import "fmt"

// Assert reports a contract violation. These are programmer errors, not
// recoverable conditions: the message is logged and the process panics so the
// defect surfaces immediately instead of corrupting GPU state later.
func Assert(condition bool, msg string) {
	if !condition {
		getLogger().Error(msg)
		panic("assertion failed: " + msg)
	}
}

func Assertf(condition bool, format string, args ...interface{}) {
	if !condition {
		msg := fmt.Sprintf(format, args...)
		getLogger().Error(msg)
		panic("assertion failed: " + msg)
	}
}
