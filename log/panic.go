package log

import (
	"bytes"
	"runtime/debug"

	"github.com/rs/zerolog"
)

func Panic(thing any) func(e *zerolog.Event) {
	return func(e *zerolog.Event) {
		dict := zerolog.Dict().
			Any("content", thing).
			Bytes("stack_traces", panicStack(debug.Stack()))
		e.Dict("panic", dict)
	}
}

// panicStack keeps the goroutine header and the frames below the runtime panic call.
// Stacks that were not captured during a panic are returned unchanged.
func panicStack(stack []byte) []byte {
	lines := bytes.Split(stack, []byte("\n"))
	for i, line := range lines {
		if bytes.HasPrefix(line, []byte("panic(")) && i+2 <= len(lines) {
			kept := append([][]byte{lines[0]}, lines[i+2:]...)
			return bytes.Join(kept, []byte("\n"))
		}
	}
	return stack
}

// Recover logs a recovered panic with msg. It must be deferred directly.
func Recover(logger zerolog.Logger, msg string) {
	if v := recover(); nil != v {
		logger.Error().Func(Panic(v)).Msg(msg)
	}
}
