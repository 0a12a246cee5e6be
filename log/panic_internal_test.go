package log

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPanicStack(t *testing.T) {
	t.Parallel()

	t.Run("trims_frames_above_panic", func(t *testing.T) {
		t.Parallel()
		stack := []byte("goroutine 7 [running]:\n" +
			"runtime/debug.Stack()\n" +
			"\t/usr/local/go/src/runtime/debug/stack.go:26 +0x5e\n" +
			"panic({0x1, 0x2})\n" +
			"\t/usr/local/go/src/runtime/panic.go:785 +0x132\n" +
			"github.com/xeptore/tgmd/task.(*Registry).execute()\n" +
			"\t/src/task/registry.go:300 +0x10\n")
		got := string(panicStack(stack))
		assert.Equal(t, "goroutine 7 [running]:\n"+
			"github.com/xeptore/tgmd/task.(*Registry).execute()\n"+
			"\t/src/task/registry.go:300 +0x10\n", got)
	})

	t.Run("no_panic_frame", func(t *testing.T) {
		t.Parallel()
		stack := []byte("goroutine 1 [running]:\nmain.main()\n")
		assert.Equal(t, stack, panicStack(stack))
	})
}

func TestRecover(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	func() {
		defer Recover(logger, "Handler panicked")
		panic("boom")
	}()

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"message":"Handler panicked"`)
	assert.Contains(t, out, `"content":"boom"`)
	assert.Contains(t, out, `"stack_traces"`)
	assert.NotContains(t, out, "runtime/debug.Stack")
}
