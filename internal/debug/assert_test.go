package debug_test

import (
	"strings"
	"testing"

	"github.com/blukai/nova/internal/debug"
	"github.com/matryer/is"
)

func recovered(fn func()) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg, _ = r.(string)
		}
	}()
	fn()
	return ""
}

func TestAssert(t *testing.T) {
	is := is.New(t)

	is.Equal(recovered(func() { debug.Assert(true) }), "")

	msg := recovered(func() { debug.Assert(false, "boom") })
	is.True(strings.Contains(msg, "assert_test.go"))
	is.True(strings.Contains(msg, "boom"))

	msg = recovered(func() { debug.Assertf(false, "stage %d", 3) })
	is.True(strings.Contains(msg, "assert_test.go"))
	is.True(strings.Contains(msg, "stage 3"))
}
