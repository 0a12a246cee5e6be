package must

import (
	"errors"
	"fmt"

	"github.com/xeptore/flaw/v8"
)

// BeFlaw returns the flaw in err's chain with payloads appended. It panics when err carries no flaw.
func BeFlaw(err error, payloads ...flaw.P) *flaw.Flaw {
	f := new(flaw.Flaw)
	if !errors.As(err, &f) {
		panic(fmt.Sprintf("expected error to be of type *flaw.Flaw, got error of type %T: %v", err, err))
	}
	for _, p := range payloads {
		f = f.Append(p)
	}
	return f
}
