package constant

import (
	_ "embed"
	"fmt"
	"strings"
	"time"
)

var (
	//go:embed version
	version string
	Version = strings.TrimSpace(version)

	// compileTime is overridden at build time with -ldflags "-X github.com/xeptore/tgmd/constant.compileTime=...".
	compileTime = "2025-01-01T00:00:00Z"
	CompileTime time.Time
)

func init() {
	t, err := time.Parse(time.RFC3339, compileTime)
	if nil != err {
		panic(fmt.Errorf("could not parse compile time %q. Make sure it is set in RFC 3339 format at build time", compileTime))
	}
	CompileTime = t
}
