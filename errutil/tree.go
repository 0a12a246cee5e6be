package errutil

import (
	"fmt"

	"github.com/gotd/td/tgerr"
	"github.com/xeptore/flaw/v8"
)

// ErrInfo is a debug snapshot of an error chain. RPC and Provider are set on nodes that are
// Telegram RPC errors or normalized provider errors.
type ErrInfo struct {
	Message    string
	TypeName   string
	SyntaxRepr string
	RPC        *RPCInfo
	Provider   ProviderErrorKind
	Children   []ErrInfo
}

type RPCInfo struct {
	Code     int
	Type     string
	Argument int
}

func (e ErrInfo) FlawP() flaw.P {
	var ch []flaw.P
	if len(e.Children) > 0 {
		ch = make([]flaw.P, len(e.Children))
		for i, child := range e.Children {
			ch[i] = child.FlawP()
		}
	}

	p := flaw.P{
		"message":     e.Message,
		"type_name":   e.TypeName,
		"syntax_repr": e.SyntaxRepr,
		"children":    ch,
	}
	if nil != e.RPC {
		p["rpc"] = flaw.P{"code": e.RPC.Code, "type": e.RPC.Type, "argument": e.RPC.Argument}
	}
	if e.Provider != "" {
		p["provider_kind"] = string(e.Provider)
	}
	return p
}

func Tree(err error) ErrInfo {
	if err == nil {
		panic("nil error")
	}

	var children []ErrInfo
	//nolint:errorlint
	switch x := err.(type) {
	case interface{ Unwrap() error }:
		if err := x.Unwrap(); nil != err {
			children = []ErrInfo{Tree(err)}
		}
	case interface{ Unwrap() []error }:
		errs := x.Unwrap()
		children = make([]ErrInfo, 0, len(errs))
		for _, err := range errs {
			children = append(children, Tree(err))
		}
	}

	info := ErrInfo{
		Message:    err.Error(),
		TypeName:   fmt.Sprintf("%T", err),
		SyntaxRepr: fmt.Sprintf("%+#v", err),
		RPC:        nil,
		Provider:   "",
		Children:   children,
	}
	//nolint:errorlint
	switch x := err.(type) {
	case *tgerr.Error:
		info.RPC = &RPCInfo{Code: x.Code, Type: x.Type, Argument: x.Argument}
	case *ProviderError:
		info.Provider = x.Kind
	}
	return info
}

func UnknownError(err error) string {
	return fmt.Sprintf("unknown error of type %T received: %v", err, err)
}
