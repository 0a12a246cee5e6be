package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgmd/errutil"
)

const MaxRequestBodySize = 64 * 1024

var ErrEmptyBody = errors.New("request body is empty")

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	b, err := json.Marshal(v)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to marshal response body: %v", err)).Append(flawP)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(b); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to write response body: %v", err)).Append(flawP)
	}
	return nil
}

func WriteError(w http.ResponseWriter, status int, code, message string) error {
	return WriteJSON(w, status, ErrorBody{Error: code, Message: message})
}

// ReadRequestBody reads at most MaxRequestBodySize bytes of the request body.
func ReadRequestBody(ctx context.Context, r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, context.DeadlineExceeded
		default:
			flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to read request body: %v", err)).Append(flawP)
		}
	}
	if len(b) > MaxRequestBodySize {
		return nil, fmt.Errorf("request body exceeds %d bytes", MaxRequestBodySize)
	}
	if len(b) == 0 {
		return nil, ErrEmptyBody
	}
	return b, nil
}
