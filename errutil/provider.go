package errutil

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tgerr"
)

type ProviderErrorKind string

const (
	ProviderEntityUnreachable ProviderErrorKind = "entity_unreachable"
	ProviderMessageInvalid    ProviderErrorKind = "message_invalid"
	ProviderSessionInvalid    ProviderErrorKind = "session_invalid"
	ProviderRateLimited       ProviderErrorKind = "rate_limited"
	ProviderUnknown           ProviderErrorKind = "unknown"
)

// ProviderError is a transport failure mapped onto a small, user-presentable set of kinds.
type ProviderError struct {
	Kind    ProviderErrorKind
	Wait    time.Duration
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

type providerPattern struct {
	kind     ProviderErrorKind
	needles  []string
	describe string
}

var providerPatterns = []providerPattern{
	{
		kind: ProviderRateLimited,
		needles: []string{
			"FLOOD_WAIT",
			"FLOOD_PREMIUM_WAIT",
			"SLOWMODE_WAIT",
		},
		describe: "the messaging network is rate limiting requests, try again later",
	},
	{
		kind: ProviderSessionInvalid,
		needles: []string{
			"AUTH_KEY_UNREGISTERED",
			"AUTH_KEY_INVALID",
			"AUTH_KEY_DUPLICATED",
			"SESSION_REVOKED",
			"SESSION_EXPIRED",
			"USER_DEACTIVATED",
		},
		describe: "the downloader session is not authorized anymore, log in again",
	},
	{
		kind: ProviderMessageInvalid,
		needles: []string{
			"MESSAGE_ID_INVALID",
			"MSG_ID_INVALID",
			"MESSAGE_IDS_EMPTY",
		},
		describe: "the referenced message does not exist or was deleted",
	},
	{
		kind: ProviderEntityUnreachable,
		needles: []string{
			"CHANNEL_INVALID",
			"CHANNEL_PRIVATE",
			"CHAT_ID_INVALID",
			"PEER_ID_INVALID",
			"USERNAME_INVALID",
			"USERNAME_NOT_OCCUPIED",
			"Could not find the input entity",
			"not among the session dialogs",
		},
		describe: "the chat is not reachable from the downloader account, join it first",
	},
}

// NormalizeProviderError classifies err by its RPC error type when available and by its text otherwise.
// It returns nil for a nil err.
func NormalizeProviderError(err error) *ProviderError {
	if nil == err {
		return nil
	}

	if pe := new(ProviderError); errors.As(err, &pe) {
		return pe
	}

	text := err.Error() + "\n" + FlawMessage(err)
	if rpcErr, ok := tgerr.As(err); ok {
		text = rpcErr.Type
	}

	for _, p := range providerPatterns {
		for _, n := range p.needles {
			if strings.Contains(text, n) {
				out := &ProviderError{Kind: p.kind, Wait: 0, Message: p.describe, Err: err}
				if d, ok := tgerr.AsFloodWait(err); ok {
					out.Wait = d
					out.Message = fmt.Sprintf("%s (retry after %s)", p.describe, d)
				}
				return out
			}
		}
	}

	return &ProviderError{Kind: ProviderUnknown, Wait: 0, Message: FlawMessage(err), Err: err}
}

// Describe returns the human-readable message shown to users for a failed task.
func Describe(err error) string {
	if nil == err {
		return ""
	}
	return NormalizeProviderError(err).Message
}
