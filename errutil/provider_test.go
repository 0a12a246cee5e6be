package errutil_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgmd/errutil"
)

func TestNormalizeProviderError(t *testing.T) {
	t.Parallel()

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, errutil.NormalizeProviderError(nil))
		assert.Empty(t, errutil.Describe(nil))
	})

	t.Run("text_patterns", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			name string
			err  error
			kind errutil.ProviderErrorKind
		}{
			{"channel_private", errors.New("rpc error code 400: CHANNEL_PRIVATE"), errutil.ProviderEntityUnreachable},
			{"input_entity", errors.New("Could not find the input entity for PeerChannel"), errutil.ProviderEntityUnreachable},
			{"username", errors.New("USERNAME_NOT_OCCUPIED"), errutil.ProviderEntityUnreachable},
			{"message_id", errors.New("rpc error code 400: MESSAGE_ID_INVALID"), errutil.ProviderMessageInvalid},
			{"session_revoked", errors.New("SESSION_REVOKED"), errutil.ProviderSessionInvalid},
			{"auth_key", fmt.Errorf("wrapped: %w", errors.New("AUTH_KEY_UNREGISTERED")), errutil.ProviderSessionInvalid},
			{"slowmode", errors.New("SLOWMODE_WAIT_10"), errutil.ProviderRateLimited},
			{"other", errors.New("connection reset by peer"), errutil.ProviderUnknown},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				pe := errutil.NormalizeProviderError(tc.err)
				require.NotNil(t, pe)
				assert.Equal(t, tc.kind, pe.Kind)
				assert.ErrorIs(t, pe, tc.err)
			})
		}
	})

	t.Run("rpc_flood_wait", func(t *testing.T) {
		t.Parallel()

		rpcErr := tgerr.New(420, "FLOOD_WAIT_30")
		pe := errutil.NormalizeProviderError(fmt.Errorf("get messages: %w", rpcErr))
		require.NotNil(t, pe)
		assert.Equal(t, errutil.ProviderRateLimited, pe.Kind)
		assert.Equal(t, 30*time.Second, pe.Wait)
		assert.Contains(t, pe.Message, "30s")
	})

	t.Run("unknown_keeps_flaw_message", func(t *testing.T) {
		t.Parallel()

		err := flaw.From(errors.New("disk exploded"))
		assert.Equal(t, "disk exploded", errutil.Describe(err))
	})

	t.Run("already_normalized", func(t *testing.T) {
		t.Parallel()

		pe := errutil.NormalizeProviderError(errors.New("CHANNEL_INVALID"))
		assert.Same(t, pe, errutil.NormalizeProviderError(fmt.Errorf("again: %w", pe)))
	})
}
