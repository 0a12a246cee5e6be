package tgutil

import (
	"errors"
	"fmt"

	"github.com/gotd/td/tg"
)

var ErrSentMessageNotFound = errors.New("sent message id not found in updates")

// SentMessageID extracts the id of the message created by a send request.
func SentMessageID(u tg.UpdatesClass) (int, error) {
	switch v := u.(type) {
	case *tg.UpdateShortSentMessage:
		return v.ID, nil
	case *tg.Updates:
		return fromUpdates(v.Updates)
	case *tg.UpdatesCombined:
		return fromUpdates(v.Updates)
	default:
		return 0, fmt.Errorf("%w: unexpected updates type %T", ErrSentMessageNotFound, u)
	}
}

func fromUpdates(updates []tg.UpdateClass) (int, error) {
	for _, u := range updates {
		switch v := u.(type) {
		case *tg.UpdateMessageID:
			return v.ID, nil
		case *tg.UpdateNewMessage:
			if m, ok := v.Message.(*tg.Message); ok {
				return m.ID, nil
			}
		case *tg.UpdateNewChannelMessage:
			if m, ok := v.Message.(*tg.Message); ok {
				return m.ID, nil
			}
		}
	}
	return 0, ErrSentMessageNotFound
}
