package bot

import (
	"strings"

	"github.com/gotd/td/tg"
)

type callbackAction string

const (
	actionCancel  callbackAction = "c"
	actionConfirm callbackAction = "y"
	actionDismiss callbackAction = "n"
)

func callbackData(action callbackAction, taskID string) []byte {
	return []byte(string(action) + ":" + taskID)
}

func parseCallbackData(data []byte) (callbackAction, string, bool) {
	action, taskID, ok := strings.Cut(string(data), ":")
	if !ok || taskID == "" {
		return "", "", false
	}
	switch a := callbackAction(action); a {
	case actionCancel, actionConfirm, actionDismiss:
		return a, taskID, true
	default:
		return "", "", false
	}
}

func inlineKeyboard(buttons ...*tg.KeyboardButtonCallback) *tg.ReplyInlineMarkup {
	row := tg.KeyboardButtonRow{Buttons: make([]tg.KeyboardButtonClass, 0, len(buttons))}
	for _, b := range buttons {
		row.Buttons = append(row.Buttons, b)
	}
	return &tg.ReplyInlineMarkup{Rows: []tg.KeyboardButtonRow{row}}
}

func button(text string, action callbackAction, taskID string) *tg.KeyboardButtonCallback {
	//nolint:exhaustruct
	return &tg.KeyboardButtonCallback{Text: text, Data: callbackData(action, taskID)}
}

func cancelKeyboard(taskID string) *tg.ReplyInlineMarkup {
	return inlineKeyboard(button("Cancel", actionCancel, taskID))
}

func confirmKeyboard(taskID string) *tg.ReplyInlineMarkup {
	return inlineKeyboard(
		button("Yes, cancel", actionConfirm, taskID),
		button("No", actionDismiss, taskID),
	)
}
