package tgutil

import (
	"github.com/gotd/td/telegram"

	"github.com/xeptore/tgmd/constant"
)

//nolint:exhaustruct
var Device = telegram.DeviceConfig{
	DeviceModel:    "tgmd",
	SystemVersion:  "linux",
	AppVersion:     constant.Version,
	SystemLangCode: "en",
	LangCode:       "en",
}
