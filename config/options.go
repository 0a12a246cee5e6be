package config

import "time"

var (
	GetMessagesRequestTimeout = 10 * time.Second
	GetHistoryRequestTimeout  = 10 * time.Second
	ResolvePeerRequestTimeout = 10 * time.Second
	ChatEditRequestTimeout    = 10 * time.Second
	ShutdownGracePeriod       = 5 * time.Second
)
