package dispatch

import "errors"

var (
	ErrNoSender              = errors.New("no sender registered for channel")
	ErrMissingContact        = errors.New("lead has no contact address for channel")
	ErrConnectionClosed      = errors.New("chat connection closed")
	ErrSlowConsumer          = errors.New("chat connection buffer full")
	ErrProviderRejected      = errors.New("provider rejected message")
	ErrProviderNotConfigured = errors.New("provider not configured")
)
