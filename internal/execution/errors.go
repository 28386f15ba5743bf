package execution

import "errors"

var (
	ErrInFlight         = errors.New("execution is already being advanced")
	ErrInvalidCampaign  = errors.New("invalid campaign")
	ErrTerminal         = errors.New("execution is in a terminal state")
	ErrLeadNotFound     = errors.New("lead not found")
	ErrCampaignNotFound = errors.New("campaign not found")
)
