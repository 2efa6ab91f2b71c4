package campaign

import "errors"

var (
	ErrUnknownMode      = errors.New("unknown campaign mode")
	ErrInvalidDuration  = errors.New("invalid duration, expected MM:SS")
	ErrNotFound         = errors.New("campaign not found")
	ErrNoActiveCampaign = errors.New("no active campaign")
	ErrTargetExists     = errors.New("target with this imsi already exists")
	ErrNoDevices        = errors.New("no devices to command")
)
