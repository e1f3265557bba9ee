package ipc

import "errors"

var (
	errInvalidMode        = errors.New("ipc: mode must be \"auto\" or \"approve\"")
	errHunterDisabled     = errors.New("ipc: hunter subsystem is disabled")
	errSlotNoLongerActive = errors.New("ipc: slot is no longer active on-chain, offer expired instead of approved")
)
