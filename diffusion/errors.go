package diffusion

import "errors"

var (
	// ErrConfig marks invalid hyperparameters or schedule settings.
	ErrConfig = errors.New("config error")
	// ErrData marks malformed or inconsistent dataset input.
	ErrData = errors.New("data error")
	// ErrNumerical marks a loss or sample that stopped being finite.
	ErrNumerical = errors.New("numerical instability")
)
