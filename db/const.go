// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package db

const (
	// application name reported to the mongo server on connect
	defaultAppName = "throttle"

	// database holding the rate profiles when none is configured
	DefaultDatabase = "throttle"

	// collection holding one document per rate profile
	ProfileCollection = "rate-profiles"
)
