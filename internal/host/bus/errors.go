// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package bus

import "errors"

// Validation failures surfaced by the public operations. Callers branch with
// errors.Is; wrapped messages carry the offending argument.
var (
	ErrInvalidBinding     = errors.New("bus: invalid binding")
	ErrInvalidName        = errors.New("bus: invalid event name")
	ErrInvalidHandler     = errors.New("bus: invalid handler")
	ErrInvalidLimit       = errors.New("bus: invalid limit")
	ErrInvalidUnsubscribe = errors.New("bus: unsubscribe needs a binding or a handler")
	ErrMissingFilters     = errors.New("bus: filters required")
)
