// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr

import (
	"github.com/grailbio/base/errors"
)

// IsConfigurationError returns true if err was caused by an invalid table
// bound, an invalid option, or an attempt to merge TableSets with different
// schemas.
func IsConfigurationError(err error) bool {
	return errors.Is(errors.Invalid, err)
}

// IsMalformedInput returns true if err was caused by a read that lacks data
// required for accumulation, e.g., a SOLiD read without a CS attribute under
// the FailFast policy.
func IsMalformedInput(err error) bool {
	return errors.Is(errors.Precondition, err)
}

// IsInvalidDigit returns true if err was caused by a color-space digit outside
// of '0'..'3' under the FailFast policy.
func IsInvalidDigit(err error) bool {
	return errors.Is(errors.Integrity, err)
}
