// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// EventType identifies the error channel a base observation is counted in.
type EventType int

const (
	// Mismatch counts substitution errors.
	Mismatch EventType = iota
	// Insertion counts insertions next to the base.
	Insertion
	// Deletion counts deletions next to the base.
	Deletion
)

// NumEventTypes is the number of EventType values.
const NumEventTypes = 3

// EventTypes lists every EventType in index order.
var EventTypes = [NumEventTypes]EventType{Mismatch, Insertion, Deletion}

var eventTypeNames = [NumEventTypes]string{"M", "I", "D"}

// String returns the one-letter GATK-style name of the event.
func (e EventType) String() string {
	if e < 0 || int(e) >= NumEventTypes {
		return fmt.Sprintf("EventType(%d)", int(e))
	}
	return eventTypeNames[e]
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) (EventType, error) {
	for i, name := range eventTypeNames {
		if name == s {
			return EventType(i), nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("bqsr: unknown event type %q", s))
}
