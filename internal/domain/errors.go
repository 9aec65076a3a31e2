// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrNoEvents = errors.New("no matching task entries found")
var ErrNoIntervals = errors.New("no complete executing to completed intervals found")
var ErrTimelineNotFound = errors.New("timeline not found")
var ErrNoPendingTimeline = errors.New("no pending timeline")
var ErrUnsupportedFormat = errors.New("unsupported source format")
