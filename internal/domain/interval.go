// SPDX-License-Identifier: Apache-2.0

package domain

// Interval is a reconstructed execution span. End is never before Start.
type Interval struct {
	TID   int     `json:"tid"`
	Label string  `json:"label"`
	Addr  string  `json:"addr"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (i Interval) Duration() float64 {
	return i.End - i.Start
}
