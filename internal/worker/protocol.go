// Package worker runs pass calculations off the caller's goroutine behind a
// request/response message boundary.
package worker

import (
	"github.com/star/passwatch/internal/passes"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/tle"
)

// Message types.
const (
	TypeCalculatePasses = "calculatePasses"
	TypePasses          = "passes"
)

// Request asks a Task to compute passes for one element set.
type Request struct {
	Type      string                    `json:"type"`
	RequestID int64                     `json:"request_id"`
	TLE       tle.Record                `json:"tle"`
	Location  propagation.Location      `json:"location"`
	Filters   propagation.SearchFilters `json:"filters"`
}

// Response carries the passes for a Request. Data is empty, never nil-with-
// error, when the calculation failed.
type Response struct {
	Type      string        `json:"type"`
	RequestID int64         `json:"request_id"`
	Data      []passes.Pass `json:"data"`
}
