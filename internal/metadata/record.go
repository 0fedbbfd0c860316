// Package metadata correlates out-of-band parameter records with frame
// timestamps.
//
// Records arrive from a host over an inbound message channel and are stored in
// a [Queue] in strictly increasing timestamp order. The transform stage
// resolves each frame's timestamp against the queue; a match consumes the
// record together with everything older than it.
package metadata

// MaxAlpha is the upper bound of the alpha scale carried by records.
// Alpha is divided by MaxAlpha to obtain a compositing opacity.
const MaxAlpha = 10

// Record holds the parameters a host attached to one frame timestamp.
type Record struct {
	// Timestamp is the presentation time of the frame the record describes,
	// in the same unit as frame timestamps (microseconds).
	Timestamp int64

	// Alpha is an optional opacity on a 0..MaxAlpha scale.
	Alpha *float64

	// BackgroundColor is an optional color descriptor. It is carried through
	// but not used by rendering.
	BackgroundColor *string
}

// NoMatch is returned by Resolve when no record carries the requested
// timestamp.
var NoMatch = Record{Timestamp: -1}

// IsNoMatch reports whether r is the NoMatch sentinel.
func (r Record) IsNoMatch() bool {
	return r.Timestamp == NoMatch.Timestamp && r.Alpha == nil && r.BackgroundColor == nil
}

// Opacity returns Alpha scaled to a 0..1 fraction. ok is false when the record
// carries no alpha.
func (r Record) Opacity() (opacity float64, ok bool) {
	if r.Alpha == nil {
		return 0, false
	}
	return *r.Alpha / MaxAlpha, true
}
