package metadata

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformed is wrapped by every error returned from Decode.
var ErrMalformed = errors.New("malformed metadata message")

// Decode validates a raw host message of the shape
//
//	{"timestamp": <integer>, "alpha": <0..10>, "backgroundColor": <string>}
//
// and converts it into a Record. alpha and backgroundColor are optional; a
// JSON null is treated as absent.
func Decode(raw []byte) (Record, error) {
	if !gjson.ValidBytes(raw) {
		return Record{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}

	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Record{}, fmt.Errorf("%w: expected an object", ErrMalformed)
	}

	ts := doc.Get("timestamp")
	if !ts.Exists() {
		return Record{}, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	if ts.Type != gjson.Number {
		return Record{}, fmt.Errorf("%w: timestamp must be a number, got %s", ErrMalformed, ts.Type)
	}
	if ts.Num != math.Trunc(ts.Num) {
		return Record{}, fmt.Errorf("%w: timestamp must be an integer, got %s", ErrMalformed, ts.Raw)
	}
	// -1 is reserved for NoMatch.
	if ts.Num < 0 {
		return Record{}, fmt.Errorf("%w: timestamp must not be negative, got %s", ErrMalformed, ts.Raw)
	}

	var n int64
	if strings.ContainsAny(ts.Raw, ".eE") {
		if ts.Num >= 1<<63 {
			return Record{}, fmt.Errorf("%w: timestamp %s out of range", ErrMalformed, ts.Raw)
		}
		n = int64(ts.Num)
	} else {
		parsed, err := strconv.ParseInt(ts.Raw, 10, 64)
		if err != nil {
			return Record{}, fmt.Errorf("%w: timestamp %s out of range", ErrMalformed, ts.Raw)
		}
		n = parsed
	}

	rec := Record{Timestamp: n}

	if alpha := doc.Get("alpha"); alpha.Exists() && alpha.Type != gjson.Null {
		if alpha.Type != gjson.Number {
			return Record{}, fmt.Errorf("%w: alpha must be a number, got %s", ErrMalformed, alpha.Type)
		}
		if alpha.Num < 0 || alpha.Num > MaxAlpha {
			return Record{}, fmt.Errorf("%w: alpha %s out of range 0..%d", ErrMalformed, alpha.Raw, MaxAlpha)
		}
		v := alpha.Num
		rec.Alpha = &v
	}

	if bg := doc.Get("backgroundColor"); bg.Exists() && bg.Type != gjson.Null {
		if bg.Type != gjson.String {
			return Record{}, fmt.Errorf("%w: backgroundColor must be a string, got %s", ErrMalformed, bg.Type)
		}
		s := bg.Str
		rec.BackgroundColor = &s
	}

	return rec, nil
}
