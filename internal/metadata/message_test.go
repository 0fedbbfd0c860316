package metadata

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	rec, err := Decode([]byte(`{"timestamp": 1234, "alpha": 7, "backgroundColor": "red"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1234), rec.Timestamp)
	require.NotNil(t, rec.Alpha)
	assert.Equal(t, 7.0, *rec.Alpha)
	require.NotNil(t, rec.BackgroundColor)
	assert.Equal(t, "red", *rec.BackgroundColor)
}

func TestDecodeOptionalFields(t *testing.T) {
	rec, err := Decode([]byte(`{"timestamp": 33366, "alpha": null}`))
	require.NoError(t, err)
	assert.Equal(t, int64(33366), rec.Timestamp)
	assert.Nil(t, rec.Alpha)
	assert.Nil(t, rec.BackgroundColor)
}

func TestDecodeLargeTimestampKeepsPrecision(t *testing.T) {
	rec, err := Decode([]byte(`{"timestamp": 9007199254740991}`))
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740991), rec.Timestamp)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `timestamp=5`},
		{name: "array", raw: `[1, 2]`},
		{name: "string", raw: `"hello"`},
		{name: "missing timestamp", raw: `{"alpha": 5}`},
		{name: "timestamp as string", raw: `{"timestamp": "5"}`},
		{name: "fractional timestamp", raw: `{"timestamp": 5.5}`},
		{name: "negative timestamp", raw: `{"timestamp": -1}`},
		{name: "timestamp exponent beyond int64", raw: `{"timestamp": 1e19}`},
		{name: "timestamp one past int64", raw: `{"timestamp": 9223372036854775808}`},
		{name: "timestamp huge exponent", raw: `{"timestamp": 1e300}`},
		{name: "alpha as string", raw: `{"timestamp": 5, "alpha": "7"}`},
		{name: "alpha above range", raw: `{"timestamp": 5, "alpha": 11}`},
		{name: "alpha below range", raw: `{"timestamp": 5, "alpha": -1}`},
		{name: "background not a string", raw: `{"timestamp": 5, "backgroundColor": 3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeTimestampBounds(t *testing.T) {
	rec, err := Decode([]byte(`{"timestamp": 9223372036854775807}`))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), rec.Timestamp)

	rec, err = Decode([]byte(`{"timestamp": 1.5e3}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1500), rec.Timestamp)
}

func TestOutOfRangeTimestampDoesNotReachQueue(t *testing.T) {
	q := NewQueue(0, nil)
	l := NewListener(nil, q, nil)

	_, err := l.Handle([]byte(`{"timestamp": 1e19}`))
	require.ErrorIs(t, err, ErrMalformed)

	q.Append(Record{Timestamp: 10})
	assert.Equal(t, Rejected, q.Append(Record{Timestamp: 5}))
	assert.Equal(t, []int64{10}, timestamps(q.Snapshot()))
}

func TestListenerHandle(t *testing.T) {
	obs := &recordingObserver{}
	q := NewQueue(0, obs)
	l := NewListener(nil, q, obs)

	result, err := l.Handle([]byte(`{"timestamp": 100, "alpha": 5}`))
	require.NoError(t, err)
	assert.Equal(t, Accepted, result)

	result, err = l.Handle([]byte(`{"timestamp": 90}`))
	require.NoError(t, err)
	assert.Equal(t, Rejected, result)

	_, err = l.Handle([]byte(`{"alpha": 5}`))
	assert.ErrorIs(t, err, ErrMalformed)

	assert.Equal(t, []int64{100}, timestamps(q.Snapshot()))
	assert.Len(t, obs.malformed, 1)
	assert.Equal(t, []int64{90}, obs.rejected)
}

func TestListenerRunStopsWhenChannelCloses(t *testing.T) {
	in := make(chan []byte, 4)
	q := NewQueue(0, nil)
	l := NewListener(in, q, nil)

	in <- []byte(`{"timestamp": 1}`)
	in <- []byte(`not json`)
	in <- []byte(`{"timestamp": 2}`)
	close(in)

	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, []int64{1, 2}, timestamps(q.Snapshot()))
}

func TestListenerRunStopsOnCancel(t *testing.T) {
	in := make(chan []byte)
	l := NewListener(in, NewQueue(0, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after cancel")
	}
}
