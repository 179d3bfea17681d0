package encoding

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/relaymq/relaymq/internal/buffer"
)

func roundTrip(t *testing.T, v interface{}) interface{} {
	t.Helper()
	wr := buffer.Get()
	defer wr.Release()
	require.NoError(t, MarshalValue(wr, v))

	r := buffer.NewReader(wr.Bytes())
	got, err := UnmarshalValue(r)
	require.NoError(t, err)
	require.Zero(t, r.Remaining())
	return got
}

func TestValueRoundTrip(t *testing.T) {
	cases := []interface{}{
		true,
		false,
		int8(-12),
		uint8(200),
		int16(-1000),
		uint16(60000),
		int32(-100000),
		uint32(4000000000),
		int64(-123456789012),
		uint64(123456789012345),
		float32(3.5),
		float64(-2.25),
		"hello",
		LongString("a rather long string payload"),
		Timestamp(1700000000),
	}

	for _, c := range cases {
		got := roundTrip(t, c)
		if diff := cmp.Diff(c, got); diff != "" {
			t.Errorf("round trip mismatch for %#v (-want +got):\n%s", c, diff)
		}
	}
}

func TestTableRoundTrip(t *testing.T) {
	table := Table{
		"x-match":    "all",
		"count":      int32(3),
		"enabled":    true,
		"nested":     Table{"inner": "value"},
		"entry-name": LongString("deep"),
	}

	wr := buffer.Get()
	defer wr.Release()
	require.NoError(t, MarshalValue(wr, table))

	r := buffer.NewReader(wr.Bytes())
	got, err := UnmarshalValue(r)
	require.NoError(t, err)
	require.Zero(t, r.Remaining())

	gotTable, ok := got.(Table)
	require.True(t, ok)
	require.Equal(t, table["x-match"], gotTable["x-match"])
	require.Equal(t, table["count"], gotTable["count"])
	require.Equal(t, table["enabled"], gotTable["enabled"])
	require.Equal(t, table["entry-name"], gotTable["entry-name"])

	nested, ok := gotTable["nested"].(Table)
	require.True(t, ok)
	require.Equal(t, "value", nested["inner"])
}

func TestShortStringTooLong(t *testing.T) {
	wr := buffer.Get()
	defer wr.Release()

	long := make([]byte, 300)
	err := MarshalShortString(wr, string(long))
	require.Error(t, err)
}

func TestLongStringRoundTrip(t *testing.T) {
	wr := buffer.Get()
	defer wr.Release()

	payload := make([]byte, 70000)
	for i := range payload {
		payload[i] = byte(i)
	}
	MarshalLongString(wr, string(payload))

	r := buffer.NewReader(wr.Bytes())
	got, err := UnmarshalLongString(r)
	require.NoError(t, err)
	require.Equal(t, string(payload), got)
}

func TestBitPacking(t *testing.T) {
	for n := 1; n <= 16; n++ {
		bits := make([]bool, n)
		for i := range bits {
			bits[i] = i%2 == 0
		}

		wr := buffer.Get()
		MarshalBools(wr, bits)

		expectedBytes := (n + 7) / 8
		require.Equal(t, expectedBytes, wr.Len())

		r := buffer.NewReader(wr.Bytes())
		got, err := UnmarshalBools(r, n)
		require.NoError(t, err)
		require.Equal(t, bits, got)
		wr.Release()
	}
}

func TestInsufficientBytes(t *testing.T) {
	r := buffer.NewReader([]byte{byte(codeUint32), 0x00, 0x01})
	_, err := UnmarshalValue(r)
	require.Error(t, err)
}
