package trace

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-osdp/logger"
)

func TestHex(t *testing.T) {
	e := Entry{
		Direction: Output,
		Data:      []byte{0xFF, 0x53, 0x01},
		Time:      time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC),
	}
	require.Equal(t, "2024-01-02T15:04:05.000Z TX ff5301", Hex(e))
	require.Equal(t, "RX", Input.String())
	require.Equal(t, "Direction(9)", Direction(9).String())
}

func TestMulti(t *testing.T) {
	var got []Direction
	tr := Multi(nil, func(e Entry) { got = append(got, e.Direction) }, func(e Entry) { got = append(got, e.Direction) })
	tr(Entry{Direction: Input})
	require.Equal(t, []Direction{Input, Input}, got)
}

func TestBoltRecorder(t *testing.T) {
	require := require.New(t)

	l := logger.NewMockLogger()
	l.AllowAll()

	rec, err := OpenBoltRecorder(filepath.Join(t.TempDir(), "trace.db"), l)
	require.NoError(err)
	defer rec.Close()

	bus1, bus2 := uuid.New(), uuid.New()
	now := time.Now()
	tracer := rec.Tracer()
	tracer(Entry{Direction: Output, BusID: bus1, Data: []byte{0xFF, 0x53}, Time: now})
	tracer(Entry{Direction: Input, BusID: bus1, Data: []byte{0x53, 0x81}, Time: now.Add(time.Millisecond)})
	tracer(Entry{Direction: Output, BusID: bus2, Data: []byte{0x01}, Time: now})

	entries, err := rec.Entries(bus1)
	require.NoError(err)
	require.Len(entries, 2)
	require.Equal(Output, entries[0].Direction)
	require.Equal([]byte{0xFF, 0x53}, entries[0].Data)
	require.Equal(Input, entries[1].Direction)
	require.Equal(bus1, entries[1].BusID)
	require.True(entries[1].Time.Equal(now.Add(time.Millisecond)))

	entries, err = rec.Entries(bus2)
	require.NoError(err)
	require.Len(entries, 1)

	entries, err = rec.Entries(uuid.New())
	require.NoError(err)
	require.Empty(entries)
}

func TestDecodeEntry_Corrupt(t *testing.T) {
	_, err := decodeEntry(uuid.New(), []byte{1, 2})
	require.ErrorIs(t, err, ErrCorruptEntry)
}
