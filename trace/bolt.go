package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/arloliu/go-osdp/logger"
)

// entryHeaderSize is the direction byte plus the unix nano timestamp.
const entryHeaderSize = 9

// ErrCorruptEntry is returned when a stored entry cannot be decoded.
var ErrCorruptEntry = errors.New("trace: corrupt entry")

// BoltRecorder persists trace entries in a bbolt database, one bucket per bus.
type BoltRecorder struct {
	db     *bolt.DB
	logger logger.Logger
}

// OpenBoltRecorder opens (or creates) the database at path.
func OpenBoltRecorder(path string, l logger.Logger) (*BoltRecorder, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	if l == nil {
		l = logger.GetLogger()
	}

	return &BoltRecorder{db: db, logger: l}, nil
}

// Record stores e. Errors are logged since a Tracer has no error return.
func (r *BoltRecorder) Record(e Entry) {
	if err := r.Append(e); err != nil {
		r.logger.Error("failed to record trace entry", "bus", e.BusID, "error", err)
	}
}

// Tracer returns r.Record as a Tracer.
func (r *BoltRecorder) Tracer() Tracer {
	return r.Record
}

// Append stores e and returns any storage error.
func (r *BoltRecorder) Append(e Entry) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		buck, err := tx.CreateBucketIfNotExists(e.BusID[:])
		if err != nil {
			return err
		}
		seq, err := buck.NextSequence()
		if err != nil {
			return err
		}

		return buck.Put(uint64ToBytes(seq), encodeEntry(e))
	})
}

// Entries returns the entries recorded for busID in recording order.
func (r *BoltRecorder) Entries(busID uuid.UUID) ([]Entry, error) {
	var entries []Entry
	err := r.db.View(func(tx *bolt.Tx) error {
		buck := tx.Bucket(busID[:])
		if buck == nil {
			return nil
		}

		return buck.ForEach(func(_, v []byte) error {
			e, err := decodeEntry(busID, v)
			if err != nil {
				return err
			}
			entries = append(entries, e)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Close closes the database.
func (r *BoltRecorder) Close() error {
	return r.db.Close()
}

func uint64ToBytes(val uint64) []byte {
	res := make([]byte, 8)
	binary.BigEndian.PutUint64(res, val)
	return res
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, entryHeaderSize, entryHeaderSize+len(e.Data))
	buf[0] = byte(e.Direction)
	binary.BigEndian.PutUint64(buf[1:], uint64(e.Time.UnixNano()))

	return append(buf, e.Data...)
}

func decodeEntry(busID uuid.UUID, v []byte) (Entry, error) {
	if len(v) < entryHeaderSize {
		return Entry{}, fmt.Errorf("%w: %d bytes", ErrCorruptEntry, len(v))
	}

	data := make([]byte, len(v)-entryHeaderSize)
	copy(data, v[entryHeaderSize:])

	return Entry{
		Direction: Direction(v[0]),
		BusID:     busID,
		Data:      data,
		Time:      time.Unix(0, int64(binary.BigEndian.Uint64(v[1:9]))),
	}, nil
}
