package recovery

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-enrich/internal/model"
)

// codecVersion is the first byte of every encoded snapshot.
const codecVersion byte = 1

// ErrSnapshotCorrupt is returned when a stored snapshot cannot be decoded or
// fails validation.
var ErrSnapshotCorrupt = eris.New("recovery: snapshot corrupt")

var (
	encoderPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	}}
	decoderPool = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	}}
)

// Encode serializes snap as a version byte followed by zstd-compressed JSON.
func Encode(snap *model.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, eris.Wrap(err, "recovery: marshal snapshot")
	}
	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)

	out := make([]byte, 1, len(raw)/4+1)
	out[0] = codecVersion
	return enc.EncodeAll(raw, out), nil
}

// Decode reverses Encode. Any failure wraps ErrSnapshotCorrupt.
func Decode(data []byte) (*model.Snapshot, error) {
	if len(data) < 2 {
		return nil, eris.Wrap(ErrSnapshotCorrupt, "recovery: snapshot too short")
	}
	if data[0] != codecVersion {
		return nil, eris.Wrapf(ErrSnapshotCorrupt, "recovery: unknown codec version %d", data[0])
	}

	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)

	raw, err := dec.DecodeAll(data[1:], nil)
	if err != nil {
		return nil, eris.Wrapf(ErrSnapshotCorrupt, "recovery: decompress: %v", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, eris.Wrapf(ErrSnapshotCorrupt, "recovery: unmarshal: %v", err)
	}
	if err := validate(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func validate(snap *model.Snapshot) error {
	switch {
	case snap.Version != model.SnapshotVersion:
		return eris.Wrapf(ErrSnapshotCorrupt, "recovery: snapshot version %d, want %d", snap.Version, model.SnapshotVersion)
	case snap.Cursor < 0 || snap.Cursor > snap.TotalRecords:
		return eris.Wrapf(ErrSnapshotCorrupt, "recovery: cursor %d outside [0, %d]", snap.Cursor, snap.TotalRecords)
	case len(snap.Results) != snap.Cursor:
		return eris.Wrapf(ErrSnapshotCorrupt, "recovery: %d results for cursor %d", len(snap.Results), snap.Cursor)
	}
	return nil
}
