package reloc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/banshee-data/slamframe/internal/slam"
)

// snapshotVersion is bumped when the snapshot layout changes.
const snapshotVersion = 2

// ErrSnapshotMismatch is returned by Load when a snapshot was written by a
// relocaliser with different ferns.
var ErrSnapshotMismatch = errors.New("relocaliser snapshot does not match fern configuration")

// ErrSnapshotCorrupt is returned by Load when the snapshot body does not
// match its checksum.
var ErrSnapshotCorrupt = errors.New("relocaliser snapshot checksum mismatch")

// envelope carries the encoded snapshot with its BLAKE3 digest.
type envelope struct {
	Body []byte `cbor:"1,keyasint"`
	Sum  []byte `cbor:"2,keyasint"`
}

type snapshotKeyframe struct {
	ID    int      `cbor:"1,keyasint"`
	Codes []uint16 `cbor:"2,keyasint"`
}

type snapshot struct {
	Version             int                `cbor:"1,keyasint"`
	Seed                int64              `cbor:"2,keyasint"`
	NumFerns            int                `cbor:"3,keyasint"`
	NumDecisionsPerFern int                `cbor:"4,keyasint"`
	GridWidth           int                `cbor:"5,keyasint"`
	GridHeight          int                `cbor:"6,keyasint"`
	NextID              int                `cbor:"7,keyasint"`
	Keyframes           []snapshotKeyframe `cbor:"8,keyasint"`
}

var snapshotEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("reloc: CBOR encoder initialization failed: " + err.Error())
	}
	return em
}()

// Save writes the keyframe database as zstd-compressed CBOR with a BLAKE3
// checksum. The ferns themselves are not written; they are rebuilt from the
// seed.
func (r *FernRelocaliser) Save(w io.Writer) error {
	r.mu.Lock()
	snap := snapshot{
		Version:             snapshotVersion,
		Seed:                r.cfg.Seed,
		NumFerns:            r.cfg.NumFerns,
		NumDecisionsPerFern: r.cfg.NumDecisionsPerFern,
		GridWidth:           r.cfg.GridWidth,
		GridHeight:          r.cfg.GridHeight,
		NextID:              int(r.nextID),
		Keyframes:           make([]snapshotKeyframe, 0, len(r.keyframes)),
	}
	for id, codes := range r.keyframes {
		snap.Keyframes = append(snap.Keyframes, snapshotKeyframe{ID: int(id), Codes: append([]uint16(nil), codes...)})
	}
	r.mu.Unlock()
	sort.Slice(snap.Keyframes, func(i, j int) bool { return snap.Keyframes[i].ID < snap.Keyframes[j].ID })

	body, err := snapshotEncMode.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	sum := blake3.Sum256(body)

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := snapshotEncMode.NewEncoder(zw).Encode(envelope{Body: body, Sum: sum[:]}); err != nil {
		zw.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	return nil
}

// Load replaces the keyframe database with one written by Save.
func (r *FernRelocaliser) Load(rd io.Reader) error {
	zr, err := zstd.NewReader(rd)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var env envelope
	if err := cbor.NewDecoder(zr).Decode(&env); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if sum := blake3.Sum256(env.Body); !bytes.Equal(sum[:], env.Sum) {
		return ErrSnapshotCorrupt
	}
	var snap snapshot
	if err := cbor.Unmarshal(env.Body, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.Seed != r.cfg.Seed || snap.NumFerns != r.cfg.NumFerns ||
		snap.NumDecisionsPerFern != r.cfg.NumDecisionsPerFern ||
		snap.GridWidth != r.cfg.GridWidth || snap.GridHeight != r.cfg.GridHeight {
		return ErrSnapshotMismatch
	}

	keyframes := make(map[slam.KeyframeID][]uint16, len(snap.Keyframes))
	for _, kf := range snap.Keyframes {
		if len(kf.Codes) != r.cfg.NumFerns {
			return fmt.Errorf("keyframe %d has %d codes, want %d: %w", kf.ID, len(kf.Codes), r.cfg.NumFerns, ErrSnapshotMismatch)
		}
		keyframes[slam.KeyframeID(kf.ID)] = kf.Codes
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.keyframes = keyframes
	r.nextID = slam.KeyframeID(snap.NextID)
	for i := range r.ferns {
		r.ferns[i].index = make(map[uint16][]slam.KeyframeID)
	}
	for _, kf := range snap.Keyframes {
		for i, code := range kf.Codes {
			r.ferns[i].index[code] = append(r.ferns[i].index[code], slam.KeyframeID(kf.ID))
		}
	}
	return nil
}
