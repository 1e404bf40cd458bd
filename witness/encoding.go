package witness

import (
	"encoding/binary"
	"errors"
)

// ErrTruncatedData is returned when encoded witness bytes end before all
// fields they claim to hold have been read.
var ErrTruncatedData = errors.New("witness: truncated data")

const (
	witnessHeaderSize = 32 + 4 // ParentRoot + stem count
	witnessStemSize   = 31 + 4 // Stem + suffix count
)

const (
	suffixFlagHasCurrent byte = 1 << 0
	suffixFlagHasNew     byte = 1 << 1
)

// EncodeWitness serializes an ExecutionWitness into a compact binary form:
// a 36-byte header (32-byte ParentRoot, 4-byte big-endian stem count)
// followed by each stem's 31-byte Stem, a 4-byte suffix count, and each
// suffix's 1-byte index, 1-byte presence flags, and 0-2 32-byte values.
func EncodeWitness(w *ExecutionWitness) ([]byte, error) {
	size := witnessHeaderSize
	for _, stem := range w.State {
		size += witnessStemSize
		for _, s := range stem.Suffixes {
			size += 2
			if s.CurrentValue != nil {
				size += 32
			}
			if s.NewValue != nil {
				size += 32
			}
		}
	}

	buf := make([]byte, size)
	copy(buf[:32], w.ParentRoot[:])
	binary.BigEndian.PutUint32(buf[32:36], uint32(len(w.State)))

	off := witnessHeaderSize
	for _, stem := range w.State {
		copy(buf[off:off+31], stem.Stem[:])
		binary.BigEndian.PutUint32(buf[off+31:off+35], uint32(len(stem.Suffixes)))
		off += witnessStemSize

		for _, s := range stem.Suffixes {
			buf[off] = s.Suffix
			flags := byte(0)
			if s.CurrentValue != nil {
				flags |= suffixFlagHasCurrent
			}
			if s.NewValue != nil {
				flags |= suffixFlagHasNew
			}
			buf[off+1] = flags
			off += 2

			if s.CurrentValue != nil {
				copy(buf[off:off+32], s.CurrentValue[:])
				off += 32
			}
			if s.NewValue != nil {
				copy(buf[off:off+32], s.NewValue[:])
				off += 32
			}
		}
	}

	return buf, nil
}

// DecodeWitness parses the binary form produced by EncodeWitness.
func DecodeWitness(data []byte) (*ExecutionWitness, error) {
	if len(data) < witnessHeaderSize {
		return nil, ErrTruncatedData
	}

	w := &ExecutionWitness{}
	copy(w.ParentRoot[:], data[:32])
	stemCount := binary.BigEndian.Uint32(data[32:36])

	off := witnessHeaderSize
	w.State = make([]StemStateDiff, 0, stemCount)
	for i := uint32(0); i < stemCount; i++ {
		if off+witnessStemSize > len(data) {
			return nil, ErrTruncatedData
		}
		var stem StemStateDiff
		copy(stem.Stem[:], data[off:off+31])
		suffixCount := binary.BigEndian.Uint32(data[off+31 : off+35])
		off += witnessStemSize

		stem.Suffixes = make([]SuffixStateDiff, 0, suffixCount)
		for j := uint32(0); j < suffixCount; j++ {
			if off+2 > len(data) {
				return nil, ErrTruncatedData
			}
			var s SuffixStateDiff
			s.Suffix = data[off]
			flags := data[off+1]
			off += 2

			if flags&suffixFlagHasCurrent != 0 {
				if off+32 > len(data) {
					return nil, ErrTruncatedData
				}
				var v [32]byte
				copy(v[:], data[off:off+32])
				s.CurrentValue = &v
				off += 32
			}
			if flags&suffixFlagHasNew != 0 {
				if off+32 > len(data) {
					return nil, ErrTruncatedData
				}
				var v [32]byte
				copy(v[:], data[off:off+32])
				s.NewValue = &v
				off += 32
			}

			stem.Suffixes = append(stem.Suffixes, s)
		}

		w.State = append(w.State, stem)
	}

	return w, nil
}
