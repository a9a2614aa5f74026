package wire

import (
	"io"

	"github.com/efreet/mysqlproxy/protoerr"
)

// MaxPayload is the largest payload a single framed record may carry
// (0xFFFFFF); a logical message longer than this is split across
// multiple records (see spec.md §3, "Packet chain").
const MaxPayload = 0xFFFFFF

// RecordMeta describes one framed record read off the wire.
type RecordMeta struct {
	Length uint32
	SeqID  byte
}

// WriteChain frames payload as one or more ≤MaxPayload records, each
// prefixed with a 3-byte little-endian length and a 1-byte sequence ID
// starting at startSeqID and incrementing by 1 (mod 256) per record. A
// payload whose length is an exact multiple of MaxPayload is terminated
// by an explicit zero-length record. It returns the total payload bytes
// written and the sequence ID of the last record.
func WriteChain(w io.Writer, payload []byte, startSeqID byte) (int, byte, error) {
	seq := startSeqID
	total := 0
	for {
		chunk := payload
		final := true
		if len(chunk) >= MaxPayload {
			chunk = payload[:MaxPayload]
			final = false
		}

		if err := writeRecordHeader(w, uint32(len(chunk)), seq); err != nil {
			return total, seq, err
		}
		if len(chunk) > 0 {
			if _, err := w.Write(chunk); err != nil {
				return total, seq, err
			}
		}
		total += len(chunk)
		payload = payload[len(chunk):]

		if final {
			return total, seq, nil
		}
		seq++
	}
}

func writeRecordHeader(w io.Writer, length uint32, seq byte) error {
	hdr := [4]byte{
		byte(length),
		byte(length >> 8),
		byte(length >> 16),
		seq,
	}
	_, err := w.Write(hdr[:])
	return err
}

// ReadChain reads one logical payload off r: a header (L,s), then L bytes,
// repeated while L == MaxPayload. It returns the concatenated payload and
// the per-record metadata in order. Sequence IDs are validated only to be
// strictly monotonic (mod 256) within the chain.
func ReadChain(r io.Reader) ([]byte, []RecordMeta, error) {
	var payload []byte
	var meta []RecordMeta
	var prevSeq byte
	first := true

	for {
		length, seq, err := readRecordHeader(r)
		if err != nil {
			return nil, nil, err
		}
		if !first {
			if seq != prevSeq+1 {
				return nil, nil, protoerr.New(protoerr.MalformedPacket, "non-monotonic sequence ID in packet chain")
			}
		}
		prevSeq = seq
		first = false

		buf := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, nil, protoerr.Wrap(protoerr.MalformedPacket, "short read in packet chain", err)
			}
		}
		payload = append(payload, buf...)
		meta = append(meta, RecordMeta{Length: length, SeqID: seq})

		if length != MaxPayload {
			return payload, meta, nil
		}
	}
}

func readRecordHeader(r io.Reader) (uint32, byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, protoerr.Wrap(protoerr.MalformedPacket, "short read of packet header", err)
	}
	length := uint32(hdr[0]) | uint32(hdr[1])<<8 | uint32(hdr[2])<<16
	return length, hdr[3], nil
}

// ChainLength sums the per-record lengths recorded in meta.
func ChainLength(meta []RecordMeta) int {
	total := 0
	for _, m := range meta {
		total += int(m.Length)
	}
	return total
}
