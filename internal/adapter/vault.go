package adapter

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strconv"

	"github.com/caseward/forensics-cli/internal/model"
)

// Vault is the proprietary archive format: an 8-byte magic followed by
// length-framed binary records.
//
// Record payload layout (big-endian):
//
//	flags     uint8   bit0 = deleted/recovered
//	sent_at   int64   unix milliseconds, 0 = absent
//	sender    uint16 length + bytes
//	nrecip    uint16, then per recipient uint16 length + bytes
//	body      uint32 length + bytes
//	trailing  everything left in the frame, meaning unknown
//
// Unknown trailing bytes are preserved verbatim in the record's raw header
// blob rather than discarded.
var vaultMagic = []byte("CWVAULT1")

// maxVaultRecord caps a single frame. A larger length field means the framing
// is broken and resynchronization is impossible, so the container is
// unreadable past that point.
const maxVaultRecord = 64 << 20

// VaultAdapter decodes the proprietary fixed-layout binary archive.
type VaultAdapter struct{}

// NewVault creates the proprietary-archive adapter.
func NewVault() *VaultAdapter {
	return &VaultAdapter{}
}

func (a *VaultAdapter) Kind() model.SourceKind {
	return model.KindVault
}

func (a *VaultAdapter) Parse(ctx context.Context, r io.Reader) (<-chan RawRecord, <-chan error) {
	recCh := make(chan RawRecord, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		br := bufio.NewReader(r)

		magic := make([]byte, len(vaultMagic))
		if _, err := io.ReadFull(br, magic); err != nil || string(magic) != string(vaultMagic) {
			errCh <- unreadable(model.KindVault, "bad magic bytes", err)
			return
		}

		for {
			if ctx.Err() != nil {
				return
			}

			var frameLen uint32
			err := binary.Read(br, binary.BigEndian, &frameLen)
			if err == io.EOF {
				return
			}
			if err != nil {
				// A partial length field at the tail is one damaged record,
				// not a damaged container.
				if errors.Is(err, io.ErrUnexpectedEOF) {
					send(ctx, recCh, RawRecord{Corrupt: true, CorruptReason: "truncated frame length"})
					return
				}
				errCh <- unreadable(model.KindVault, "read frame length", err)
				return
			}
			if frameLen > maxVaultRecord {
				errCh <- unreadable(model.KindVault, "frame length exceeds limit, framing broken", nil)
				return
			}

			frame := make([]byte, frameLen)
			if _, err := io.ReadFull(br, frame); err != nil {
				if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
					send(ctx, recCh, RawRecord{Corrupt: true, CorruptReason: "truncated frame"})
					return
				}
				errCh <- unreadable(model.KindVault, "read frame", err)
				return
			}

			// Framing lets parsing resync on the next record after a bad
			// payload, so one corrupt frame never aborts the extraction.
			if !send(ctx, recCh, decodeVaultFrame(frame)) {
				return
			}
		}
	}()

	return recCh, errCh
}

func decodeVaultFrame(frame []byte) RawRecord {
	d := vaultDecoder{buf: frame}

	flags := d.uint8()
	sentMillis := d.int64()
	sender := d.lenString16()
	nrecip := int(d.uint16())
	if nrecip > len(frame) {
		return RawRecord{Corrupt: true, CorruptReason: "recipient count exceeds frame"}
	}
	recipients := make([]string, 0, nrecip)
	for i := 0; i < nrecip; i++ {
		recipients = append(recipients, d.lenString16())
	}
	body := d.lenString32()

	if d.failed {
		return RawRecord{Corrupt: true, CorruptReason: "frame shorter than declared fields"}
	}
	if sender == "" {
		return RawRecord{Corrupt: true, CorruptReason: "empty sender"}
	}

	rec := RawRecord{
		Sender:     sender,
		Recipients: recipients,
		Body:       body,
		Deleted:    flags&0x01 != 0,
	}
	if sentMillis != 0 {
		rec.Timestamp = strconv.FormatInt(sentMillis, 10)
	}
	if rest := d.rest(); len(rest) > 0 {
		rec.RawHeader = append([]byte(nil), rest...)
	}
	return rec
}

// vaultDecoder reads fields sequentially and latches a failure flag instead
// of erroring per field; callers check failed once at the end.
type vaultDecoder struct {
	buf    []byte
	off    int
	failed bool
}

func (d *vaultDecoder) take(n int) []byte {
	if d.failed || n < 0 || d.off+n > len(d.buf) {
		d.failed = true
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *vaultDecoder) uint8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *vaultDecoder) uint16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *vaultDecoder) int64() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (d *vaultDecoder) lenString16() string {
	n := int(d.uint16())
	return string(d.take(n))
}

func (d *vaultDecoder) lenString32() string {
	b := d.take(4)
	if b == nil {
		return ""
	}
	return string(d.take(int(binary.BigEndian.Uint32(b))))
}

func (d *vaultDecoder) rest() []byte {
	if d.failed {
		return nil
	}
	return d.buf[d.off:]
}
