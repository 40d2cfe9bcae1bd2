package subscription

import (
	"encoding/binary"
	"math"

	"github.com/xraph/splitpay/types"
)

// layoutV1 tags the account image format.
const layoutV1 byte = 1

// maxImageOwners bounds decoding so a corrupt length prefix cannot force
// a huge allocation.
const maxImageOwners = 255

// MarshalBinary encodes the account image: the fields that make up the
// subscription state, excluding hosting fields (ID, Resource, Version,
// Metadata, timestamps).
//
// Layout, little-endian:
//
//	u8        layout version
//	u32 + n   token mint
//	u32 + ... owners, each u32 + n
//	u32 + ... shares, each u8
//	u32 + ... withdrawn, each u64
//	u64       total paid
//	u64       price
//	u64       period duration
//	i64       paid until
func (r *Record) MarshalBinary() ([]byte, error) {
	size := 1 + 4 + len(r.TokenMint) + 4
	for _, owner := range r.Owners {
		size += 4 + len(owner)
	}
	size += 4 + len(r.Shares) + 4 + 8*len(r.Withdrawn) + 4*8

	buf := make([]byte, 0, size)
	buf = append(buf, layoutV1)
	buf = appendString(buf, r.TokenMint)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Owners)))
	for _, owner := range r.Owners {
		buf = appendString(buf, owner)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Shares)))
	buf = append(buf, r.Shares...)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Withdrawn)))
	for _, w := range r.Withdrawn {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(w))
	}

	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.TotalPaid))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.Price))
	buf = binary.LittleEndian.AppendUint64(buf, r.PeriodDuration)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.PaidUntil))
	return buf, nil
}

// UnmarshalBinary decodes an account image produced by MarshalBinary
// into r. Hosting fields are left untouched. Malformed input returns an
// error wrapping ErrCorruptRecord.
func (r *Record) UnmarshalBinary(data []byte) error {
	d := decoder{buf: data}

	if v := d.u8(); d.err == nil && v != layoutV1 {
		return fail("decode", ErrCorruptRecord, "unknown layout %d", v)
	}

	mint := d.str()

	owners := make([]string, d.count())
	for i := range owners {
		owners[i] = d.str()
	}

	shares := make([]uint8, d.count())
	for i := range shares {
		shares[i] = d.u8()
	}

	withdrawn := make([]types.Amount, d.count())
	for i := range withdrawn {
		withdrawn[i] = types.Amount(d.u64())
	}

	totalPaid := types.Amount(d.u64())
	price := types.Amount(d.u64())
	period := d.u64()
	paidUntil := int64(d.u64())

	if d.err != nil {
		return d.err
	}
	if len(d.buf) != 0 {
		return fail("decode", ErrCorruptRecord, "%d trailing bytes", len(d.buf))
	}

	r.TokenMint = mint
	r.Owners = owners
	r.Shares = shares
	r.Withdrawn = withdrawn
	r.TotalPaid = totalPaid
	r.Price = price
	r.PeriodDuration = period
	r.PaidUntil = paidUntil
	return nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// decoder reads the image front to back. After the first error every
// read returns a zero value and the error sticks.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.buf) {
		d.err = fail("decode", ErrCorruptRecord, "truncated image")
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) str() string {
	n := d.u32()
	if n > math.MaxInt32 {
		d.err = fail("decode", ErrCorruptRecord, "string length %d", n)
		return ""
	}
	return string(d.take(int(n)))
}

func (d *decoder) count() int {
	n := d.u32()
	if d.err != nil {
		return 0
	}
	if n > maxImageOwners {
		d.err = fail("decode", ErrCorruptRecord, "sequence length %d", n)
		return 0
	}
	return int(n)
}
