package subscription

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xraph/splitpay/types"
)

func TestBinaryRoundTrip(t *testing.T) {
	r := mustNew(t, []string{"o1", "owner-two"}, []uint8{60, 40})
	r = mustPay(t, r, types.MaxAmount/2, t0)
	r, _, err := r.Withdraw("owner-two", 12345, NewSignerSet("owner-two"), t0)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	data, err := r.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var got Record
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	again, _ := got.MarshalBinary()
	if !bytes.Equal(data, again) {
		t.Fatal("re-encoding differs")
	}
	if got.TotalPaid != r.TotalPaid || got.PaidUntil != r.PaidUntil || got.Withdrawn[1] != 12345 {
		t.Errorf("decoded %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestBinaryLayout(t *testing.T) {
	r := &Record{
		TokenMint:      "m",
		Owners:         []string{"a"},
		Shares:         []uint8{100},
		Withdrawn:      []types.Amount{2},
		TotalPaid:      3,
		Price:          4,
		PeriodDuration: 5,
		PaidUntil:      -1,
	}
	data, _ := r.MarshalBinary()

	want := []byte{
		1,
		1, 0, 0, 0, 'm',
		1, 0, 0, 0, 1, 0, 0, 0, 'a',
		1, 0, 0, 0, 100,
		1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
		3, 0, 0, 0, 0, 0, 0, 0,
		4, 0, 0, 0, 0, 0, 0, 0,
		5, 0, 0, 0, 0, 0, 0, 0,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	}
	if !bytes.Equal(data, want) {
		t.Errorf("layout mismatch\n got %v\nwant %v", data, want)
	}
}

func TestUnmarshalCorrupt(t *testing.T) {
	r := mustNew(t, []string{"o1", "o2"}, []uint8{60, 40})
	data, _ := r.MarshalBinary()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown layout", append([]byte{9}, data[1:]...)},
		{"truncated", data[:len(data)-3]},
		{"trailing bytes", append(append([]byte(nil), data...), 0)},
		{"huge owner count", func() []byte {
			b := append([]byte(nil), data...)
			// owner count sits after the layout byte and the mint string
			off := 1 + 4 + len("mint")
			b[off], b[off+1], b[off+2], b[off+3] = 0xff, 0xff, 0xff, 0x7f
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Record
			if err := got.UnmarshalBinary(tt.data); !errors.Is(err, ErrCorruptRecord) {
				t.Errorf("expected ErrCorruptRecord, got %v", err)
			}
		})
	}
}

func TestValidateAndCheckSuccessor(t *testing.T) {
	r := mustNew(t, []string{"o1", "o2"}, []uint8{60, 40})
	r = mustPay(t, r, 100, t0)

	bad := r.Clone()
	bad.Withdrawn[0] = 61
	if err := bad.Validate(); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord, got %v", err)
	}

	tests := []struct {
		name string
		edit func(n *Record)
	}{
		{"total paid decreased", func(n *Record) { n.TotalPaid = 50 }},
		{"paid until decreased", func(n *Record) { n.PaidUntil-- }},
		{"shares changed", func(n *Record) { n.Shares = []uint8{50, 50} }},
		{"owners changed", func(n *Record) { n.Owners = []string{"o1", "o3"} }},
		{"price changed", func(n *Record) { n.Price = 1 }},
		{"mint changed", func(n *Record) { n.TokenMint = "other" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := r.Clone()
			tt.edit(next)
			if err := CheckSuccessor(r, next); !errors.Is(err, ErrNonMonotonic) {
				t.Errorf("expected ErrNonMonotonic, got %v", err)
			}
		})
	}

	w, _, _ := r.Withdraw("o1", 30, NewSignerSet("o1"), t0)
	if err := CheckSuccessor(w, r); !errors.Is(err, ErrNonMonotonic) {
		t.Errorf("expected ErrNonMonotonic for a rolled back withdrawal, got %v", err)
	}
	if err := CheckSuccessor(r, w); err != nil {
		t.Errorf("CheckSuccessor: %v", err)
	}

	overdrawn := r.Clone()
	overdrawn.Withdrawn[1] = 41
	if err := CheckSuccessor(r, overdrawn); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord, got %v", err)
	}
}
