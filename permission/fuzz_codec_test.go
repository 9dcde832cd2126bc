package permission

import (
	"bytes"
	"testing"
)

// FuzzMaskCodecRoundTrip exercises the binary mask codec with arbitrary bytes.
func FuzzMaskCodecRoundTrip(f *testing.F) {
	f.Add(make([]byte, EncodedSize))
	f.Add(bytes.Repeat([]byte{0xFF}, EncodedSize))
	f.Add([]byte{})
	f.Add([]byte{1, 2, 3})
	f.Add(make([]byte, 17))

	f.Fuzz(func(t *testing.T, data []byte) {
		mask, err := DecodeMask(data)
		if err != nil {
			if len(data) == EncodedSize {
				t.Fatalf("valid-length input rejected: %v", err)
			}
			return
		}
		if !bytes.Equal(EncodeMask(mask), data) {
			t.Fatalf("binary roundtrip mismatch for %x", data)
		}
	})
}

// FuzzMaskDecimalRoundTrip checks that the decimal form used for NUMERIC
// columns never loses bits.
func FuzzMaskDecimalRoundTrip(f *testing.F) {
	f.Add(uint64(0), uint64(0))
	f.Add(^uint64(0), ^uint64(0))
	f.Add(uint64(1)<<63, uint64(1))

	f.Fuzz(func(t *testing.T, lo, hi uint64) {
		in := Mask{Lo: lo, Hi: hi}
		out, err := ParseMask(in.String())
		if err != nil {
			t.Fatalf("parse %q: %v", in.String(), err)
		}
		if out != in {
			t.Fatalf("decimal roundtrip mismatch: %+v vs %+v", in, out)
		}
	})
}
