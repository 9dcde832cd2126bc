package permission

import "math/bits"

// MaxBits is the number of capability bits a Mask can carry.
const MaxBits = 128

// Mask is a 128-bit capability bitmask. The zero value grants nothing.
type Mask struct {
	Lo uint64
	Hi uint64
}

// FullMask returns a mask with every bit set.
func FullMask() Mask {
	return Mask{Lo: ^uint64(0), Hi: ^uint64(0)}
}

// Bit returns a mask with only the given bit set. Out-of-range bits
// produce the zero mask.
func Bit(bit int) Mask {
	var m Mask
	m.Set(bit)
	return m
}

// Of returns the union of the given masks.
func Of(masks ...Mask) Mask {
	var out Mask
	for _, m := range masks {
		out = out.Or(m)
	}
	return out
}

// Has reports whether the given bit is set.
func (m Mask) Has(bit int) bool {
	if bit < 0 || bit >= MaxBits {
		return false
	}
	if bit < 64 {
		return m.Lo&(1<<uint(bit)) != 0
	}
	return m.Hi&(1<<uint(bit-64)) != 0
}

// Set sets the given bit in the mask.
func (m *Mask) Set(bit int) {
	if bit < 0 || bit >= MaxBits {
		return
	}
	if bit < 64 {
		m.Lo |= 1 << uint(bit)
	} else {
		m.Hi |= 1 << uint(bit-64)
	}
}

// Clear clears the given bit in the mask.
func (m *Mask) Clear(bit int) {
	if bit < 0 || bit >= MaxBits {
		return
	}
	if bit < 64 {
		m.Lo &^= 1 << uint(bit)
	} else {
		m.Hi &^= 1 << uint(bit-64)
	}
}

// Or returns m | o.
func (m Mask) Or(o Mask) Mask {
	return Mask{Lo: m.Lo | o.Lo, Hi: m.Hi | o.Hi}
}

// And returns m & o.
func (m Mask) And(o Mask) Mask {
	return Mask{Lo: m.Lo & o.Lo, Hi: m.Hi & o.Hi}
}

// AndNot returns m &^ o.
func (m Mask) AndNot(o Mask) Mask {
	return Mask{Lo: m.Lo &^ o.Lo, Hi: m.Hi &^ o.Hi}
}

// Contains reports whether every bit of required is present in m.
func (m Mask) Contains(required Mask) bool {
	return m.And(required) == required
}

// Intersects reports whether m and o share at least one bit.
func (m Mask) Intersects(o Mask) bool {
	return !m.And(o).IsZero()
}

// IsZero reports whether no bit is set.
func (m Mask) IsZero() bool {
	return m.Lo == 0 && m.Hi == 0
}

// Equal reports bitwise equality.
func (m Mask) Equal(o Mask) bool {
	return m == o
}

// Count returns the number of set bits.
func (m Mask) Count() int {
	return bits.OnesCount64(m.Lo) + bits.OnesCount64(m.Hi)
}

// Bits returns the indexes of the set bits in ascending order.
func (m Mask) Bits() []int {
	out := make([]int, 0, m.Count())
	for i := 0; i < MaxBits; i++ {
		if m.Has(i) {
			out = append(out, i)
		}
	}
	return out
}
