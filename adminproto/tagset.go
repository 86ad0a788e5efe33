package adminproto

import "github.com/bits-and-blooms/bitset"

// TagSet is a bitset indexed by Tag, used for both the per-side
// sending_allowed and dispatching_allowed guards of spec.md §4.8.
type TagSet struct {
	bits *bitset.BitSet
}

// NewTagSet returns an empty TagSet sized to hold every known tag.
func NewTagSet() *TagSet {
	return &TagSet{bits: bitset.New(uint(tagCount))}
}

// NewTagSetOf returns a TagSet with exactly the given tags set.
func NewTagSetOf(tags ...Tag) *TagSet {
	ts := NewTagSet()
	for _, t := range tags {
		ts.Allow(t)
	}
	return ts
}

// Allow sets t.
func (ts *TagSet) Allow(t Tag) { ts.bits.Set(uint(t)) }

// Revoke clears t.
func (ts *TagSet) Revoke(t Tag) { ts.bits.Clear(uint(t)) }

// IsAllowed reports whether t is set.
func (ts *TagSet) IsAllowed(t Tag) bool { return ts.bits.Test(uint(t)) }

// MarshalCBOR implements cbor.Marshaler, encoding the bitset as a byte
// string so TagSet round-trips through adminproto's own CBOR field
// codec, per spec.md §8's testable property for admin framing.
func (ts *TagSet) MarshalCBOR() ([]byte, error) {
	raw, err := ts.bits.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return cborMarshal(raw)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (ts *TagSet) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cborUnmarshal(data, &raw); err != nil {
		return err
	}
	bs := &bitset.BitSet{}
	if err := bs.UnmarshalBinary(raw); err != nil {
		return err
	}
	ts.bits = bs
	return nil
}
