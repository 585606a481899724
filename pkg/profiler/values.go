package profiler

import (
	"encoding/binary"
	"math"

	"github.com/maxgio92/xprof/pkg/block"
)

func (t *Thread) StoreBool(d *block.Descriptor, v bool, valueID uint64) {
	var b [1]byte
	if v {
		b[0] = 1
	}
	t.StoreValue(d, block.ValueBool, b[:], false, valueID)
}

func (t *Thread) StoreInt64(d *block.Descriptor, v int64, valueID uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	t.StoreValue(d, block.ValueInt64, b[:], false, valueID)
}

func (t *Thread) StoreUint64(d *block.Descriptor, v uint64, valueID uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	t.StoreValue(d, block.ValueUint64, b[:], false, valueID)
}

func (t *Thread) StoreFloat64(d *block.Descriptor, v float64, valueID uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	t.StoreValue(d, block.ValueFloat64, b[:], false, valueID)
}

// StoreInt64s stores vs as an array value.
func (t *Thread) StoreInt64s(d *block.Descriptor, vs []int64, valueID uint64) {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[8*i:], uint64(v))
	}
	t.StoreValue(d, block.ValueInt64, b, true, valueID)
}

func (t *Thread) StoreString(d *block.Descriptor, v string, valueID uint64) {
	t.StoreValue(d, block.ValueString, []byte(v), true, valueID)
}
