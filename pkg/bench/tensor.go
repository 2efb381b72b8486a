package bench

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/tunebench/tunebench/pkg/utils"
)

type DType string

const (
	Float16 = DType("float16")
	Float32 = DType("float32")
	Float64 = DType("float64")
	Int8    = DType("int8")
	Int32   = DType("int32")
	Int64   = DType("int64")
)

// Size of one element in bytes.
func (d DType) Size() (int64, error) {
	switch d {
	case Int8:
		return 1, nil
	case Float16:
		return 2, nil
	case Float32, Int32:
		return 4, nil
	case Float64, Int64:
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: unknown dtype %q", utils.ErrBadRequest, string(d))
	}
}

// TensorMeta describes a tensor argument without referencing any live
// device buffer. It is sufficient for a worker subprocess to materialize
// an equivalent buffer locally.
type TensorMeta struct {
	// Device ordinal the buffer belongs to. -1 means any device.
	Device int

	DType   DType
	Sizes   []int64
	Strides []int64

	// Element offset of the first logical element into the storage.
	Offset int64

	// Buffer name in the originating computation graph. Two metas with
	// the same name alias the same storage. May be empty.
	Name string
}

// Number of storage elements needed to back the strided view,
// including the base offset.
func (m *TensorMeta) StorageElements() (int64, error) {
	if len(m.Sizes) != len(m.Strides) {
		return 0, fmt.Errorf("%w: %d sizes but %d strides", utils.ErrBadRequest, len(m.Sizes), len(m.Strides))
	}

	needed := int64(1)
	for i, size := range m.Sizes {
		if size < 0 {
			return 0, fmt.Errorf("%w: negative size %d", utils.ErrBadRequest, size)
		}
		if size == 0 {
			return m.Offset, nil
		}
		needed += (size - 1) * m.Strides[i]
	}
	return m.Offset + needed, nil
}

func (m *TensorMeta) String() string {
	return fmt.Sprintf("%s%v@%v+%d", m.DType, m.Sizes, m.Strides, m.Offset)
}

// A host-side stand-in for the device buffer described by a TensorMeta.
// The contents are a deterministic function of the metadata so that
// repeated materializations are reproducible across processes.
type Tensor struct {
	Meta TensorMeta
	Data []byte
}

// Materialize allocates and fills the backing storage for the metadata.
func (m *TensorMeta) Materialize() (*Tensor, error) {
	elemSize, err := m.DType.Size()
	if err != nil {
		return nil, err
	}

	elements, err := m.StorageElements()
	if err != nil {
		return nil, err
	}

	data := make([]byte, elements*elemSize)
	fillDeterministic(data, m.seed())

	return &Tensor{Meta: *m, Data: data}, nil
}

// Seed derived from the identifying metadata fields. Distinct metadata
// produces distinct fills; identical metadata produces identical fills.
func (m *TensorMeta) seed() int64 {
	id := fmt.Sprintf("%s/%s/%v/%v/%d", m.Name, m.DType, m.Sizes, m.Strides, m.Offset)
	sum := utils.Blake3Sum([]byte(id))
	return int64(binary.LittleEndian.Uint64([]byte(sum.Hex())[:8]))
}

func fillDeterministic(data []byte, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Read(data)
}

// MaterializeArguments builds the input and output buffers for a request.
// Metas sharing a name alias one buffer, preserving the aliasing of the
// original computation graph. The returned unique slice holds one tensor
// per distinct name, in first-seen order; unnamed metas are always unique.
func MaterializeArguments(inputs []TensorMeta, output TensorMeta) (all []*Tensor, unique []*Tensor, out *Tensor, err error) {
	seen := map[string]*Tensor{}

	for i := range inputs {
		meta := &inputs[i]

		if meta.Name != "" {
			if tensor, ok := seen[meta.Name]; ok {
				all = append(all, tensor)
				continue
			}
		}

		tensor, err := meta.Materialize()
		if err != nil {
			return nil, nil, nil, err
		}
		if meta.Name != "" {
			seen[meta.Name] = tensor
		}
		all = append(all, tensor)
		unique = append(unique, tensor)
	}

	out, err = output.Materialize()
	if err != nil {
		return nil, nil, nil, err
	}
	return all, unique, out, nil
}
