package bench

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tunebench/tunebench/pkg/utils"
)

func TestDTypeSize(t *testing.T) {
	size, err := Float32.Size()
	assert.NoError(t, err)
	assert.Equal(t, int64(4), size)

	size, err = Int64.Size()
	assert.NoError(t, err)
	assert.Equal(t, int64(8), size)

	_, err = DType("complex128").Size()
	assert.ErrorIs(t, err, utils.ErrBadRequest)
}

func TestStorageElements(t *testing.T) {
	meta := TensorMeta{DType: Float32, Sizes: []int64{2, 3}, Strides: []int64{3, 1}}
	elements, err := meta.StorageElements()
	assert.NoError(t, err)
	assert.Equal(t, int64(6), elements)

	// Transposed view needs the same storage.
	meta = TensorMeta{DType: Float32, Sizes: []int64{3, 2}, Strides: []int64{1, 3}}
	elements, err = meta.StorageElements()
	assert.NoError(t, err)
	assert.Equal(t, int64(6), elements)

	// Offset enlarges the storage.
	meta = TensorMeta{DType: Float32, Sizes: []int64{4}, Strides: []int64{1}, Offset: 2}
	elements, err = meta.StorageElements()
	assert.NoError(t, err)
	assert.Equal(t, int64(6), elements)

	// Mismatched ranks are rejected.
	meta = TensorMeta{DType: Float32, Sizes: []int64{2, 2}, Strides: []int64{1}}
	_, err = meta.StorageElements()
	assert.ErrorIs(t, err, utils.ErrBadRequest)
}

func TestMaterializeDeterministic(t *testing.T) {
	meta := TensorMeta{Name: "buf0", DType: Float32, Sizes: []int64{8}, Strides: []int64{1}}

	first, err := meta.Materialize()
	assert.NoError(t, err)
	assert.Len(t, first.Data, 32)

	second, err := meta.Materialize()
	assert.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)

	other := TensorMeta{Name: "buf1", DType: Float32, Sizes: []int64{8}, Strides: []int64{1}}
	third, err := other.Materialize()
	assert.NoError(t, err)
	assert.NotEqual(t, first.Data, third.Data)
}

func TestMaterializeArgumentsAliasing(t *testing.T) {
	inputs := []TensorMeta{
		{Name: "a", DType: Float32, Sizes: []int64{4}, Strides: []int64{1}},
		{Name: "b", DType: Float32, Sizes: []int64{4}, Strides: []int64{1}},
		{Name: "a", DType: Float32, Sizes: []int64{4}, Strides: []int64{1}},
	}
	output := TensorMeta{Name: "out", DType: Float32, Sizes: []int64{4}, Strides: []int64{1}}

	all, unique, out, err := MaterializeArguments(inputs, output)
	assert.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Len(t, unique, 2)
	assert.NotNil(t, out)

	// Duplicate names alias the same buffer.
	assert.Same(t, all[0], all[2])
	assert.NotSame(t, all[0], all[1])
}

func TestMaterializeArgumentsUnnamed(t *testing.T) {
	inputs := []TensorMeta{
		{DType: Float32, Sizes: []int64{2}, Strides: []int64{1}},
		{DType: Float32, Sizes: []int64{2}, Strides: []int64{1}},
	}
	output := TensorMeta{DType: Float32, Sizes: []int64{2}, Strides: []int64{1}}

	all, unique, _, err := MaterializeArguments(inputs, output)
	assert.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, unique, 2)
	assert.NotSame(t, all[0], all[1])
}

func TestMaterializeZeroSize(t *testing.T) {
	meta := TensorMeta{DType: Float32, Sizes: []int64{0, 4}, Strides: []int64{4, 1}}
	tensor, err := meta.Materialize()
	assert.NoError(t, err)
	assert.Len(t, tensor.Data, 0)
}
