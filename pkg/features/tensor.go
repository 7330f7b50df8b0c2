// Package features assembles model-ready numeric feature tensors from
// alignments and structural templates.
package features

import "fmt"

// Tensor is a dense row-major float32 array with an explicit shape. The
// feature pipeline only ever reshapes, tiles and concatenates, so a flat
// slice plus shape bookkeeping covers everything the model contract needs.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NewTensor allocates a zero-filled tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, size)}
}

// Scalar wraps a single value as a one-element tensor.
func Scalar(v float32) *Tensor {
	return &Tensor{Shape: []int{1}, Data: []float32{v}}
}

// Dim returns the size of axis i.
func (t *Tensor) Dim(i int) int {
	return t.Shape[i]
}

// Size returns the total element count.
func (t *Tensor) Size() int {
	return len(t.Data)
}

func (t *Tensor) offset(idx ...int) int {
	if len(idx) != len(t.Shape) {
		panic(fmt.Sprintf("tensor index rank %d, shape rank %d", len(idx), len(t.Shape)))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= t.Shape[i] {
			panic(fmt.Sprintf("tensor index %v out of shape %v", idx, t.Shape))
		}
		off = off*t.Shape[i] + x
	}
	return off
}

// At reads the element at the given multi-axis index.
func (t *Tensor) At(idx ...int) float32 {
	return t.Data[t.offset(idx...)]
}

// Set writes the element at the given multi-axis index.
func (t *Tensor) Set(v float32, idx ...int) {
	t.Data[t.offset(idx...)] = v
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// CropRows keeps the first n entries of axis 0.
func (t *Tensor) CropRows(n int) *Tensor {
	if n >= t.Shape[0] {
		return t
	}
	rowSize := t.Size() / t.Shape[0]
	shape := append([]int(nil), t.Shape...)
	shape[0] = n
	return &Tensor{Shape: shape, Data: t.Data[:n*rowSize]}
}

// PadRows grows axis 0 to n entries, filling new rows with fill.
func (t *Tensor) PadRows(n int, fill float32) *Tensor {
	if n <= t.Shape[0] {
		return t
	}
	rowSize := t.Size() / t.Shape[0]
	shape := append([]int(nil), t.Shape...)
	shape[0] = n
	data := make([]float32, n*rowSize)
	copy(data, t.Data)
	for i := t.Size(); i < len(data); i++ {
		data[i] = fill
	}
	return &Tensor{Shape: shape, Data: data}
}

// ConcatRows stacks tensors along axis 0. All non-leading dimensions must
// agree.
func ConcatRows(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("concat of zero tensors")
	}
	shape := append([]int(nil), ts[0].Shape...)
	rows := 0
	for _, t := range ts {
		if len(t.Shape) != len(shape) {
			return nil, fmt.Errorf("concat rank mismatch: %v vs %v", t.Shape, shape)
		}
		for i := 1; i < len(shape); i++ {
			if t.Shape[i] != shape[i] {
				return nil, fmt.Errorf("concat shape mismatch on axis %d: %v vs %v", i, t.Shape, shape)
			}
		}
		rows += t.Shape[0]
	}
	shape[0] = rows
	out := NewTensor(shape...)
	off := 0
	for _, t := range ts {
		copy(out.Data[off:], t.Data)
		off += t.Size()
	}
	return out, nil
}
