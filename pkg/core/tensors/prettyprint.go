// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/x448/float16"
)

// summaryEdgeItems is the number of items printed at the start and at the end of long axes.
const summaryEdgeItems = 3

// Summary returns a multi-line summary of the Tensor's content.
// Inspired by numpy output: axes longer than 6 are abbreviated with an ellipsis, and floating point
// values are printed with the given precision.
func (t *Tensor) Summary(precision int) string {
	if t.IsFinalized() {
		return fmt.Sprintf("Tensor%s(finalized)", t.shape)
	}

	// Easy string building.
	var buf bytes.Buffer
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }
	w("%s", t.shape)
	if t.Size() == 0 {
		return buf.String()
	}

	dims := t.shape.Dimensions
	axesStrides := strides(dims)
	t.ConstFlatData(func(flat any) {
		values := reflect.ValueOf(flat)
		wValue := func(index int) {
			v := values.Index(index)
			switch {
			case v.Type() == float16Type:
				w("%.*g", precision, v.Interface().(float16.Float16).Float32())
			case v.CanInt():
				w("%d", v.Int())
			case v.CanUint():
				w("%d", v.Uint())
			default:
				w("%.*g", precision, v.Float())
			}
		}
		if len(dims) == 0 {
			w("(")
			wValue(0)
			w(")")
			return
		}
		if len(dims) == 1 {
			w(" ")
		} else {
			w("\n")
		}

		var printAxis func(offset, axis int)
		printAxis = func(offset, axis int) {
			dim, stride := dims[axis], axesStrides[axis]
			isInnermost := axis == len(dims)-1
			separator := ", "
			if !isInnermost {
				separator = ",\n" + strings.Repeat(" ", axis+1)
			}
			w("{")
			for ii := 0; ii < dim; ii++ {
				if dim > 2*summaryEdgeItems && ii == summaryEdgeItems {
					w("%s...", separator)
					ii = dim - summaryEdgeItems
				}
				if ii > 0 {
					w("%s", separator)
				}
				if isInnermost {
					wValue(offset + ii)
				} else {
					printAxis(offset+ii*stride, axis+1)
				}
			}
			w("}")
		}
		printAxis(0, 0)
	})
	return buf.String()
}
