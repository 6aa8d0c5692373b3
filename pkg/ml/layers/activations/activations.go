// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package activations implements several common activations on concrete tensors, and includes a generic Apply
// method to apply an activation by its type.
//
// There is also FromName to convert an activation name (string) to its type, as used in layer configurations.
package activations

import (
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Type is an enum for the supported activation functions.
//
// It is converted to snake-format strings (e.g.: TypeLeakyRelu -> "leaky_relu").
type Type int

const (
	TypeNone Type = iota
	TypeRelu
	TypeSigmoid
	TypeLeakyRelu
	TypeSelu
	TypeSwish
	TypeTanh
	TypeSoftmax
)

var typeNames = []string{"none", "relu", "sigmoid", "leaky_relu", "selu", "swish", "tanh", "softmax"}

// String implements fmt.Stringer.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// TypeValues returns all the activation types.
func TypeValues() []Type {
	values := make([]Type, len(typeNames))
	for ii := range values {
		values[ii] = Type(ii)
	}
	return values
}

// TypeString converts the name of an activation to its type.
// "linear" (the Keras name) is accepted as an alias to TypeNone, and "silu" to TypeSwish.
func TypeString(name string) (Type, error) {
	name = strings.ToLower(name)
	switch name {
	case "linear":
		return TypeNone, nil
	case "silu":
		return TypeSwish, nil
	}
	for ii, typeName := range typeNames {
		if typeName == name {
			return Type(ii), nil
		}
	}
	return TypeNone, errors.Errorf("%q is not a valid activation name", name)
}

// FromName converts the name of an activation to its type.
// It panics with a helpful message if name is invalid.
//
// And empty string is converted to TypeNone.
func FromName(activationName string) Type {
	if activationName == "" {
		return TypeNone
	}
	activation, err := TypeString(activationName)
	if err != nil {
		exceptions.Panicf("invalid activation name %q: options are %v", activationName, TypeValues())
	}
	return activation
}

// Apply the given activation type to x, returning a new tensor.
// The TypeNone activation is a no-op, and returns x itself.
func Apply(activation Type, x *tensors.Tensor) *tensors.Tensor {
	switch activation {
	case TypeNone:
		return x
	case TypeRelu:
		return Relu(x)
	case TypeLeakyRelu:
		return LeakyRelu(x)
	case TypeSigmoid:
		return Sigmoid(x)
	case TypeTanh:
		return Tanh(x)
	case TypeSwish:
		return Swish(x)
	case TypeSelu:
		return Selu(x)
	case TypeSoftmax:
		return Softmax(x)
	default:
		exceptions.Panicf("Apply got invalid activation value %d: options are %v", int(activation), TypeValues())
	}
	return nil
}

// mapValues returns a new tensor with fn applied to each element of x.
func mapValues(x *tensors.Tensor, fn func(v float64) float64) *tensors.Tensor {
	values := tensors.ToFloat64s(x)
	for ii, v := range values {
		values[ii] = fn(v)
	}
	y, err := tensors.FromFloat64s(x.Shape(), values)
	if err != nil {
		panic(errors.WithMessagef(err, "activation on %s", x.Shape()))
	}
	return y
}

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

// Relu activation function. It returns Max(x, 0), and is commonly used as an activation function in neural networks.
func Relu(x *tensors.Tensor) *tensors.Tensor {
	return mapValues(x, func(v float64) float64 { return max(v, 0) })
}

// LeakyRelu activation function. It allows a small gradient when the unit is not active (x < 0).
// The `alpha` parameter is fixed at 0.3.
func LeakyRelu(x *tensors.Tensor) *tensors.Tensor {
	return LeakyReluWithAlpha(x, 0.3)
}

// LeakyReluWithAlpha activation function.
//
// It returns `x if x >= 0; alpha*x if x < 0`.
func LeakyReluWithAlpha(x *tensors.Tensor, alpha float64) *tensors.Tensor {
	return mapValues(x, func(v float64) float64 {
		if v >= 0 {
			return v
		}
		return alpha * v
	})
}

// Sigmoid returns `1/(1+exp(-x))`.
func Sigmoid(x *tensors.Tensor) *tensors.Tensor {
	return mapValues(x, sigmoid)
}

// Tanh returns the hyperbolic tangent of x.
func Tanh(x *tensors.Tensor) *tensors.Tensor {
	return mapValues(x, math.Tanh)
}

// Swish activation (or SiLU) returns `x * Sigmoid(x)`.
// Here the beta parameter is fixed at 1.0.
func Swish(x *tensors.Tensor) *tensors.Tensor {
	return mapValues(x, func(v float64) float64 { return v * sigmoid(v) })
}

const (
	seluAlpha = 1.67326324
	seluScale = 1.05070098
)

// Selu stands for Scaled Exponential Linear Unit (SELU) activation function.
// It returns `scale*x if x > 0; scale*alpha*(exp(x)-1) if x <= 0`.
func Selu(x *tensors.Tensor) *tensors.Tensor {
	return mapValues(x, func(v float64) float64 {
		if v > 0 {
			return seluScale * v
		}
		return seluScale * seluAlpha * (math.Exp(v) - 1)
	})
}

// Softmax over the last axis of x.
// A scalar is treated as a single element, and results in 1.
func Softmax(x *tensors.Tensor) *tensors.Tensor {
	values := tensors.ToFloat64s(x)
	width := 1
	if x.Rank() > 0 {
		width = x.Shape().Dimensions[x.Rank()-1]
	}
	if width > 0 {
		for start := 0; start < len(values); start += width {
			row := values[start : start+width]
			maxValue := math.Inf(-1)
			for _, v := range row {
				maxValue = max(maxValue, v)
			}
			var sum float64
			for ii, v := range row {
				row[ii] = math.Exp(v - maxValue)
				sum += row[ii]
			}
			for ii := range row {
				row[ii] /= sum
			}
		}
	}
	y, err := tensors.FromFloat64s(x.Shape(), values)
	if err != nil {
		panic(errors.WithMessagef(err, "softmax on %s", x.Shape()))
	}
	return y
}
