// Package fixedpoint provides the checked 256-bit integer arithmetic used by the
// exchange engine. Every helper returns fresh values and never mutates its inputs.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow     = errors.New("fixedpoint: arithmetic overflow")
	ErrUnderflow    = errors.New("fixedpoint: arithmetic underflow")
	ErrDivideByZero = errors.New("fixedpoint: division by zero")
)

var three = uint256.NewInt(3)

// Zero returns a new zero value
func Zero() *uint256.Int { return new(uint256.Int) }

// Clone copies x, treating nil as zero
func Clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

// IsZero reports whether x is nil or zero
func IsZero(x *uint256.Int) bool {
	return x == nil || x.IsZero()
}

// Sqrt returns floor(sqrt(y)) using the Babylonian method
func Sqrt(y *uint256.Int) *uint256.Int {
	if y.Gt(three) {
		z := new(uint256.Int).Set(y)
		x := new(uint256.Int).Rsh(y, 1)
		x.AddUint64(x, 1)
		for x.Lt(z) {
			z.Set(x)
			q := new(uint256.Int).Div(y, x)
			x.Add(q, x)
			x.Rsh(x, 1)
		}
		return z
	}
	if !y.IsZero() {
		return uint256.NewInt(1)
	}
	return new(uint256.Int)
}

func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Div is floor division
func Div(x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return nil, ErrDivideByZero
	}
	return new(uint256.Int).Div(x, y), nil
}

// MulDiv returns floor(x*y/d). The product must fit in 256 bits.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	p, err := Mul(x, y)
	if err != nil {
		return nil, err
	}
	return Div(p, d)
}

// Min returns a copy of the smaller operand
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return Clone(x)
	}
	return Clone(y)
}
