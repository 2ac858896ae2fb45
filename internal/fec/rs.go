package fec

import "errors"

// ErrUncorrectable is returned by RSDecode when the block carries more
// symbol errors than its parity can correct.
var ErrUncorrectable = errors.New("fec: too many errors to correct")

// generatorPoly returns the degree-eccLen RS generator polynomial with
// consecutive roots alpha^0..alpha^(eccLen-1), coefficients highest-degree
// first.
func generatorPoly(eccLen int) []byte {
	g := []byte{1}
	for i := 0; i < eccLen; i++ {
		g = polyMul(g, []byte{1, gfPow(2, i)})
	}
	return g
}

// RSEncode appends eccLen Reed-Solomon parity bytes to data, returning the
// systematic codeword data||parity. eccLen must be even; RSDecode can
// correct up to eccLen/2 symbol errors.
func RSEncode(data []byte, eccLen int) []byte {
	gen := generatorPoly(eccLen)
	remainder := make([]byte, len(data)+eccLen)
	copy(remainder, data)

	for i := 0; i < len(data); i++ {
		coef := remainder[i]
		if coef == 0 {
			continue
		}
		for j, gc := range gen {
			remainder[i+j] ^= gfMul(gc, coef)
		}
	}

	out := make([]byte, len(data)+eccLen)
	copy(out, data)
	copy(out[len(data):], remainder[len(data):])
	return out
}

// RSDecode corrects and strips the eccLen parity bytes from block, which
// must have been produced by RSEncode with the same eccLen. It returns
// ErrUncorrectable if block carries more errors than eccLen/2 symbols.
func RSDecode(block []byte, eccLen int) ([]byte, error) {
	n := len(block)
	k := n - eccLen
	if k <= 0 || eccLen <= 0 {
		return nil, errors.New("fec: invalid block/ecc length")
	}

	synd := syndromes(block, eccLen)
	if allZero(synd) {
		return append([]byte(nil), block[:k]...), nil
	}

	sigma := berlekampMassey(synd)
	numErrors := len(sigma) - 1
	if numErrors <= 0 || numErrors > eccLen/2 {
		return nil, ErrUncorrectable
	}

	positions, locations := chienSearch(sigma, n)
	if len(positions) != numErrors {
		return nil, ErrUncorrectable
	}

	omega := errorEvaluator(synd, sigma, eccLen)
	sigmaPrime := ascDerivative(sigma)

	corrected := append([]byte(nil), block...)
	for i, idx := range positions {
		Xl := locations[i]
		XlInv := gfInverse(Xl)
		num := ascEval(omega, XlInv)
		den := ascEval(sigmaPrime, XlInv)
		if den == 0 {
			return nil, ErrUncorrectable
		}
		magnitude := gfMul(Xl, gfDiv(num, den))
		corrected[idx] ^= magnitude
	}

	if !allZero(syndromes(corrected, eccLen)) {
		return nil, ErrUncorrectable
	}
	return corrected[:k], nil
}

// syndromes computes S_i = block(alpha^i) for i = 0..eccLen-1, treating
// block as a polynomial with block[0] the highest-degree coefficient.
func syndromes(block []byte, eccLen int) []byte {
	out := make([]byte, eccLen)
	for i := 0; i < eccLen; i++ {
		out[i] = polyEval(block, gfPow(2, i))
	}
	return out
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
