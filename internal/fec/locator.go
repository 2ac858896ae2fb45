package fec

// The error locator and error evaluator polynomials are manipulated in
// ascending-degree order (index i holds the coefficient of x^i), which is
// the natural order for Berlekamp-Massey and the Forney algorithm; the
// codeword itself is kept in descending order (index 0 is the
// highest-degree term) to match systematic encoding in rs.go.

func ascEval(p []byte, x byte) byte {
	y := byte(0)
	xi := byte(1)
	for _, c := range p {
		y ^= gfMul(c, xi)
		xi = gfMul(xi, x)
	}
	return y
}

func ascMul(a, b []byte) []byte {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	out := make([]byte, len(a)+len(b)-1)
	for i, ac := range a {
		if ac == 0 {
			continue
		}
		for j, bc := range b {
			out[i+j] ^= gfMul(ac, bc)
		}
	}
	return out
}

func ascAdd(a, b []byte) []byte {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]byte, n)
	copy(out, a)
	for i, bc := range b {
		out[i] ^= bc
	}
	return out
}

// ascDerivative computes the formal derivative of p in GF(2^8): the
// coefficient of x^(i-1) in p' is p[i] when i is odd, 0 when i is even
// (integer multiplication collapses to parity in characteristic 2).
func ascDerivative(p []byte) []byte {
	if len(p) <= 1 {
		return []byte{0}
	}
	out := make([]byte, len(p)-1)
	for i := 1; i < len(p); i++ {
		if i%2 == 1 {
			out[i-1] = p[i]
		}
	}
	return out
}

// berlekampMassey finds the shortest-degree error locator polynomial
// (ascending order, sigma[0] == 1) consistent with the syndrome sequence.
func berlekampMassey(synd []byte) []byte {
	C := []byte{1} // current locator candidate
	B := []byte{1} // locator candidate at the last length change
	L := 0
	m := 1
	b := byte(1)

	for i := 0; i < len(synd); i++ {
		delta := synd[i]
		for j := 1; j <= L && j < len(C); j++ {
			delta ^= gfMul(C[j], synd[i-j])
		}
		if delta == 0 {
			m++
			continue
		}

		coef := gfDiv(delta, b)
		shifted := make([]byte, len(B)+m)
		for idx, bc := range B {
			shifted[idx+m] = gfMul(coef, bc)
		}
		newC := ascAdd(C, shifted)

		if 2*L <= i {
			T := append([]byte(nil), C...)
			C = newC
			L = i + 1 - L
			B = T
			b = delta
			m = 1
		} else {
			C = newC
			m++
		}
	}
	return trimTrailingZeros(C)
}

// trimTrailingZeros drops high-degree zero coefficients, but always keeps
// at least the constant term.
func trimTrailingZeros(p []byte) []byte {
	end := len(p)
	for end > 1 && p[end-1] == 0 {
		end--
	}
	return p[:end]
}

// chienSearch finds the roots of sigma among alpha^0..alpha^(n-1) and
// returns, for each root found, the array index into an n-byte codeword
// (descending-degree order) it corresponds to, together with the error
// location value X_l = alpha^j for that root.
func chienSearch(sigma []byte, n int) (positions []int, locations []byte) {
	for j := 0; j < n; j++ {
		x := gfInverse(gfPow(2, j))
		if ascEval(sigma, x) == 0 {
			idx := n - 1 - j
			if idx < 0 || idx >= n {
				continue
			}
			positions = append(positions, idx)
			locations = append(locations, gfPow(2, j))
		}
	}
	return positions, locations
}

// errorEvaluator computes Omega(x) = [S(x) * sigma(x)] mod x^eccLen, where
// S(x) is the syndrome polynomial S_0 + S_1 x + ... (ascending order).
func errorEvaluator(synd, sigma []byte, eccLen int) []byte {
	product := ascMul(synd, sigma)
	if len(product) > eccLen {
		product = product[:eccLen]
	}
	return product
}
