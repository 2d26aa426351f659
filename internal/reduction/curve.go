package reduction

import "math"

// FitAB fits a and b of the low-dimensional similarity 1/(1 + a*d^(2b)) to
// the target curve implied by spread and minDist, using Levenberg-Marquardt
// least squares over 300 samples on [0, 3*spread].
func FitAB(spread, minDist float64) (a, b float64) {
	const samples = 300
	xs := make([]float64, samples)
	ys := make([]float64, samples)
	for i := range xs {
		x := 3 * spread * float64(i) / float64(samples-1)
		xs[i] = x
		if x < minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist) / spread)
		}
	}

	residual := func(a, b float64) float64 {
		var sum float64
		for i, x := range xs {
			r := 1/(1+a*math.Pow(x, 2*b)) - ys[i]
			sum += r * r
		}
		return sum
	}

	a, b = 1, 1
	lambda := 1e-3
	cost := residual(a, b)
	for iter := 0; iter < 500; iter++ {
		// normal equations for the 2x2 Jacobian system
		var jaa, jab, jbb, ga, gb float64
		for i, x := range xs {
			if x == 0 {
				continue
			}
			u := math.Pow(x, 2*b)
			denom := 1 + a*u
			f := 1 / denom
			r := f - ys[i]
			da := -u / (denom * denom)
			db := -a * u * 2 * math.Log(x) / (denom * denom)
			jaa += da * da
			jab += da * db
			jbb += db * db
			ga += da * r
			gb += db * r
		}

		m11, m22 := jaa*(1+lambda), jbb*(1+lambda)
		det := m11*m22 - jab*jab
		if det == 0 {
			break
		}
		stepA := (-ga*m22 + gb*jab) / det
		stepB := (-gb*m11 + ga*jab) / det

		nextA, nextB := a+stepA, b+stepB
		if nextA <= 0 || nextB <= 0 {
			lambda *= 10
			continue
		}
		next := residual(nextA, nextB)
		if next < cost {
			converged := cost-next < 1e-14
			a, b, cost = nextA, nextB, next
			lambda /= 10
			if converged {
				break
			}
		} else {
			lambda *= 10
			if lambda > 1e12 {
				break
			}
		}
	}
	return a, b
}
