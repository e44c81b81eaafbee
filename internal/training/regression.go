package training

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// LinearRegression is an ordinary least squares fit y = a + b·x.
type LinearRegression struct {
	intercept    float64
	coefficients []float64
}

func NewLinearRegression(xs [][]float64, ys []float64) (*LinearRegression, error) {
	if len(xs) == 0 || len(xs) != len(ys) {
		return nil, fmt.Errorf("need matching non-empty samples, got %d rows and %d labels", len(xs), len(ys))
	}

	features := len(xs[0])
	if len(xs) < features+1 {
		return nil, fmt.Errorf("need at least %d samples for %d features, got %d", features+1, features, len(xs))
	}

	// constant term in column 0
	X := mat.NewDense(len(xs), features+1, nil)
	for i, row := range xs {
		X.Set(i, 0, 1)
		for j, x := range row {
			X.Set(i, j+1, x)
		}
	}
	Y := mat.NewVecDense(len(ys), ys)

	var coef mat.VecDense
	if err := coef.SolveVec(X, Y); err != nil {
		return nil, fmt.Errorf("error solving the linear system: %w", err)
	}

	lr := &LinearRegression{
		intercept:    coef.AtVec(0),
		coefficients: make([]float64, features),
	}
	for j := range lr.coefficients {
		lr.coefficients[j] = coef.AtVec(j + 1)
	}

	return lr, nil
}

func (lr *LinearRegression) Intercept() float64 {
	return lr.intercept
}

func (lr *LinearRegression) Coefficients() []float64 {
	return append([]float64(nil), lr.coefficients...)
}

func (lr *LinearRegression) PredictY(x []float64) float64 {
	y := lr.intercept
	for j, c := range lr.coefficients {
		y += c * x[j]
	}
	return y
}

func (lr *LinearRegression) PrintFunction() string {
	var b strings.Builder
	fmt.Fprintf(&b, "f(x) = %.2f", lr.intercept)
	for j, c := range lr.coefficients {
		fmt.Fprintf(&b, " + %.2f * x%d", c, j)
	}
	return b.String()
}
