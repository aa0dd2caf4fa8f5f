// Package mat implements the small dense-matrix algebra used by the state
// estimator. Matrices are immutable: every operation allocates and returns a
// new matrix, so estimator state can never be corrupted by aliasing.
package mat

import (
	"errors"
	"fmt"
	"math"
)

// PivotEpsilon is the minimum pivot magnitude accepted during Gauss-Jordan
// elimination. A pivot below this threshold means the matrix is singular for
// our purposes.
const PivotEpsilon = 1e-10

// ErrSingular is returned by Inverse when no usable pivot can be found.
// Callers must treat this as a numerical failure, never as a valid result.
var ErrSingular = errors.New("mat: singular matrix")

// Matrix is a dense row-major matrix of float64 values.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// Zeros returns an r x c matrix of zeros.
func Zeros(r, c int) Matrix {
	return Matrix{Rows: r, Cols: c, Data: make([]float64, r*c)}
}

// Identity returns the n x n identity matrix.
func Identity(n int) Matrix {
	m := Zeros(n, n)
	for i := 0; i < n; i++ {
		m.Data[i*n+i] = 1
	}
	return m
}

// ColumnVector returns an n x 1 matrix holding the given values.
func ColumnVector(values ...float64) Matrix {
	m := Zeros(len(values), 1)
	copy(m.Data, values)
	return m
}

// Diagonal returns a square matrix with the given values on its diagonal.
func Diagonal(values ...float64) Matrix {
	n := len(values)
	m := Zeros(n, n)
	for i, v := range values {
		m.Data[i*n+i] = v
	}
	return m
}

// At returns the element at row i, column j.
func (m Matrix) At(i, j int) float64 {
	return m.Data[i*m.Cols+j]
}

// Set assigns the element at row i, column j.
func (m Matrix) Set(i, j int, v float64) {
	m.Data[i*m.Cols+j] = v
}

// Clone returns a deep copy of m.
func (m Matrix) Clone() Matrix {
	out := Matrix{Rows: m.Rows, Cols: m.Cols, Data: make([]float64, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// Mul returns the matrix product a*b. The inner dimensions must agree.
func Mul(a, b Matrix) (Matrix, error) {
	if a.Cols != b.Rows {
		return Matrix{}, fmt.Errorf("mat: cannot multiply %dx%d by %dx%d", a.Rows, a.Cols, b.Rows, b.Cols)
	}
	out := Zeros(a.Rows, b.Cols)
	for i := 0; i < a.Rows; i++ {
		for k := 0; k < a.Cols; k++ {
			aik := a.Data[i*a.Cols+k]
			if aik == 0 {
				continue
			}
			for j := 0; j < b.Cols; j++ {
				out.Data[i*b.Cols+j] += aik * b.Data[k*b.Cols+j]
			}
		}
	}
	return out, nil
}

// Add returns a+b. Shapes must match.
func Add(a, b Matrix) (Matrix, error) {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		return Matrix{}, fmt.Errorf("mat: cannot add %dx%d and %dx%d", a.Rows, a.Cols, b.Rows, b.Cols)
	}
	out := a.Clone()
	for i := range out.Data {
		out.Data[i] += b.Data[i]
	}
	return out, nil
}

// Sub returns a-b. Shapes must match.
func Sub(a, b Matrix) (Matrix, error) {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		return Matrix{}, fmt.Errorf("mat: cannot subtract %dx%d from %dx%d", b.Rows, b.Cols, a.Rows, a.Cols)
	}
	out := a.Clone()
	for i := range out.Data {
		out.Data[i] -= b.Data[i]
	}
	return out, nil
}

// Transpose returns the transpose of m.
func Transpose(m Matrix) Matrix {
	out := Zeros(m.Cols, m.Rows)
	for i := 0; i < m.Rows; i++ {
		for j := 0; j < m.Cols; j++ {
			out.Data[j*m.Rows+i] = m.Data[i*m.Cols+j]
		}
	}
	return out
}

// Scale returns m multiplied elementwise by s.
func Scale(m Matrix, s float64) Matrix {
	out := m.Clone()
	for i := range out.Data {
		out.Data[i] *= s
	}
	return out
}

// Inverse returns the inverse of a square matrix via Gauss-Jordan elimination
// with partial pivoting on the largest absolute value in each column. It
// returns ErrSingular when a pivot magnitude falls below PivotEpsilon.
func Inverse(m Matrix) (Matrix, error) {
	if m.Rows != m.Cols {
		return Matrix{}, fmt.Errorf("mat: cannot invert non-square %dx%d matrix", m.Rows, m.Cols)
	}
	n := m.Rows

	// Augment [m | I] and reduce in place.
	a := m.Clone()
	inv := Identity(n)

	for col := 0; col < n; col++ {
		// Pick the row at or below col with the largest pivot magnitude.
		pivotRow := col
		pivotAbs := math.Abs(a.At(col, col))
		for r := col + 1; r < n; r++ {
			if abs := math.Abs(a.At(r, col)); abs > pivotAbs {
				pivotAbs = abs
				pivotRow = r
			}
		}
		if pivotAbs < PivotEpsilon {
			return Matrix{}, ErrSingular
		}
		if pivotRow != col {
			swapRows(a, col, pivotRow)
			swapRows(inv, col, pivotRow)
		}

		// Normalise the pivot row.
		pivot := a.At(col, col)
		for j := 0; j < n; j++ {
			a.Set(col, j, a.At(col, j)/pivot)
			inv.Set(col, j, inv.At(col, j)/pivot)
		}

		// Eliminate the column from every other row.
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := a.At(r, col)
			if factor == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				a.Set(r, j, a.At(r, j)-factor*a.At(col, j))
				inv.Set(r, j, inv.At(r, j)-factor*inv.At(col, j))
			}
		}
	}

	return inv, nil
}

func swapRows(m Matrix, r1, r2 int) {
	for j := 0; j < m.Cols; j++ {
		m.Data[r1*m.Cols+j], m.Data[r2*m.Cols+j] = m.Data[r2*m.Cols+j], m.Data[r1*m.Cols+j]
	}
}

// EqualWithin reports whether a and b have the same shape and all elements
// differ by less than tol.
func EqualWithin(a, b Matrix, tol float64) bool {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		return false
	}
	for i := range a.Data {
		if math.Abs(a.Data[i]-b.Data[i]) >= tol {
			return false
		}
	}
	return true
}
