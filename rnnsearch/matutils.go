// Copyright 2024 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rnnsearch

import (
	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
)

// This file contains small helpers for row-batched operations that the
// underlying matrix operators do not express directly, such as bias
// broadcasting and row-wise softmax. Each row of a batched matrix
// corresponds to one live hypothesis.

func numRows(x mat.Tensor) int {
	return x.Value().(mat.Matrix).Shape()[0]
}

func numCols(x mat.Tensor) int {
	return x.Value().(mat.Matrix).Shape()[1]
}

// onesCol returns a column vector of n ones.
func onesCol(n int) mat.Tensor {
	backing := make([]float32, n)
	for i := range backing {
		backing[i] = 1
	}
	return mat.NewDense[float32](mat.WithShape(n, 1), mat.WithBacking(backing))
}

// tileRows replicates a 1xD row vector over n rows.
func tileRows(row mat.Tensor, n int) mat.Tensor {
	return ag.Mul(onesCol(n), row)
}

// meanRows returns the 1xD mean of the rows of an LxD matrix.
func meanRows(x mat.Tensor) mat.Tensor {
	l := numRows(x)
	backing := make([]float32, l)
	for i := range backing {
		backing[i] = 1 / float32(l)
	}
	w := mat.NewDense[float32](mat.WithShape(1, l), mat.WithBacking(backing))
	return ag.Mul(w, x)
}

// rowSoftmax applies a softmax independently to each row.
func rowSoftmax(x mat.Tensor) mat.Tensor {
	n := numRows(x)
	rows := make([]mat.Tensor, n)
	for i := 0; i < n; i++ {
		rows[i] = ag.Softmax(ag.RowView(x, i))
	}
	return ag.Stack(rows...)
}

// affineRows computes x*w + b for a batch of rows, broadcasting the
// 1xD bias over every row.
func affineRows(x, w, b mat.Tensor) mat.Tensor {
	return ag.Add(ag.Mul(x, w), tileRows(b, numRows(x)))
}
