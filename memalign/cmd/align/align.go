// Copyright © 2024-2025 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package align provides banded affine-gap alignment kernels over 2-bit
// encoded sequences.
//
// A gap of length g costs gapO + (g-1)*gapE, so the opening penalty
// already covers the first gapped base. Substitution scores come from a
// flat 5x5 matrix indexed as mat[target*5+query], with code 4 reserved
// for ambiguous bases.
package align

// CIGAR operation codes, packed into uint32 entries as length<<4 | op.
const (
	CigarM = iota
	CigarI
	CigarD
	CigarS
	CigarH
)

// CigarOpChars maps operation codes to their SAM characters.
const CigarOpChars = "MIDSH"

// FillScoreMatrix builds the 5x5 substitution matrix from a match score
// and a mismatch penalty, with zeros in the ambiguous row and column.
func FillScoreMatrix(a, b int8) []int8 {
	mat := make([]int8, 25)
	k := 0
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i == j {
				mat[k] = a
			} else {
				mat[k] = -b
			}
			k++
		}
		mat[k] = 0 // ambiguous base
		k++
	}
	return mat
}

type extCell struct {
	h, e int
}

// Extend performs a banded affine-gap extension of an alignment that
// already scores h0 at the origin, aligning query against target until
// the score drops to zero. It returns the best score and the number of
// query and target bases consumed to reach it; qle and tle are 0 when no
// extension improves on h0.
func Extend(query, target []byte, mat []int8, gapO, gapE, w, h0 int) (score, qle, tle int) {
	qlen, tlen := len(query), len(target)
	if qlen == 0 || tlen == 0 || h0 <= 0 {
		return h0, 0, 0
	}

	eh := make([]extCell, qlen+1)
	eh[0].h = h0
	if v := h0 - gapO; v > 0 {
		eh[1].h = v
	}
	for j := 2; j <= qlen; j++ {
		v := eh[j-1].h - gapE
		if v <= 0 {
			break
		}
		eh[j].h = v
	}

	max, maxI, maxJ := h0, -1, -1
	beg, end := 0, qlen
	for i := 0; i < tlen; i++ {
		if beg < i-w {
			beg = i - w
		}
		if end > i+w+1 {
			end = i + w + 1
		}
		if end > qlen {
			end = qlen
		}
		if beg >= end {
			break
		}

		var f int
		var h1 int
		if beg == 0 {
			h1 = h0 - gapO - i*gapE
			if h1 < 0 {
				h1 = 0
			}
		}
		m, mj := 0, -1
		row := mat[int(target[i])*5:]
		for j := beg; j < end; j++ {
			// eh[j] holds H(i,j) and E(i+1,j); f is F(i+1,j), h1 is H(i+1,j)
			p := &eh[j]
			diag, e := p.h, p.e
			p.h = h1
			if diag > 0 {
				diag += int(row[query[j]])
			} else {
				diag = 0
			}
			h := diag
			if h < e {
				h = e
			}
			if h < f {
				h = f
			}
			h1 = h
			if m < h {
				m, mj = h, j
			}
			// gaps only open from the substitution path, which
			// forbids an insertion directly following a deletion
			t := diag - gapO
			if t < 0 {
				t = 0
			}
			e -= gapE
			if e < t {
				e = t
			}
			p.e = e
			f -= gapE
			if f < t {
				f = t
			}
		}
		if end < qlen+1 {
			eh[end].h, eh[end].e = h1, 0
		}

		if m == 0 {
			break
		}
		if m > max {
			max, maxI, maxJ = m, i, mj
		}

		// shrink the window to the cells that can still contribute
		j := beg
		for j < end && eh[j].h == 0 && eh[j].e == 0 {
			j++
		}
		beg = j
		j = end
		for j >= beg && eh[j].h == 0 && eh[j].e == 0 {
			j--
		}
		if j+2 < qlen {
			end = j + 2
		} else {
			end = qlen
		}
	}

	return max, maxJ + 1, maxI + 1
}

const negInf = -(1 << 29)

// Global performs banded global alignment and returns the score with the
// CIGAR. The band is widened to the length difference when necessary so
// the end cell stays reachable.
func Global(query, target []byte, mat []int8, gapO, gapE, w int) (int, []uint32) {
	qlen, tlen := len(query), len(target)
	if qlen == 0 && tlen == 0 {
		return 0, nil
	}
	if qlen == 0 {
		return -(gapO + (tlen-1)*gapE), []uint32{uint32(tlen)<<4 | CigarD}
	}
	if tlen == 0 {
		return -(gapO + (qlen-1)*gapE), []uint32{uint32(qlen)<<4 | CigarI}
	}
	if d := qlen - tlen; d > w || -d > w {
		if d < 0 {
			d = -d
		}
		w = d
	}

	// z records traceback choices: bits 0-1 select the state that
	// produced H (0 diagonal, 1 deletion, 2 insertion), bit 2 marks a
	// deletion extension, bit 3 an insertion extension.
	z := make([]byte, tlen*qlen)
	h := make([]int, qlen+1) // H of the previous row
	eRow := make([]int, qlen+1)

	h[0] = 0
	eRow[0] = negInf
	for j := 1; j <= qlen; j++ {
		if j > w {
			h[j] = negInf
		} else {
			h[j] = -(gapO + (j-1)*gapE)
		}
		eRow[j] = negInf
	}

	for i := 1; i <= tlen; i++ {
		beg, end := i-w, i+w
		if beg < 1 {
			beg = 1
		}
		if end > qlen {
			end = qlen
		}

		hDiag := h[beg-1] // H(i-1, j-1)
		if beg == 1 {
			h[0] = -(gapO + (i-1)*gapE)
		} else {
			h[beg-1] = negInf
		}
		f := negInf
		row := mat[int(target[i-1])*5:]
		for j := beg; j <= end; j++ {
			var zb byte

			e := eRow[j] - gapE
			if t := h[j] - gapO; t >= e {
				e = t
			} else {
				zb |= 4
			}
			eRow[j] = e

			f2 := f - gapE
			if t := h[j-1] - gapO; t >= f2 {
				f2 = t
			} else {
				zb |= 8
			}
			f = f2

			best := hDiag + int(row[query[j-1]])
			if e > best {
				best = e
				zb |= 1
			}
			if f > best {
				best = f
				zb = zb&^3 | 2
			}
			hDiag = h[j]
			h[j] = best
			z[(i-1)*qlen+j-1] = zb
		}
		if end < qlen {
			h[end+1] = negInf
			eRow[end+1] = negInf
		}
	}

	score := h[qlen]

	// traceback
	ops := make([]uint32, 0, 8)
	push := func(op uint32, n uint32) {
		if len(ops) > 0 && ops[len(ops)-1]&0xf == op {
			ops[len(ops)-1] += n << 4
		} else {
			ops = append(ops, n<<4|op)
		}
	}
	i, j, state := tlen, qlen, 0
	for i > 0 && j > 0 {
		zb := z[(i-1)*qlen+j-1]
		switch state {
		case 0:
			switch zb & 3 {
			case 0:
				push(CigarM, 1)
				i--
				j--
			case 1:
				state = 1
			default:
				state = 2
			}
		case 1:
			push(CigarD, 1)
			if zb&4 == 0 {
				state = 0
			}
			i--
		default:
			push(CigarI, 1)
			if zb&8 == 0 {
				state = 0
			}
			j--
		}
	}
	if i > 0 {
		push(CigarD, uint32(i))
	}
	if j > 0 {
		push(CigarI, uint32(j))
	}
	for a, b := 0, len(ops)-1; a < b; a, b = a+1, b-1 {
		ops[a], ops[b] = ops[b], ops[a]
	}
	return score, ops
}
