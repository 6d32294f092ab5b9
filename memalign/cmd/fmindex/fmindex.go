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

// Package fmindex implements an FM-index over a 2-bit encoded text,
// supporting bidirectional interval extension, super-maximal exact match
// search, and position lookup via a sampled suffix array.
//
// The text is expected to be a sequence concatenated with its reverse
// complement, which lets one index serve both strands: extending a
// bi-interval forward with base c equals extending it backward with 3-c
// on the other side.
package fmindex

import (
	"sort"

	"github.com/twotwotwo/sorts"
)

// occIntv is the spacing of occurrence checkpoints over the BWT.
const occIntv = 128

// FMIndex is the index.
//
// Rows are numbered over the BWT of text plus a terminal sentinel, so
// valid rows are [0, SeqLen] and row 0 is the sentinel suffix. The
// sentinel itself is not stored; Primary records the row where it sat.
type FMIndex struct {
	SeqLen  int64    // length of the indexed text
	Primary int64    // row of the removed sentinel character
	L2      [5]int64 // L2[c] = number of text symbols smaller than c
	SAIntv  int64    // sampling interval of SSA, a power of two

	B   []byte     // 2-bit packed BWT, sentinel row removed
	Occ [][4]int64 // occurrence counts in B[0 : i*occIntv) per symbol
	SSA []int64    // sampled suffix array, SSA[0] = -1
}

// BiInterval is a bidirectional BWT interval.
// X[0] is the row range start for the match, X[1] the range start of the
// reverse complement match, X[2] the interval size. Info packs the query
// coordinates of the match as qbeg<<32 | qend.
type BiInterval struct {
	X    [3]int64
	Info uint64
}

// QBeg returns the query start of the match.
func (iv BiInterval) QBeg() int { return int(iv.Info >> 32) }

// QEnd returns the query end of the match.
func (iv BiInterval) QEnd() int { return int(iv.Info & 0xffffffff) }

func setPacked(b []byte, pos int64, c byte) {
	b[pos>>2] |= c << ((^uint(pos) & 3) << 1)
}

func getPacked(b []byte, pos int64) byte {
	return b[pos>>2] >> ((^uint(pos) & 3) << 1) & 3
}

// suffixSorter sorts suffix indices by (rank[i], rank[i+k]) pairs.
type suffixSorter struct {
	sa  []int64
	key func(i int64) (int64, int64)
}

func (s *suffixSorter) Len() int { return len(s.sa) }
func (s *suffixSorter) Less(i, j int) bool {
	a1, a2 := s.key(s.sa[i])
	b1, b2 := s.key(s.sa[j])
	if a1 != b1 {
		return a1 < b1
	}
	return a2 < b2
}
func (s *suffixSorter) Swap(i, j int) { s.sa[i], s.sa[j] = s.sa[j], s.sa[i] }

var _ sort.Interface = (*suffixSorter)(nil)

// buildSuffixArray computes the suffix array of text plus a terminal
// sentinel smaller than every symbol, by prefix doubling. The sorting
// passes run in parallel on sorts.MaxProcs cores.
func buildSuffixArray(text []byte) []int64 {
	n := int64(len(text)) + 1
	sa := make([]int64, n)
	rank := make([]int64, n)
	tmp := make([]int64, n)
	for i := int64(0); i < n; i++ {
		sa[i] = i
	}
	for i := int64(0); i < n-1; i++ {
		rank[i] = int64(text[i]) + 1
	}
	rank[n-1] = 0 // sentinel

	for k := int64(1); ; k <<= 1 {
		key := func(i int64) (int64, int64) {
			second := int64(-1)
			if i+k < n {
				second = rank[i+k]
			}
			return rank[i], second
		}
		sorts.Quicksort(&suffixSorter{sa: sa, key: key})

		tmp[sa[0]] = 0
		for i := int64(1); i < n; i++ {
			tmp[sa[i]] = tmp[sa[i-1]]
			a1, a2 := key(sa[i-1])
			b1, b2 := key(sa[i])
			if a1 != b1 || a2 != b2 {
				tmp[sa[i]]++
			}
		}
		copy(rank, tmp)
		if rank[sa[n-1]] == n-1 {
			break
		}
	}
	return sa
}

// NewFMIndex builds the index from a 2-bit encoded text.
// saIntv is the suffix array sampling interval and must be a power of two.
func NewFMIndex(text []byte, saIntv int) *FMIndex {
	if saIntv <= 0 || saIntv&(saIntv-1) != 0 {
		panic("fmindex: sampling interval must be a positive power of two")
	}
	sa := buildSuffixArray(text)
	n := int64(len(text))

	idx := &FMIndex{
		SeqLen: n,
		SAIntv: int64(saIntv),
	}
	for _, c := range text {
		idx.L2[c+1]++
	}
	for c := 1; c < 5; c++ {
		idx.L2[c] += idx.L2[c-1]
	}

	// BWT with the sentinel row removed
	idx.B = make([]byte, (n+3)>>2)
	var j int64
	for r := int64(0); r <= n; r++ {
		if sa[r] == 0 {
			idx.Primary = r
			continue
		}
		setPacked(idx.B, j, text[sa[r]-1])
		j++
	}

	// occurrence checkpoints
	idx.Occ = make([][4]int64, n/occIntv+1)
	var cnt [4]int64
	for k := int64(0); k < n; k++ {
		if k%occIntv == 0 {
			idx.Occ[k/occIntv] = cnt
		}
		cnt[getPacked(idx.B, k)]++
	}

	// sampled suffix array
	idx.SSA = make([]int64, (n+idx.SAIntv)/idx.SAIntv)
	for r := int64(0); r <= n; r += idx.SAIntv {
		idx.SSA[r/idx.SAIntv] = sa[r]
	}
	idx.SSA[0] = -1 // row 0 is the sentinel suffix

	return idx
}

// occAux counts symbol c in the stored BWT B[0..k], k inclusive.
func (idx *FMIndex) occAux(k int64, c byte) int64 {
	cp := k >> 7 // k/occIntv
	n := idx.Occ[cp][c]
	for i := cp << 7; i <= k; i++ {
		if getPacked(idx.B, i) == c {
			n++
		}
	}
	return n
}

// OccCount returns the number of occurrences of c in the first k+1
// characters of the full BWT, the sentinel excluded.
func (idx *FMIndex) OccCount(k int64, c byte) int64 {
	if k == idx.SeqLen {
		return idx.L2[c+1] - idx.L2[c]
	}
	if k < 0 {
		return 0
	}
	if k >= idx.Primary {
		k--
	}
	return idx.occAux(k, c)
}

// OccCount4 is OccCount for all four symbols at once.
func (idx *FMIndex) OccCount4(k int64) [4]int64 {
	var cnt [4]int64
	if k == idx.SeqLen {
		for c := 0; c < 4; c++ {
			cnt[c] = idx.L2[c+1] - idx.L2[c]
		}
		return cnt
	}
	if k < 0 {
		return cnt
	}
	if k >= idx.Primary {
		k--
	}
	cp := k >> 7
	cnt = idx.Occ[cp]
	for i := cp << 7; i <= k; i++ {
		cnt[getPacked(idx.B, i)]++
	}
	return cnt
}

// SetIntv returns the bi-interval of the single symbol c.
func (idx *FMIndex) SetIntv(c byte) BiInterval {
	var iv BiInterval
	iv.X[0] = idx.L2[c] + 1
	iv.X[1] = idx.L2[3-c] + 1
	iv.X[2] = idx.L2[c+1] - idx.L2[c]
	return iv
}

// Extend extends a bi-interval by one symbol on one side, returning the
// resulting intervals for all four symbols. With isBack false the
// returned intervals correspond to prepending the complement symbol on
// the reverse side, which equals appending on the forward side.
func (idx *FMIndex) Extend(iv *BiInterval, isBack bool) [4]BiInterval {
	var ok [4]BiInterval
	f, b := 1, 0 // f is the side being rank-queried
	if isBack {
		f, b = 0, 1
	}
	tk := idx.OccCount4(iv.X[f] - 1)
	tl := idx.OccCount4(iv.X[f] - 1 + iv.X[2])
	for c := 0; c < 4; c++ {
		ok[c].X[f] = idx.L2[c] + 1 + tk[c]
		ok[c].X[2] = tl[c] - tk[c]
	}
	var sentinel int64
	if iv.X[f] <= idx.Primary && iv.X[f]+iv.X[2]-1 >= idx.Primary {
		sentinel = 1
	}
	ok[3].X[b] = iv.X[b] + sentinel
	ok[2].X[b] = ok[3].X[b] + ok[3].X[2]
	ok[1].X[b] = ok[2].X[b] + ok[2].X[2]
	ok[0].X[b] = ok[1].X[b] + ok[1].X[2]
	return ok
}

// bwtAt returns the stored BWT symbol for row k, after the sentinel
// adjustment has been applied by the caller.
func (idx *FMIndex) bwtAt(k int64) byte {
	return getPacked(idx.B, k)
}

// invPsi maps a row to the row of the suffix starting one text position
// earlier (the LF mapping).
func (idx *FMIndex) invPsi(k int64) int64 {
	if k == idx.Primary {
		return 0
	}
	x := k
	if k > idx.Primary {
		x--
	}
	c := idx.bwtAt(x)
	return idx.L2[c] + idx.OccCount(k, c)
}

// SA returns the text position of the suffix at row k, by walking the LF
// mapping to the nearest sampled row.
func (idx *FMIndex) SA(k int64) int64 {
	var sa int64
	mask := idx.SAIntv - 1
	for k&mask != 0 {
		sa++
		k = idx.invPsi(k)
	}
	return sa + idx.SSA[k/idx.SAIntv]
}
