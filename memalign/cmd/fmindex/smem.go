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

package fmindex

func reverseIntvs(a []BiInterval) {
	for i, j := 0, len(a)-1; i < j; i, j = i+1, j-1 {
		a[i], a[j] = a[j], a[i]
	}
}

// SMEM1 collects all super-maximal exact matches covering query position x.
// The query is 2-bit encoded with values >3 for ambiguous bases; q[x] must
// be unambiguous. Matches are appended to mem, sorted by query start, and
// only intervals of size >= minIntv are extended. maxLen, when positive,
// caps the forward extension length. The returned position is the query
// end of the longest match through x, where the next scan should resume.
func (idx *FMIndex) SMEM1(q []byte, x int, minIntv int64, maxLen int, mem []BiInterval, buf *smemBuf) (int, []BiInterval) {
	if minIntv < 1 {
		minIntv = 1
	}
	prev, curr := buf.prev[:0], buf.curr[:0]

	ik := idx.SetIntv(q[x])
	ik.Info = uint64(x + 1)

	// forward extension
	i := x + 1
	for ; i < len(q); i++ {
		if maxLen > 0 && i-x == maxLen {
			curr = append(curr, ik)
			break
		}
		if q[i] > 3 {
			curr = append(curr, ik)
			break
		}
		c := 3 - q[i]
		ok := idx.Extend(&ik, false)
		if ok[c].X[2] != ik.X[2] {
			curr = append(curr, ik)
			if ok[c].X[2] < minIntv {
				break
			}
		}
		ik = ok[c]
		ik.Info = uint64(i + 1)
	}
	if i == len(q) {
		curr = append(curr, ik)
	}
	reverseIntvs(curr) // longest match first
	ret := int(curr[0].Info & 0xffffffff)
	prev, curr = curr, prev

	// backward collection of SMEMs
	for i = x - 1; i >= -1; i-- {
		c := int64(-1)
		if i >= 0 && q[i] < 4 {
			c = int64(q[i])
		}
		curr = curr[:0]
		for j := range prev {
			p := &prev[j]
			var ok [4]BiInterval
			if c >= 0 && p.X[2] >= minIntv {
				ok = idx.Extend(p, true)
			}
			if c < 0 || p.X[2] < minIntv || ok[c].X[2] < minIntv {
				// an earlier entry in curr means a longer match
				// continues past i, so p is contained
				if len(curr) == 0 {
					if len(mem) == 0 || i+1 < int(mem[len(mem)-1].Info>>32) {
						kept := *p
						kept.Info |= uint64(i+1) << 32
						mem = append(mem, kept)
					}
				}
			} else if len(curr) == 0 || ok[c].X[2] != curr[len(curr)-1].X[2] {
				ok[c].Info = p.Info
				curr = append(curr, ok[c])
			}
		}
		if len(curr) == 0 {
			break
		}
		prev, curr = curr, prev
	}
	reverseIntvs(mem) // sort by query start

	buf.prev, buf.curr = prev[:0], curr[:0]
	return ret, mem
}

type smemBuf struct {
	prev, curr []BiInterval
}

// SMEMIterator walks a query left to right, returning the SMEMs covering
// each scan position lazily. The cursor jumps to the end of the longest
// match found, so each call returns a distinct batch.
type SMEMIterator struct {
	idx     *FMIndex
	query   []byte
	start   int
	matches []BiInterval
	buf     smemBuf
}

// NewSMEMIterator creates an iterator over a 2-bit encoded query.
func NewSMEMIterator(idx *FMIndex, query []byte) *SMEMIterator {
	return &SMEMIterator{
		idx:     idx,
		query:   query,
		matches: make([]BiInterval, 0, 32),
	}
}

// Reset reuses the iterator for another query.
func (it *SMEMIterator) Reset(query []byte) {
	it.query = query
	it.start = 0
}

// Next returns the next batch of matches, or nil after the query is
// exhausted. A non-nil batch may be empty. Ambiguous bases are skipped.
func (it *SMEMIterator) Next(minIntv int64, maxLen int) []BiInterval {
	if it.start >= len(it.query) || it.start < 0 {
		return nil
	}
	for it.start < len(it.query) && it.query[it.start] > 3 {
		it.start++
	}
	if it.start == len(it.query) {
		return nil
	}
	it.matches = it.matches[:0]
	it.start, it.matches = it.idx.SMEM1(it.query, it.start, minIntv, maxLen, it.matches, &it.buf)
	return it.matches
}
