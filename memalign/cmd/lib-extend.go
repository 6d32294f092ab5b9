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

package cmd

import (
	"github.com/shenwei356/memalign/memalign/cmd/align"
	"github.com/shenwei356/memalign/memalign/cmd/refseq"
)

// memAlnReg is one candidate alignment region derived from a chain.
type memAlnReg struct {
	rb, re int64 // reference interval in forward-reverse coordinates
	qb, qe int   // query interval

	score     int
	sub       int // score of the best dominated region
	csub      int // suboptimal score inherited from chaining
	subN      int
	secondary int // index of the dominating region, or -1
	seedcov   int
}

// calMaxGap bounds the gap length an extension over qlen query bases can
// open while keeping a positive score.
func calMaxGap(opt *MemOptions, qlen int) int64 {
	l := int64(float64(qlen*opt.MatchScore-opt.GapOpenPenalty)/float64(opt.GapExtPenalty) + 1.)
	if l > 1 {
		return l
	}
	return 1
}

// memChainToAln extends the seeds of one chain into alignment regions,
// appending them to regs. The reference window covering every possible
// extension is fetched once; a truncated fetch (contig boundary, strand
// boundary) aborts the whole chain.
func memChainToAln(opt *MemOptions, ref *refseq.RefSeq, query []byte, c *memChain, regs []memAlnReg) []memAlnReg {
	lQuery := len(query)

	rmax0, rmax1 := ref.LPac<<1, int64(0)
	for i := range c.seeds {
		t := &c.seeds[i]
		b := t.rbeg - (int64(t.qbeg) + calMaxGap(opt, t.qbeg))
		e := t.rbeg + int64(t.len) +
			int64(lQuery-t.qbeg-t.len) + calMaxGap(opt, lQuery-t.qbeg-t.len)
		if b < rmax0 {
			rmax0 = b
		}
		if e > rmax1 {
			rmax1 = e
		}
	}
	rseq := ref.GetSeq(rmax0, rmax1)
	if int64(len(rseq)) != rmax1-rmax0 {
		return regs
	}

	for k := 0; k < len(c.seeds); {
		s := &c.seeds[k]
		var a memAlnReg
		a.secondary = -1

		if s.qbeg > 0 { // left extension, over reversed prefixes
			qs := make([]byte, s.qbeg)
			for i := range qs {
				qs[i] = query[s.qbeg-1-i]
			}
			tmp := s.rbeg - rmax0
			rs := make([]byte, tmp)
			for i := range rs {
				rs[i] = rseq[tmp-1-int64(i)]
			}
			score, qle, tle := align.Extend(qs, rs, opt.Mat,
				opt.GapOpenPenalty, opt.GapExtPenalty, opt.BandWidth, s.len*opt.MatchScore)
			a.score = score
			a.qb = s.qbeg - qle
			a.rb = s.rbeg - int64(tle)
		} else {
			a.score = s.len * opt.MatchScore
			a.qb = 0
			a.rb = s.rbeg
		}

		if s.qbeg+s.len != lQuery { // right extension
			qe := s.qbeg + s.len
			re := s.rbeg + int64(s.len) - rmax0
			score, qle, tle := align.Extend(query[qe:], rseq[re:], opt.Mat,
				opt.GapOpenPenalty, opt.GapExtPenalty, opt.BandWidth, a.score)
			a.score = score
			a.qe = qe + qle
			a.re = rmax0 + re + int64(tle)
		} else {
			a.qe = lQuery
			a.re = s.rbeg + int64(s.len)
		}
		if opt.Debug {
			log.Debugf("[%d] score=%d\t[%d,%d) <=> [%d,%d)", k, a.score, a.qb, a.qe, a.rb, a.re)
		}

		for i := range c.seeds {
			t := &c.seeds[i]
			if t.qbeg >= a.qb && t.qbeg+t.len <= a.qe &&
				t.rbeg >= a.rb && t.rbeg+int64(t.len) <= a.re {
				// a rough coverage is good enough for approximate MAPQ
				a.seedcov += t.len
			}
		}
		regs = append(regs, a)

		// jump over seeds that overlap the previous seed and sit
		// inside the region just produced
		i := k + 1
		for ; i < len(c.seeds); i++ {
			t := &c.seeds[i]
			prev := &c.seeds[i-1]
			if prev.rbeg+int64(prev.len) >= t.rbeg+7 || prev.qbeg+prev.len >= t.qbeg+7 {
				break
			}
			if t.rbeg+int64(t.len) > a.re || t.qbeg+t.len > a.qe {
				break
			}
		}
		k = i
	}
	return regs
}
