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
	"fmt"
	"sort"
	"strings"

	"github.com/rdleal/intervalst/interval"
	"github.com/shenwei356/memalign/memalign/cmd/fmindex"
	"github.com/shenwei356/memalign/memalign/cmd/refseq"
)

// memSeed is an exact match between the query and one concrete position
// of the forward-reverse reference.
type memSeed struct {
	rbeg int64
	qbeg int
	len  int
}

// memChain is a colinear group of seeds, anchored at the first seed's
// reference position. Seeds are appended in query order.
type memChain struct {
	pos   int64
	seeds []memSeed
}

// testAndMerge tries to add a seed to the chain. It reports true when
// the seed is contained in the chain's bounding box or was appended, and
// false when the caller should start a new chain.
func (c *memChain) testAndMerge(opt *MemOptions, s *memSeed) bool {
	first := &c.seeds[0]
	last := &c.seeds[len(c.seeds)-1]
	qend := last.qbeg + last.len
	rend := last.rbeg + int64(last.len)
	if s.qbeg >= first.qbeg && s.qbeg+s.len <= qend &&
		s.rbeg >= first.rbeg && s.rbeg+int64(s.len) <= rend {
		return true // contained seed, do nothing
	}
	x := int64(s.qbeg - last.qbeg) // non-negative, seeds arrive in query order
	y := s.rbeg - last.rbeg
	w := int64(opt.BandWidth)
	if y >= 0 && x-y <= w && y-x <= w &&
		x-int64(last.len) < opt.MaxChainGap && y-int64(last.len) < opt.MaxChainGap {
		c.seeds = append(c.seeds, *s)
		return true
	}
	return false
}

// chainPredecessor finds the chain with the greatest anchor not right
// of rbeg. A chain anchored left of the merge-reachable window can
// never accept the seed (its last seed lies within the query span plus
// the band of its anchor, and the gap limit caps the remaining
// distance), so only anchors inside that window are inspected.
func chainPredecessor(tree *interval.SearchTree[*memChain, int64], opt *MemOptions, lQuery int, rbeg int64) *memChain {
	lo := rbeg - int64(opt.MaxChainGap) - int64(2*lQuery) - int64(opt.BandWidth)
	var pred *memChain
	if hits, ok := tree.AllIntersections(lo, rbeg+1); ok {
		for _, c := range hits {
			if c.pos <= rbeg && (pred == nil || c.pos > pred.pos) {
				pred = c
			}
		}
	}
	return pred
}

// memChaining collects SMEM seeds of a query and groups them into
// chains. An interval tree keyed by the chain anchor provides the
// predecessor lookup: the chain with the greatest anchor not right of
// the seed. Chains are returned sorted by anchor position.
func memChaining(opt *MemOptions, idx *fmindex.FMIndex, query []byte) []*memChain {
	if len(query) < opt.MinSeedLen {
		return nil
	}

	tree := interval.NewSearchTree[*memChain, int64](func(x, y int64) int {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	})
	chains := make([]*memChain, 0, 16)

	it := fmindex.NewSMEMIterator(idx, query)
	for {
		batch := it.Next(opt.MinIntv, opt.MaxSeedLen)
		if batch == nil {
			break
		}
		for i := range batch {
			p := &batch[i]
			slen := p.QEnd() - p.QBeg()
			if slen < opt.MinSeedLen || p.X[2] > opt.MaxOcc {
				continue // too short or too repetitive
			}
			for k := int64(0); k < p.X[2]; k++ {
				s := memSeed{
					rbeg: idx.SA(p.X[0] + k),
					qbeg: p.QBeg(),
					len:  slen,
				}

				pred := chainPredecessor(tree, opt, len(query), s.rbeg)
				if pred == nil || !pred.testAndMerge(opt, &s) {
					c := &memChain{pos: s.rbeg, seeds: make([]memSeed, 1, 4)}
					c.seeds[0] = s
					// equal anchors collapse to the newest chain in the
					// tree; an older one still reaches the output, it
					// just stops attracting seeds
					_ = tree.Insert(s.rbeg, s.rbeg+1, c)
					chains = append(chains, c)
				}
			}
		}
	}

	sort.SliceStable(chains, func(i, j int) bool { return chains[i].pos < chains[j].pos })
	return chains
}

// chainWeight is min(query coverage, reference coverage) of the seed
// union. In the reference-axis loop the running end is updated with the
// query coordinate; this mirrors the reference implementation and is
// covered by a regression test.
func chainWeight(c *memChain) int {
	var w int
	var end int
	for i := range c.seeds {
		s := &c.seeds[i]
		switch {
		case s.qbeg >= end:
			w += s.len
		case s.qbeg+s.len > end:
			w += s.qbeg + s.len - end
		}
		if s.qbeg+s.len > end {
			end = s.qbeg + s.len
		}
	}
	tmp := w

	var end2 int64
	for i := range c.seeds {
		s := &c.seeds[i]
		switch {
		case s.rbeg >= end2:
			w += s.len
		case s.rbeg+int64(s.len) > end2:
			w += int(s.rbeg + int64(s.len) - end2)
		}
		if int64(s.qbeg+s.len) > end2 {
			end2 = int64(s.qbeg + s.len)
		}
	}
	if w-tmp < tmp {
		return w - tmp
	}
	return tmp
}

type fltAux struct {
	beg, end int
	w        int
	idx      int // position in the weight-sorted chain order
	p2       int // first significantly overlapping worse candidate
}

// memChainFilter drops chains dominated by heavier ones with a
// significant query overlap. Surviving chains come out in weight order.
// The first dominated candidate of each kept chain is kept as well, for
// suboptimal-score tracking downstream.
func memChainFilter(opt *MemOptions, chains []*memChain) []*memChain {
	if len(chains) <= 1 {
		return chains
	}

	aux := make([]fltAux, len(chains))
	for i, c := range chains {
		last := &c.seeds[len(c.seeds)-1]
		aux[i] = fltAux{
			beg: c.seeds[0].qbeg,
			end: last.qbeg + last.len,
			w:   chainWeight(c),
			idx: i,
			p2:  -1,
		}
	}
	sort.SliceStable(aux, func(i, j int) bool { return aux[i].w > aux[j].w })
	sorted := make([]*memChain, len(chains))
	for i := range aux {
		sorted[i] = chains[aux[i].idx]
	}

	accepted := make([]int, 0, len(aux))
	accepted = append(accepted, 0)
	for i := 1; i < len(aux); i++ {
		dropped := false
		for _, j := range accepted {
			bMax := aux[j].beg
			if aux[i].beg > bMax {
				bMax = aux[i].beg
			}
			eMin := aux[j].end
			if aux[i].end < eMin {
				eMin = aux[i].end
			}
			if eMin <= bMax {
				continue
			}
			minL := aux[i].end - aux[i].beg
			if l := aux[j].end - aux[j].beg; l < minL {
				minL = l
			}
			if float64(eMin-bMax) >= float64(minL)*opt.MaskLevel { // significant overlap
				if aux[j].p2 < 0 {
					aux[j].p2 = i
				}
				if float64(aux[i].w) < float64(aux[j].w)*opt.ChainDropRatio &&
					aux[j].w-aux[i].w >= opt.MinSeedLen<<1 {
					dropped = true
					break
				}
			}
		}
		if !dropped {
			accepted = append(accepted, i)
		}
	}

	keep := make([]bool, len(aux))
	for _, i := range accepted {
		keep[i] = true
		if aux[i].p2 >= 0 {
			keep[aux[i].p2] = true
		}
	}
	out := make([]*memChain, 0, len(accepted))
	for i, c := range sorted {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out
}

// memPrintChain dumps chains to the log, one line per chain.
func memPrintChain(ref *refseq.RefSeq, chains []*memChain) {
	for _, c := range chains {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d", len(c.seeds))
		for i := range c.seeds {
			s := &c.seeds[i]
			pos, isRev := ref.DePos(s.rbeg)
			strand := byte('+')
			if isRev {
				pos -= int64(s.len) - 1
				strand = '-'
			}
			rid := ref.PosToRid(pos)
			if rid < 0 {
				fmt.Fprintf(&sb, "\t%d,%d,%d(?)", s.len, s.qbeg, s.rbeg)
				continue
			}
			fmt.Fprintf(&sb, "\t%d,%d,%d(%s:%c%d)",
				s.len, s.qbeg, s.rbeg, ref.Anns[rid].Name, strand, pos-ref.Anns[rid].Offset+1)
		}
		log.Debug(sb.String())
	}
}
