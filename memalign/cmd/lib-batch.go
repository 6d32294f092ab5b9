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
	"sync"

	"github.com/shenwei356/memalign/memalign/cmd/fmindex"
	"github.com/shenwei356/memalign/memalign/cmd/refseq"
)

// SeqRead is one read of a batch. The seq field holds ASCII bases on
// input; findAlnReg recodes it to 2-bit codes in place, and the SAM
// text lands in sam.
type SeqRead struct {
	name    string
	comment string
	seq     []byte
	qual    []byte
	sam     string

	// filled in by samSE for the best primary record, for summaries
	mapped bool
	score  int
	mapq   int
}

// PEStatFunc estimates insert-size statistics from the region vectors
// of a whole batch, between the two passes of paired-end processing.
type PEStatFunc func(opt *MemOptions, lPac int64, regs [][]memAlnReg)

// findAlnReg runs seeding, chaining, filtering and extension for one
// read and returns its deduplicated region vector.
func findAlnReg(opt *MemOptions, idx *fmindex.FMIndex, ref *refseq.RefSeq, s *SeqRead) []memAlnReg {
	for i, c := range s.seq {
		s.seq[i] = refseq.Base2Int[c]
	}
	chains := memChaining(opt, idx, s.seq)
	chains = memChainFilter(opt, chains)
	if opt.Debug {
		memPrintChain(ref, chains)
	}
	var regs []memAlnReg
	for _, c := range chains {
		regs = memChainToAln(opt, ref, s.seq, c, regs)
	}
	return memSortAndDedup(regs)
}

// memProcessSeqs aligns a batch of reads and fills in their SAM text.
// Pass 1 computes the region vectors in parallel, pass 2 renders the
// records; the barrier between them lets pestat see the whole batch in
// paired-end mode. Work is partitioned round-robin, so pair members
// (2i, 2i+1) always share a goroutine in pass 2.
func memProcessSeqs(opt *MemOptions, idx *fmindex.FMIndex, ref *refseq.RefSeq, seqs []*SeqRead, pestat PEStatFunc) {
	n := len(seqs)
	nThreads := opt.NumThreads
	if nThreads < 1 {
		nThreads = 1
	}
	regs := make([][]memAlnReg, n)

	var wg sync.WaitGroup
	for k := 0; k < nThreads; k++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			for i := start; i < n; i += nThreads {
				regs[i] = findAlnReg(opt, idx, ref, seqs[i])
			}
		}(k)
	}
	wg.Wait()

	if opt.Flag&MemFPE > 0 && pestat != nil {
		pestat(opt, ref.LPac, regs)
	}

	for k := 0; k < nThreads; k++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			if opt.Flag&MemFPE == 0 {
				for i := start; i < n; i += nThreads {
					memMarkPrimary(opt, regs[i])
					samSE(opt, ref, seqs[i], regs[i], 0, nil)
					regs[i] = nil
				}
			} else {
				for i := start; i < n>>1; i += nThreads {
					memSamPE(opt, ref, seqs[i<<1:i<<1+2], regs[i<<1:i<<1+2])
					regs[i<<1], regs[i<<1|1] = nil, nil
				}
			}
		}(k)
	}
	wg.Wait()
}

// mateHit reduces a region vector to the hit a mate record refers to:
// the best region, or an unmapped placeholder.
func mateHit(regs []memAlnReg) *memHit {
	h := &memHit{rb: -1, re: -1}
	for k := range regs {
		if regs[k].secondary < 0 {
			alnregToHit(&regs[k], h)
			break
		}
	}
	return h
}

// memSamPE renders a read pair. Each mate is aligned independently and
// emitted with the other one's coordinate in the mate fields; the
// mate-SW rescue of unpaired reads is left to downstream tools.
func memSamPE(opt *MemOptions, ref *refseq.RefSeq, s []*SeqRead, regs [][]memAlnReg) {
	memMarkPrimary(opt, regs[0])
	memMarkPrimary(opt, regs[1])
	m0 := mateHit(regs[0])
	m1 := mateHit(regs[1])
	samSE(opt, ref, s[0], regs[0], 0, m1)
	samSE(opt, ref, s[1], regs[1], 0, m0)
}
