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
	"math"
	"sort"
)

const memMapQCoef = 30.0

// memSortAndDedup sorts regions by score and removes exact duplicates
// produced by overlapping chains. Duplicates are first degenerated to
// empty query intervals, then compacted away.
func memSortAndDedup(regs []memAlnReg) []memAlnReg {
	if len(regs) == 0 {
		return regs
	}
	sort.SliceStable(regs, func(i, j int) bool {
		a, b := &regs[i], &regs[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.rb != b.rb {
			return a.rb < b.rb
		}
		return a.qb < b.qb
	})
	for i := 1; i < len(regs); i++ {
		p, q := &regs[i-1], &regs[i]
		if q.score == p.score && q.rb == p.rb && q.qb == p.qb {
			q.qe = q.qb
		}
	}
	out := regs[:0]
	for i := range regs {
		if regs[i].qe > regs[i].qb {
			out = append(out, regs[i])
		}
	}
	return out
}

// memMarkPrimary marks regions shadowed on the query by a better-scoring
// one as secondary, recording the best shadowed score and the count of
// near-optimal competitors on the primary. Regions must already be
// sorted by descending score.
func memMarkPrimary(opt *MemOptions, regs []memAlnReg) {
	if len(regs) == 0 {
		return
	}
	for i := range regs {
		regs[i].sub = 0
		regs[i].secondary = -1
	}

	tmp := opt.MatchScore + opt.MismatchPenalty
	if t := opt.GapOpenPenalty + opt.GapExtPenalty; t > tmp {
		tmp = t
	}

	z := make([]int, 1, len(regs))
	z[0] = 0
	for i := 1; i < len(regs); i++ {
		shadowed := false
		for _, j := range z {
			bMax := regs[j].qb
			if regs[i].qb > bMax {
				bMax = regs[i].qb
			}
			eMin := regs[j].qe
			if regs[i].qe < eMin {
				eMin = regs[i].qe
			}
			if eMin <= bMax {
				continue
			}
			minL := regs[i].qe - regs[i].qb
			if l := regs[j].qe - regs[j].qb; l < minL {
				minL = l
			}
			if float64(eMin-bMax) >= float64(minL)*opt.MaskLevel {
				if regs[j].sub == 0 {
					regs[j].sub = regs[i].score
				}
				if regs[j].score-regs[i].score <= tmp {
					regs[j].subN++
				}
				regs[i].secondary = j
				shadowed = true
				break
			}
		}
		if !shadowed {
			z = append(z, i)
		}
	}
}

// memApproxMapQ estimates the mapping quality of a region from its score
// margin over the runner-up, its seed coverage and its identity.
func memApproxMapQ(opt *MemOptions, a *memAlnReg) int {
	sub := a.sub
	if sub == 0 {
		sub = opt.MinSeedLen * opt.MatchScore
	}
	if a.csub > sub {
		sub = a.csub
	}
	if sub >= a.score {
		return 0
	}
	l := a.qe - a.qb
	if rl := int(a.re - a.rb); rl > l {
		l = rl
	}
	mapq := int(memMapQCoef*(1.-float64(sub)/float64(a.score))*math.Log(float64(a.seedcov)) + .499)
	identity := 1. - float64(l*opt.MatchScore-a.score)/float64(opt.MatchScore+opt.MismatchPenalty)/float64(l)
	if a.score == 0 {
		mapq = 0
	} else if identity < 0.95 {
		mapq = int(float64(mapq)*identity*identity + .499)
	}
	if a.subN > 0 {
		mapq -= int(4.343*math.Log(float64(a.subN)) + .499)
	}
	if mapq > 60 {
		mapq = 60
	}
	if mapq < 0 {
		mapq = 0
	}
	return mapq
}
