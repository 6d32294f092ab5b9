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
	"testing"

	"github.com/rdleal/intervalst/interval"
)

func TestChainTestAndMerge(t *testing.T) {
	opt := DefaultMemOptions()

	c := &memChain{pos: 1000, seeds: []memSeed{{rbeg: 1000, qbeg: 0, len: 20}}}

	// contained seed: accepted without growing the chain
	if !c.testAndMerge(opt, &memSeed{rbeg: 1005, qbeg: 5, len: 10}) {
		t.Error("contained seed should be accepted")
	}
	if len(c.seeds) != 1 {
		t.Errorf("contained seed should not be appended, got %d seeds", len(c.seeds))
	}

	// colinear seed within the band and gap limits
	if !c.testAndMerge(opt, &memSeed{rbeg: 1030, qbeg: 28, len: 20}) {
		t.Error("colinear seed should be merged")
	}
	if len(c.seeds) != 2 {
		t.Fatalf("got %d seeds, want 2", len(c.seeds))
	}

	// a seed left of the chain on the reference starts a new chain
	if c.testAndMerge(opt, &memSeed{rbeg: 900, qbeg: 60, len: 20}) {
		t.Error("seed moving backwards on the reference should be rejected")
	}

	// diagonal drift beyond the band width
	far := &memSeed{rbeg: 1050 + int64(opt.BandWidth) + 200, qbeg: 60, len: 20}
	if c.testAndMerge(opt, far) {
		t.Error("seed outside the band should be rejected")
	}

	// gap larger than the chain gap limit
	c2 := &memChain{pos: 0, seeds: []memSeed{{rbeg: 0, qbeg: 0, len: 20}}}
	g := opt.MaxChainGap + 30
	if c2.testAndMerge(opt, &memSeed{rbeg: g, qbeg: int(g), len: 20}) {
		t.Error("seed beyond the gap limit should be rejected")
	}
}

func TestChainPredecessor(t *testing.T) {
	opt := DefaultMemOptions()

	tree := interval.NewSearchTree[*memChain, int64](func(x, y int64) int {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	})
	for _, pos := range []int64{10000, 45000, 49000, 60000} {
		_ = tree.Insert(pos, pos+1, &memChain{pos: pos})
	}

	// with a 100 bp query the reachable window left of 50000 starts at
	// 50000 - MaxChainGap - 200 - BandWidth = 39700: the greatest anchor
	// inside it wins, the one at 60000 is right of the seed
	pred := chainPredecessor(tree, opt, 100, 50000)
	if pred == nil || pred.pos != 49000 {
		t.Fatalf("got predecessor %v, want anchor 49000", pred)
	}

	// an anchor equal to the seed position is not right of it
	_ = tree.Insert(50000, 50001, &memChain{pos: 50000})
	pred = chainPredecessor(tree, opt, 100, 50000)
	if pred == nil || pred.pos != 50000 {
		t.Fatalf("got predecessor %v, want anchor 50000", pred)
	}

	// every anchor out of reach or right of the seed
	if pred = chainPredecessor(tree, opt, 100, 5000); pred != nil {
		t.Fatalf("got predecessor %v, want none", pred)
	}
}

func TestChainWeight(t *testing.T) {
	// disjoint seeds on both axes
	c := &memChain{seeds: []memSeed{
		{rbeg: 100, qbeg: 0, len: 10},
		{rbeg: 120, qbeg: 20, len: 10},
	}}
	if w := chainWeight(c); w != 20 {
		t.Errorf("disjoint seeds: got weight %d, want 20", w)
	}

	// overlap on the query axis only
	c = &memChain{seeds: []memSeed{
		{rbeg: 100, qbeg: 0, len: 10},
		{rbeg: 115, qbeg: 5, len: 10},
	}}
	if w := chainWeight(c); w != 15 {
		t.Errorf("query overlap: got weight %d, want 15", w)
	}
}

// The reference-axis loop advances its running end with the query
// coordinate, so a reference overlap between seeds far apart on the
// query is not subtracted. This matches the original behavior and is
// pinned here on purpose.
func TestChainWeightReferenceEndQuirk(t *testing.T) {
	c := &memChain{seeds: []memSeed{
		{rbeg: 100, qbeg: 0, len: 10},
		{rbeg: 105, qbeg: 20, len: 10}, // overlaps seed 1 by 5 on the reference
	}}
	// a straight reading of "reference coverage" would give min(20, 15) = 15
	if w := chainWeight(c); w != 20 {
		t.Errorf("got weight %d, want 20", w)
	}
}

func TestMemChainFilter(t *testing.T) {
	opt := DefaultMemOptions()

	mk := func(rbeg int64, qbeg, slen int) *memChain {
		return &memChain{pos: rbeg, seeds: []memSeed{{rbeg: rbeg, qbeg: qbeg, len: slen}}}
	}

	a := mk(1000, 0, 50) // weight 50
	b := mk(3000, 0, 12) // shadowed by a, but kept as its first runner-up
	c := mk(5000, 2, 10) // shadowed by a, dropped
	d := mk(7000, 60, 30) // no significant overlap with a, kept

	out := memChainFilter(opt, []*memChain{c, a, d, b})
	if len(out) != 3 {
		t.Fatalf("got %d chains, want 3", len(out))
	}
	// weight-sorted order
	if out[0] != a || out[1] != d || out[2] != b {
		t.Errorf("unexpected chain order: %v %v %v", out[0].pos, out[1].pos, out[2].pos)
	}

	// a single chain passes through untouched
	one := []*memChain{a}
	if got := memChainFilter(opt, one); len(got) != 1 || got[0] != a {
		t.Error("single chain should be returned as is")
	}
}
