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

import (
	"bytes"
	"path/filepath"
	"sort"
	"testing"
)

// testText returns a deterministic pseudo-random 2-bit text of the given
// length, concatenated with its reverse complement as in real usage.
func testText(n int) []byte {
	s := make([]byte, n)
	state := uint64(11)
	for i := range s {
		state = state*6364136223846793005 + 1442695040888963407
		s[i] = byte(state >> 33 & 3)
	}
	text := make([]byte, 2*n)
	copy(text, s)
	for i := 0; i < n; i++ {
		text[2*n-1-i] = 3 - s[i]
	}
	return text
}

func naiveSuffixArray(text []byte) []int64 {
	n := len(text)
	sa := make([]int64, n+1)
	for i := range sa {
		sa[i] = int64(i)
	}
	// the implicit sentinel is smaller than every symbol, so plain
	// byte comparison of the suffixes gives the right order
	sort.Slice(sa, func(i, j int) bool {
		return bytes.Compare(text[sa[i]:], text[sa[j]:]) < 0
	})
	return sa
}

func naiveOccurrences(text, pat []byte) []int64 {
	var poss []int64
	for i := 0; i+len(pat) <= len(text); i++ {
		if bytes.Equal(text[i:i+len(pat)], pat) {
			poss = append(poss, int64(i))
		}
	}
	return poss
}

// backwardSearch returns the bi-interval of a pattern, or a zero-size one.
func backwardSearch(idx *FMIndex, pat []byte) BiInterval {
	iv := idx.SetIntv(pat[len(pat)-1])
	for i := len(pat) - 2; i >= 0 && iv.X[2] > 0; i-- {
		ok := idx.Extend(&iv, true)
		iv = ok[pat[i]]
	}
	return iv
}

func TestSuffixArrayConstruction(t *testing.T) {
	text := testText(100)
	want := naiveSuffixArray(text)
	got := buildSuffixArray(text)
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sa[%d]: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestOccCount(t *testing.T) {
	text := testText(150)
	idx := NewFMIndex(text, 32)
	sa := naiveSuffixArray(text)

	// the full BWT with the sentinel marked as 255
	n := int64(len(text))
	bwt := make([]byte, n+1)
	for r := int64(0); r <= n; r++ {
		if sa[r] == 0 {
			bwt[r] = 255
			if idx.Primary != r {
				t.Fatalf("Primary: got %d, want %d", idx.Primary, r)
			}
			continue
		}
		bwt[r] = text[sa[r]-1]
	}

	for _, k := range []int64{-1, 0, 1, 5, idx.Primary - 1, idx.Primary, idx.Primary + 1, n - 1, n} {
		for c := byte(0); c < 4; c++ {
			// count of c in BWT rows 0..k, the sentinel never matching
			var want int64
			for r := int64(0); r <= k; r++ {
				if bwt[r] == c {
					want++
				}
			}
			if got := idx.OccCount(k, c); got != want {
				t.Errorf("OccCount(%d, %d): got %d, want %d", k, c, got, want)
			}
		}
	}
}

func TestSALookup(t *testing.T) {
	text := testText(120)
	idx := NewFMIndex(text, 8)
	sa := naiveSuffixArray(text)

	for r := int64(1); r <= idx.SeqLen; r++ {
		if got := idx.SA(r); got != sa[r] {
			t.Fatalf("SA(%d): got %d, want %d", r, got, sa[r])
		}
	}
}

func TestBackwardSearchLocate(t *testing.T) {
	text := testText(100)
	idx := NewFMIndex(text, 16)

	// every 4-mer over the alphabet
	pat := make([]byte, 4)
	for code := 0; code < 256; code++ {
		pat[0] = byte(code & 3)
		pat[1] = byte(code >> 2 & 3)
		pat[2] = byte(code >> 4 & 3)
		pat[3] = byte(code >> 6 & 3)
		want := naiveOccurrences(text, pat)

		iv := backwardSearch(idx, pat)
		if iv.X[2] != int64(len(want)) {
			t.Fatalf("pattern %v: got %d occurrences, want %d", pat, iv.X[2], len(want))
		}
		got := make([]int64, 0, iv.X[2])
		for r := iv.X[0]; r < iv.X[0]+iv.X[2]; r++ {
			got = append(got, idx.SA(r))
		}
		sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("pattern %v: positions got %v, want %v", pat, got, want)
			}
		}
	}
}

func TestSMEMFullQueryMatch(t *testing.T) {
	text := testText(100)
	idx := NewFMIndex(text, 16)

	query := make([]byte, 40)
	copy(query, text[5:45])

	it := NewSMEMIterator(idx, query)
	batch := it.Next(1, 0)
	if batch == nil {
		t.Fatal("expected a batch")
	}
	if len(batch) != 1 {
		t.Fatalf("expected a single match, got %d", len(batch))
	}
	m := batch[0]
	if m.QBeg() != 0 || m.QEnd() != len(query) {
		t.Fatalf("match span: got [%d, %d), want [0, %d)", m.QBeg(), m.QEnd(), len(query))
	}
	want := naiveOccurrences(text, query)
	if m.X[2] != int64(len(want)) {
		t.Fatalf("occurrences: got %d, want %d", m.X[2], len(want))
	}

	if it.Next(1, 0) != nil {
		t.Fatal("iterator should be exhausted after a full-length match")
	}
}

func TestSMEMMaxLenCap(t *testing.T) {
	text := testText(100)
	idx := NewFMIndex(text, 16)

	query := make([]byte, 40)
	copy(query, text[5:45])

	it := NewSMEMIterator(idx, query)
	batch := it.Next(1, 16)
	if batch == nil {
		t.Fatal("expected a batch")
	}
	for _, m := range batch {
		if m.QEnd()-m.QBeg() > 16 {
			t.Fatalf("match longer than the cap: [%d, %d)", m.QBeg(), m.QEnd())
		}
	}
	if it.start != 16 {
		t.Fatalf("cursor: got %d, want 16", it.start)
	}
}

func TestSMEMSkipsAmbiguousBases(t *testing.T) {
	text := testText(100)
	idx := NewFMIndex(text, 16)

	query := make([]byte, 0, 41)
	query = append(query, text[5:25]...)
	query = append(query, 4) // an N
	query = append(query, text[30:50]...)

	it := NewSMEMIterator(idx, query)
	batch1 := it.Next(1, 0)
	if batch1 == nil {
		t.Fatal("expected a first batch")
	}
	for _, m := range batch1 {
		if m.QEnd() > 20 {
			t.Fatalf("match crosses the ambiguous base: [%d, %d)", m.QBeg(), m.QEnd())
		}
	}
	batch2 := it.Next(1, 0)
	if batch2 == nil {
		t.Fatal("expected a second batch after the ambiguous base")
	}
	for _, m := range batch2 {
		if m.QBeg() < 21 {
			t.Fatalf("match crosses the ambiguous base: [%d, %d)", m.QBeg(), m.QEnd())
		}
	}
	if it.Next(1, 0) != nil {
		t.Fatal("iterator should be exhausted")
	}
}

func TestSerialization(t *testing.T) {
	text := testText(80)
	idx := NewFMIndex(text, 32)

	file := filepath.Join(t.TempDir(), "fmd.bin")
	if err := idx.WriteToFile(file); err != nil {
		t.Fatal(err)
	}
	idx2, err := ReadFromFile(file)
	if err != nil {
		t.Fatal(err)
	}

	if idx2.SeqLen != idx.SeqLen || idx2.Primary != idx.Primary ||
		idx2.SAIntv != idx.SAIntv || idx2.L2 != idx.L2 {
		t.Fatal("header fields differ after round trip")
	}
	if !bytes.Equal(idx2.B, idx.B) {
		t.Fatal("BWT differs after round trip")
	}
	for r := int64(1); r <= idx2.SeqLen; r += 7 {
		if idx2.SA(r) != idx.SA(r) {
			t.Fatalf("SA(%d) differs after round trip", r)
		}
	}
}
