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

package refseq

import (
	"bytes"
	"path/filepath"
	"testing"
)

func encode(s string) []byte {
	codes := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		codes[i] = Base2Int[s[i]]
	}
	return codes
}

func TestPackAndGet(t *testing.T) {
	s := "ACGTACGTTTGACCA"
	r := &RefSeq{}
	r.AddSeq("chr1", "", []byte(s))

	if r.LPac != int64(len(s)) {
		t.Fatalf("LPac: got %d, want %d", r.LPac, len(s))
	}
	codes := encode(s)
	for i := range codes {
		if c := r.Get(int64(i)); c != codes[i] {
			t.Errorf("Get(%d): got %d, want %d", i, c, codes[i])
		}
	}
	// reverse complement strand
	n := r.LPac << 1
	for i := range codes {
		if c := r.Get(n - 1 - int64(i)); c != 3-codes[i] {
			t.Errorf("Get(%d): got %d, want %d", n-1-int64(i), c, 3-codes[i])
		}
	}
}

func TestGetSeq(t *testing.T) {
	s := "ACGTACGTTTGACCAGGT"
	r := &RefSeq{}
	r.AddSeq("chr1", "", []byte(s))

	got := r.GetSeq(2, 7)
	if !bytes.Equal(got, encode("GTACG")) {
		t.Errorf("forward slice: got %v", got)
	}

	// the reverse strand of [2, 7) mirrors to [2n-7, 2n-2)
	n := r.LPac << 1
	got = r.GetSeq(n-7, n-2)
	if !bytes.Equal(got, encode("CGTAC")) {
		t.Errorf("reverse slice: got %v", got)
	}

	if got = r.GetSeq(r.LPac-2, r.LPac+2); got != nil {
		t.Errorf("straddling region should return nil, got %v", got)
	}

	// windows touching the strand boundary do not straddle it
	got = r.GetSeq(r.LPac, r.LPac+4)
	if !bytes.Equal(got, encode("ACCT")) {
		t.Errorf("slice starting at the boundary: got %v, want %v", got, encode("ACCT"))
	}
	got = r.GetSeq(r.LPac-4, r.LPac)
	if !bytes.Equal(got, encode("AGGT")) {
		t.Errorf("slice ending at the boundary: got %v, want %v", got, encode("AGGT"))
	}

	// clamped at the end of the text
	got = r.GetSeq(n-3, n+5)
	if len(got) != 3 {
		t.Errorf("clamped slice length: got %d, want 3", len(got))
	}
}

func TestFMText(t *testing.T) {
	s := "ACGGTTAC"
	r := &RefSeq{}
	r.AddSeq("chr1", "", []byte(s))

	text := r.FMText()
	want := append(encode(s), encode("GTAACCGT")...)
	if !bytes.Equal(text, want) {
		t.Fatalf("FMText: got %v, want %v", text, want)
	}
}

func TestContigsAndAmbiguity(t *testing.T) {
	r := &RefSeq{}
	r.AddSeq("chr1", "test contig", []byte("ACGTNNNACGT"))
	r.AddSeq("chr2", "", []byte("GGGGNCCCC"))

	if len(r.Anns) != 2 {
		t.Fatalf("contigs: got %d, want 2", len(r.Anns))
	}
	if r.Anns[1].Offset != 11 {
		t.Errorf("chr2 offset: got %d, want 11", r.Anns[1].Offset)
	}
	if r.Anns[0].NAmbs != 3 || r.Anns[1].NAmbs != 1 {
		t.Errorf("NAmbs: got %d and %d", r.Anns[0].NAmbs, r.Anns[1].NAmbs)
	}
	if len(r.Ambs) != 2 {
		t.Fatalf("ambiguous runs: got %d, want 2", len(r.Ambs))
	}
	if r.Ambs[0].Offset != 4 || r.Ambs[0].Len != 3 {
		t.Errorf("first run: %+v", r.Ambs[0])
	}

	tests := []struct {
		pos  int64
		rid  int
		ambi int
		l    int
	}{
		{0, 0, 0, 3},
		{3, 0, 2, 3},
		{4, 0, 3, 3},
		{10, 0, 0, 1},
		{11, 1, 0, 4},
		{12, 1, 1, 4},
		{19, 1, 0, 1},
	}
	for _, c := range tests {
		if rid := r.PosToRid(c.pos); rid != c.rid {
			t.Errorf("PosToRid(%d): got %d, want %d", c.pos, rid, c.rid)
		}
		if n := r.CntAmbi(c.pos, c.l); n != c.ambi {
			t.Errorf("CntAmbi(%d, %d): got %d, want %d", c.pos, c.l, n, c.ambi)
		}
	}
	if rid := r.PosToRid(20); rid != -1 {
		t.Errorf("PosToRid(20): got %d, want -1", rid)
	}
}

func TestAmbiguitySubstitutionIsDeterministic(t *testing.T) {
	r1 := &RefSeq{}
	r1.AddSeq("chr1", "", []byte("ACNNGTNA"))
	r2 := &RefSeq{}
	r2.AddSeq("chr1", "", []byte("ACNNGTNA"))
	if !bytes.Equal(r1.Pac, r2.Pac) {
		t.Fatal("substituted bases differ between two identical builds")
	}
}

func TestSerialization(t *testing.T) {
	r := &RefSeq{}
	r.AddSeq("chr1", "first", []byte("ACGTNNNACGTTTGACCA"))
	r.AddSeq("chr2", "", []byte("GGGGNCCCCAAAT"))

	file := filepath.Join(t.TempDir(), "ref.bin")
	if err := r.WriteToFile(file); err != nil {
		t.Fatal(err)
	}
	r2, err := ReadFromFile(file)
	if err != nil {
		t.Fatal(err)
	}

	if r2.LPac != r.LPac {
		t.Fatalf("LPac: got %d, want %d", r2.LPac, r.LPac)
	}
	if !bytes.Equal(r2.Pac, r.Pac) {
		t.Fatal("Pac differs after round trip")
	}
	if len(r2.Anns) != len(r.Anns) {
		t.Fatalf("Anns: got %d, want %d", len(r2.Anns), len(r.Anns))
	}
	for i := range r.Anns {
		if r2.Anns[i] != r.Anns[i] {
			t.Errorf("Anns[%d]: got %+v, want %+v", i, r2.Anns[i], r.Anns[i])
		}
	}
	for i := range r.Ambs {
		if r2.Ambs[i] != r.Ambs[i] {
			t.Errorf("Ambs[%d]: got %+v, want %+v", i, r2.Ambs[i], r.Ambs[i])
		}
	}
}

func TestBrokenFileDetection(t *testing.T) {
	r := &RefSeq{}
	r.AddSeq("chr1", "", []byte("ACGTACGTTTGACCA"))

	dir := t.TempDir()
	file := filepath.Join(dir, "ref.bin")
	if err := r.WriteToFile(file); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadFromFile(filepath.Join(dir, "missing.bin")); err == nil {
		t.Error("reading a missing file should fail")
	}
}
