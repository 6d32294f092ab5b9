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
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/shenwei356/memalign/memalign/cmd/fmindex"
	"github.com/shenwei356/memalign/memalign/cmd/refseq"
)

// pipelineRef builds a deterministic single-contig reference: 2000
// pseudo-random bases followed by a 25 bp unit repeated 20 times.
func pipelineRef(t *testing.T) (*refseq.RefSeq, *fmindex.FMIndex, []byte) {
	t.Helper()
	state := uint64(5)
	rnd := func() byte {
		state = state*6364136223846793005 + 1442695040888963407
		return byte(state >> 33 & 3)
	}
	bases := make([]byte, 0, 2500)
	for i := 0; i < 2000; i++ {
		bases = append(bases, "ACGT"[rnd()])
	}
	unit := make([]byte, 25)
	for i := range unit {
		unit[i] = "ACGT"[rnd()]
	}
	for i := 0; i < 20; i++ {
		bases = append(bases, unit...)
	}

	ref := &refseq.RefSeq{}
	ref.AddSeq("chr1", "", bases)
	idx := fmindex.NewFMIndex(ref.FMText(), 8)
	return ref, idx, bases
}

// pipelineOpts tightens the seeding parameters so that unique seeds on
// the small test reference are found at full length.
func pipelineOpts() *MemOptions {
	opt := DefaultMemOptions()
	opt.MinIntv = 1
	opt.MaxSeedLen = 0
	opt.NumThreads = 2
	return opt
}

func rcBases(s []byte) []byte {
	comp := map[byte]byte{'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A'}
	out := make([]byte, len(s))
	for i, c := range s {
		out[len(s)-1-i] = comp[c]
	}
	return out
}

func alignOne(t *testing.T, opt *MemOptions, idx *fmindex.FMIndex, ref *refseq.RefSeq, bases []byte) [][]string {
	t.Helper()
	s := &SeqRead{name: "read1", seq: append([]byte{}, bases...)}
	memProcessSeqs(opt, idx, ref, []*SeqRead{s}, nil)

	lines := strings.Split(strings.TrimSuffix(s.sam, "\n"), "\n")
	records := make([][]string, len(lines))
	for i, line := range lines {
		records[i] = strings.Split(line, "\t")
		if len(records[i]) < 11 {
			t.Fatalf("truncated SAM record: %q", line)
		}
	}
	return records
}

func samTag(fields []string, tag string) (string, bool) {
	for _, f := range fields[11:] {
		if strings.HasPrefix(f, tag) {
			return strings.TrimPrefix(f, tag), true
		}
	}
	return "", false
}

func TestPipelineExactMatch(t *testing.T) {
	ref, idx, bases := pipelineRef(t)
	opt := pipelineOpts()

	recs := alignOne(t, opt, idx, ref, bases[1000:1050])
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	r := recs[0]
	if r[1] != "0" || r[2] != "chr1" || r[3] != "1001" || r[5] != "50M" {
		t.Errorf("got FLAG=%s RNAME=%s POS=%s CIGAR=%s, want 0 chr1 1001 50M", r[1], r[2], r[3], r[5])
	}
	if r[4] != "60" {
		t.Errorf("MAPQ: got %s, want 60", r[4])
	}
	if as, ok := samTag(r, "AS:i:"); !ok || as != "50" {
		t.Errorf("AS: got %q, want 50", as)
	}
	if r[9] != string(bases[1000:1050]) {
		t.Errorf("SEQ mismatch: %q", r[9])
	}
}

func TestPipelineSNP(t *testing.T) {
	ref, idx, bases := pipelineRef(t)
	opt := pipelineOpts()

	read := append([]byte{}, bases[1000:1050]...)
	read[25] = "ACGT"[(refseq.Base2Int[read[25]]+1)&3]

	recs := alignOne(t, opt, idx, ref, read)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	r := recs[0]
	if r[1] != "0" || r[3] != "1001" || r[5] != "50M" {
		t.Errorf("got FLAG=%s POS=%s CIGAR=%s, want 0 1001 50M", r[1], r[3], r[5])
	}
	// 49 matches and one mismatch
	if as, ok := samTag(r, "AS:i:"); !ok || as != "45" {
		t.Errorf("AS: got %q, want 45", as)
	}
	if r[4] != "60" {
		t.Errorf("MAPQ: got %s, want 60", r[4])
	}
}

func TestPipelineInsertion(t *testing.T) {
	ref, idx, bases := pipelineRef(t)
	opt := pipelineOpts()

	// insert one base at read position 25, differing from both
	// neighbors so the gap placement is unambiguous
	ins := (refseq.Base2Int[bases[1024]] + 1) & 3
	if ins == refseq.Base2Int[bases[1025]] {
		ins = (ins + 1) & 3
	}
	if ins == refseq.Base2Int[bases[1024]] {
		ins = (ins + 1) & 3
	}
	read := make([]byte, 0, 51)
	read = append(read, bases[1000:1025]...)
	read = append(read, "ACGT"[ins])
	read = append(read, bases[1025:1050]...)

	recs := alignOne(t, opt, idx, ref, read)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	r := recs[0]
	if r[3] != "1001" || r[5] != "25M1I25M" {
		t.Errorf("got POS=%s CIGAR=%s, want 1001 25M1I25M", r[3], r[5])
	}
	// 50 matches minus the gap-opening penalty
	if as, ok := samTag(r, "AS:i:"); !ok || as != "44" {
		t.Errorf("AS: got %q, want 44", as)
	}
}

func TestPipelineReverseStrand(t *testing.T) {
	ref, idx, bases := pipelineRef(t)
	opt := pipelineOpts()

	recs := alignOne(t, opt, idx, ref, rcBases(bases[1000:1050]))
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	r := recs[0]
	flag, _ := strconv.Atoi(r[1])
	if flag&0x10 == 0 {
		t.Errorf("FLAG %d should have the reverse bit", flag)
	}
	if r[3] != "1001" || r[5] != "50M" {
		t.Errorf("got POS=%s CIGAR=%s, want 1001 50M", r[3], r[5])
	}
	// SEQ is printed on the forward reference strand
	if r[9] != string(bases[1000:1050]) {
		t.Errorf("SEQ mismatch: %q", r[9])
	}
	if as, ok := samTag(r, "AS:i:"); !ok || as != "50" {
		t.Errorf("AS: got %q, want 50", as)
	}
}

func TestPipelineChimericRead(t *testing.T) {
	ref, idx, bases := pipelineRef(t)
	opt := pipelineOpts()

	read := make([]byte, 0, 100)
	read = append(read, bases[200:250]...)
	read = append(read, bases[1200:1250]...)

	recs := alignOne(t, opt, idx, ref, read)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	var sawA, sawB bool
	for _, r := range recs {
		flag, _ := strconv.Atoi(r[1])
		if flag&0x4 != 0 || flag&0x100 != 0 {
			t.Errorf("record should be a mapped primary, FLAG %d", flag)
		}
		if !strings.Contains(r[5], "S") {
			t.Errorf("chimeric record should be soft-clipped, CIGAR %s", r[5])
		}
		pos, _ := strconv.Atoi(r[3])
		switch {
		case pos == 201:
			sawA = true
		case pos >= 1195 && pos <= 1201:
			sawB = true
		default:
			t.Errorf("unexpected POS %d", pos)
		}
	}
	if !sawA || !sawB {
		t.Errorf("missing a locus: A=%v B=%v", sawA, sawB)
	}
}

func TestPipelineRepetitiveSeed(t *testing.T) {
	ref, idx, bases := pipelineRef(t)
	opt := pipelineOpts()
	opt.MaxOcc = 4

	// the read sits inside the 20-copy repeat, so its only seed
	// occurs far more often than MaxOcc
	recs := alignOne(t, opt, idx, ref, bases[2100:2150])
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0][1] != "4" {
		t.Errorf("FLAG: got %s, want 4 (unmapped)", recs[0][1])
	}
}

func TestPipelineUnmappedRead(t *testing.T) {
	ref, idx, _ := pipelineRef(t)
	opt := pipelineOpts()

	state := uint64(999)
	read := make([]byte, 50)
	for i := range read {
		state = state*6364136223846793005 + 1442695040888963407
		read[i] = "ACGT"[state>>33&3]
	}

	recs := alignOne(t, opt, idx, ref, read)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	r := recs[0]
	if r[1] != "4" || r[2] != "*" || r[3] != "0" || r[5] != "*" {
		t.Errorf("unexpected unmapped record: %v", r[:6])
	}
}

func TestPipelineShortRead(t *testing.T) {
	ref, idx, bases := pipelineRef(t)
	opt := pipelineOpts()

	// shorter than MinSeedLen, so no seed can form
	recs := alignOne(t, opt, idx, ref, bases[1000:1010])
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	r := recs[0]
	if r[1] != "4" || r[2] != "*" || r[3] != "0" || r[5] != "*" {
		t.Errorf("unexpected record for a too-short read: %v", r[:6])
	}
}

func TestPipelineAllAmbiguousRead(t *testing.T) {
	ref, idx, _ := pipelineRef(t)
	opt := pipelineOpts()

	read := bytes.Repeat([]byte{'N'}, 50)
	recs := alignOne(t, opt, idx, ref, read)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	r := recs[0]
	if r[1] != "4" || r[2] != "*" || r[3] != "0" || r[5] != "*" {
		t.Errorf("unexpected record for an all-N read: %v", r[:6])
	}
	if r[9] != strings.Repeat("N", 50) {
		t.Errorf("SEQ: got %q, want 50 Ns", r[9])
	}
}

func TestPipelinePairedEnd(t *testing.T) {
	ref, idx, bases := pipelineRef(t)
	opt := pipelineOpts()
	opt.Flag |= MemFPE

	s1 := &SeqRead{name: "pair1", seq: append([]byte{}, bases[300:350]...)}
	s2 := &SeqRead{name: "pair1", seq: rcBases(bases[800:850])}
	memProcessSeqs(opt, idx, ref, []*SeqRead{s1, s2}, nil)

	r1 := strings.Split(strings.TrimSuffix(s1.sam, "\n"), "\t")
	r2 := strings.Split(strings.TrimSuffix(s2.sam, "\n"), "\t")

	// paired, mate on the reverse strand
	if r1[1] != "33" {
		t.Errorf("read 1 FLAG: got %s, want 33", r1[1])
	}
	// paired, reverse strand
	if r2[1] != "17" {
		t.Errorf("read 2 FLAG: got %s, want 17", r2[1])
	}
	if r1[3] != "301" || r2[3] != "801" {
		t.Errorf("POS: got %s and %s, want 301 and 801", r1[3], r2[3])
	}
	if r1[6] != "=" || r2[6] != "=" {
		t.Errorf("RNEXT: got %s and %s, want = and =", r1[6], r2[6])
	}
	if r1[7] != "801" || r2[7] != "301" {
		t.Errorf("PNEXT: got %s and %s, want 801 and 301", r1[7], r2[7])
	}
	// leftmost forward positions are 300 and 849
	if r1[8] != "-549" || r2[8] != "549" {
		t.Errorf("TLEN: got %s and %s, want -549 and 549", r1[8], r2[8])
	}
}
