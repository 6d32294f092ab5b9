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

// Package refseq stores a reference genome as a 2-bit packed byte slice,
// with contig annotations and the locations of ambiguous bases.
//
// Positions come in two coordinate spaces. The forward space covers
// [0, LPac) and addresses forward-strand bases directly. The
// forward-reverse space covers [0, 2*LPac): positions >= LPac address the
// reverse complement strand, with position 2*LPac-1-p mirroring forward
// position p. GetSeq and DePos accept forward-reverse coordinates.
package refseq

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/zeebo/wyhash"
)

// Base2Int maps a nucleotide letter to its 2-bit code,
// with 4 for ambiguous letters.
var Base2Int [256]byte

// Int2Base maps a 2-bit code (plus 4 for N) back to a letter.
var Int2Base = [5]byte{'A', 'C', 'G', 'T', 'N'}

func init() {
	for i := range Base2Int {
		Base2Int[i] = 4
	}
	Base2Int['A'], Base2Int['a'] = 0, 0
	Base2Int['C'], Base2Int['c'] = 1, 1
	Base2Int['G'], Base2Int['g'] = 2, 2
	Base2Int['T'], Base2Int['t'] = 3, 3
}

// Annotation describes one contig in the concatenated reference.
type Annotation struct {
	Offset int64 // offset in the forward strand
	Len    int64
	NAmbs  int32
	Name   string
	Desc   string
}

// AmbiRegion is a run of ambiguous bases, recorded with the original letter.
type AmbiRegion struct {
	Offset int64 // offset in the forward strand
	Len    int32
	Base   byte
}

// RefSeq is the packed reference.
type RefSeq struct {
	LPac int64  // length of the forward strand in bases
	Pac  []byte // 2-bit packed forward strand, 4 bases per byte

	Anns []Annotation
	Ambs []AmbiRegion
}

var seedAmbi uint64 = 53

// substAmbi returns a deterministic substitution base for an ambiguous
// base at a forward-strand position, so index building is reproducible.
func substAmbi(pos int64) byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(pos))
	return byte(wyhash.Hash(buf[:], seedAmbi) & 3)
}

func setPac(pac []byte, pos int64, c byte) {
	pac[pos>>2] |= c << ((^uint(pos) & 3) << 1)
}

func getPac(pac []byte, pos int64) byte {
	return pac[pos>>2] >> ((^uint(pos) & 3) << 1) & 3
}

// AddSeq appends one contig.
func (r *RefSeq) AddSeq(name, desc string, s []byte) {
	ann := Annotation{
		Offset: r.LPac,
		Len:    int64(len(s)),
		Name:   name,
		Desc:   desc,
	}

	var c byte
	var lastAmb int64 = -2
	for _, b := range s {
		c = Base2Int[b]
		if c > 3 { // ambiguous
			if r.LPac == lastAmb+1 && r.Ambs[len(r.Ambs)-1].Base == b {
				r.Ambs[len(r.Ambs)-1].Len++
			} else {
				r.Ambs = append(r.Ambs, AmbiRegion{Offset: r.LPac, Len: 1, Base: b})
			}
			lastAmb = r.LPac
			ann.NAmbs++
			c = substAmbi(r.LPac)
		}
		if r.LPac&3 == 0 {
			r.Pac = append(r.Pac, 0)
		}
		setPac(r.Pac, r.LPac, c)
		r.LPac++
	}

	r.Anns = append(r.Anns, ann)
}

// LoadFasta builds a RefSeq from FASTA/Q files, in input order.
// fileDone, if not nil, is called after each file, for progress display.
func LoadFasta(files []string, fileDone func(file string)) (*RefSeq, error) {
	r := &RefSeq{
		Pac:  make([]byte, 0, 1<<20),
		Anns: make([]Annotation, 0, 128),
		Ambs: make([]AmbiRegion, 0, 128),
	}

	var record *fastx.Record
	var fastxReader *fastx.Reader
	var err error
	seq.ValidateSeq = false
	for _, file := range files {
		fastxReader, err = fastx.NewReader(nil, file, "")
		if err != nil {
			return nil, errors.Wrap(err, file)
		}
		for {
			record, err = fastxReader.Read()
			if err != nil {
				if err.Error() == "EOF" {
					break
				}
				return nil, errors.Wrap(err, file)
			}
			if len(record.Seq.Seq) == 0 {
				continue
			}
			r.AddSeq(string(record.ID), string(record.Desc), record.Seq.Seq)
		}
		fastxReader.Close()
		if fileDone != nil {
			fileDone(file)
		}
	}

	if r.LPac == 0 {
		return nil, errors.New("no sequences loaded")
	}
	return r, nil
}

// Get returns the 2-bit code at a forward-reverse position.
func (r *RefSeq) Get(pos int64) byte {
	if pos < r.LPac {
		return getPac(r.Pac, pos)
	}
	return 3 - getPac(r.Pac, (r.LPac<<1)-1-pos)
}

// GetSeq extracts [beg, end) in forward-reverse coordinates as 2-bit codes.
// A region straddling the forward-reverse boundary returns nil.
// Out-of-range ends are clamped, so the result may be shorter than requested.
func (r *RefSeq) GetSeq(beg, end int64) []byte {
	if beg > end {
		beg, end = end, beg
	}
	if beg < 0 {
		beg = 0
	}
	if end > r.LPac<<1 {
		end = r.LPac << 1
	}
	if beg < r.LPac && end > r.LPac {
		return nil // straddles the boundary between the two strands
	}

	s := make([]byte, 0, end-beg)
	if beg >= r.LPac { // reverse strand
		begF := (r.LPac << 1) - end
		endF := (r.LPac << 1) - beg
		for k := endF - 1; k >= begF; k-- {
			s = append(s, 3-getPac(r.Pac, k))
		}
	} else {
		for k := beg; k < end; k++ {
			s = append(s, getPac(r.Pac, k))
		}
	}
	return s
}

// DePos converts a forward-reverse position to a forward-strand position.
func (r *RefSeq) DePos(pos int64) (int64, bool) {
	if pos >= r.LPac {
		return (r.LPac << 1) - 1 - pos, true
	}
	return pos, false
}

// PosToRid returns the index of the contig containing a forward-strand
// position, or -1 if out of range.
func (r *RefSeq) PosToRid(pos int64) int {
	if pos < 0 || pos >= r.LPac {
		return -1
	}
	lo, hi := 0, len(r.Anns)-1
	for lo < hi {
		mid := (lo + hi + 1) >> 1
		if r.Anns[mid].Offset <= pos {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// CntAmbi counts ambiguous bases overlapping the forward-strand
// interval [pos, pos+length).
func (r *RefSeq) CntAmbi(pos int64, length int) int {
	if len(r.Ambs) == 0 {
		return 0
	}
	end := pos + int64(length)

	// leftmost region with Offset+Len > pos
	lo, hi := 0, len(r.Ambs)
	for lo < hi {
		mid := (lo + hi) >> 1
		if r.Ambs[mid].Offset+int64(r.Ambs[mid].Len) > pos {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	n := 0
	for i := lo; i < len(r.Ambs) && r.Ambs[i].Offset < end; i++ {
		b := r.Ambs[i].Offset
		e := b + int64(r.Ambs[i].Len)
		if b < pos {
			b = pos
		}
		if e > end {
			e = end
		}
		n += int(e - b)
	}
	return n
}

// FMText returns the concatenation of the forward strand and its reverse
// complement as 2-bit codes, the text the FM-index is built on.
func (r *RefSeq) FMText() []byte {
	n := r.LPac << 1
	text := make([]byte, n)
	for k := int64(0); k < r.LPac; k++ {
		text[k] = getPac(r.Pac, k)
		text[n-1-k] = 3 - text[k]
	}
	return text
}
