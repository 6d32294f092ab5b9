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
	"fmt"
	"io"
	"strconv"

	"github.com/shenwei356/memalign/memalign/cmd/align"
	"github.com/shenwei356/memalign/memalign/cmd/refseq"
)

// genCigar re-aligns the query interval against its reference interval
// with a banded global alignment and returns the score and CIGAR. It
// returns a nil CIGAR for an empty query, an empty reference interval,
// one bridging the two strands, or one extending past the sequence end.
// Reverse-strand pairs are aligned on reversed copies so that indels
// stay at the leftmost reference position.
func genCigar(opt *MemOptions, ref *refseq.RefSeq, query []byte, rb, re int64) (int, []uint32) {
	lQuery := len(query)
	if lQuery <= 0 || rb >= re || (rb < ref.LPac && re > ref.LPac) {
		return 0, nil
	}
	rseq := ref.GetSeq(rb, re)
	if int64(len(rseq)) != re-rb {
		return 0, nil
	}
	if rb >= ref.LPac {
		q2 := make([]byte, lQuery)
		for i := range q2 {
			q2[i] = query[lQuery-1-i]
		}
		query = q2
		for i, j := 0, len(rseq)-1; i < j; i, j = i+1, j-1 {
			rseq[i], rseq[j] = rseq[j], rseq[i]
		}
	}

	w := int(float64(lQuery*opt.MatchScore-opt.GapOpenPenalty)/float64(opt.GapExtPenalty) + 1.)
	if w < 1 {
		w = 1
	}
	if w > opt.BandWidth {
		w = opt.BandWidth
	}
	if d := len(rseq) - lQuery; d >= 0 {
		w += d
	} else {
		w -= d
	}

	score, cigar := align.Global(query, rseq, opt.Mat, opt.GapOpenPenalty, opt.GapExtPenalty, w)
	return score, cigar
}

// memHit is an alignment region reduced to what one SAM record needs.
type memHit struct {
	rb, re int64
	qb, qe int
	flag   int
	qual   int
	score  int
	sub    int
}

func alnregToHit(a *memAlnReg, h *memHit) {
	h.rb, h.re = a.rb, a.re
	h.qb, h.qe = a.qb, a.qe
	h.score = a.score
	h.sub = a.sub
	if a.csub > h.sub {
		h.sub = a.csub
	}
	h.qual = 0
	h.flag = 0
	if a.secondary >= 0 {
		h.flag = 0x100
	}
}

func putInt(buf *bytes.Buffer, x int64) {
	buf.WriteString(strconv.FormatInt(x, 10))
}

// hitToSam appends one SAM record for hit p of read s. A nil p produces
// an unmapped record. m is the mate's hit in paired-end mode, nil
// otherwise; an unmapped read placed next to a mapped mate inherits the
// mate's coordinate without a CIGAR.
func hitToSam(buf *bytes.Buffer, opt *MemOptions, ref *refseq.RefSeq, s *SeqRead, p0 *memHit, isHard bool, m *memHit) {
	isMapped := func(h *memHit) bool {
		return h.rb >= 0 && h.rb < h.re && h.re <= ref.LPac<<1
	}

	var p memHit
	if p0 == nil {
		p.rb, p.re = -1, -1
	} else {
		p = *p0
	}
	if m != nil {
		p.flag |= 0x1
	}
	if !isMapped(&p) {
		p.flag |= 0x4
	}
	if m != nil && !isMapped(m) {
		p.flag |= 0x8
	}
	copyMate := false
	if m != nil && !isMapped(&p) && isMapped(m) {
		p.rb, p.re = m.rb, m.re
		p.qb, p.qe = 0, len(s.seq)
		copyMate = true
	}
	if p.rb >= ref.LPac {
		p.flag |= 0x10
	}
	if m != nil && m.rb >= ref.LPac {
		p.flag |= 0x20
	}

	buf.WriteString(s.name)
	buf.WriteByte('\t')
	rid := -1
	if isMapped(&p) { // has a coordinate, its own or the mate's
		var cigar []uint32
		if !copyMate {
			_, cigar = genCigar(opt, ref, s.seq[p.qb:p.qe], p.rb, p.re)
			if len(cigar) == 0 {
				p.flag |= 0x4
			}
		}
		var isRev bool
		var pos int64
		if p.rb < ref.LPac {
			pos, isRev = ref.DePos(p.rb)
		} else {
			pos, isRev = ref.DePos(p.re - 1)
		}
		rid = ref.PosToRid(pos)
		putInt(buf, int64(p.flag))
		buf.WriteByte('\t')
		buf.WriteString(ref.Anns[rid].Name)
		buf.WriteByte('\t')
		putInt(buf, pos-ref.Anns[rid].Offset+1)
		buf.WriteByte('\t')
		putInt(buf, int64(p.qual))
		buf.WriteByte('\t')
		if len(cigar) > 0 {
			clip5, clip3 := p.qb, len(s.seq)-p.qe
			if isRev {
				clip5, clip3 = clip3, clip5
			}
			clipOp := byte('S')
			if isHard {
				clipOp = 'H'
			}
			if clip5 > 0 {
				putInt(buf, int64(clip5))
				buf.WriteByte(clipOp)
			}
			for _, op := range cigar {
				putInt(buf, int64(op>>4))
				buf.WriteByte(align.CigarOpChars[op&0xf])
			}
			if clip3 > 0 {
				putInt(buf, int64(clip3))
				buf.WriteByte(clipOp)
			}
		} else {
			buf.WriteByte('*')
		}
	} else { // no coordinate
		putInt(buf, int64(p.flag))
		buf.WriteString("\t*\t0\t0\t*")
	}

	if m != nil && isMapped(m) { // mate position and insert size
		var pos int64
		if m.rb < ref.LPac {
			pos, _ = ref.DePos(m.rb)
		} else {
			pos, _ = ref.DePos(m.re - 1)
		}
		mid := ref.PosToRid(pos)
		buf.WriteByte('\t')
		if mid == rid {
			buf.WriteByte('=')
		} else {
			buf.WriteString(ref.Anns[mid].Name)
		}
		buf.WriteByte('\t')
		putInt(buf, pos-ref.Anns[mid].Offset+1)
		buf.WriteByte('\t')
		if mid == rid {
			p0 := p.rb
			if p.rb >= ref.LPac {
				p0 = ref.LPac<<1 - 1 - p.rb
			}
			p1 := m.rb
			if m.rb >= ref.LPac {
				p1 = ref.LPac<<1 - 1 - m.rb
			}
			putInt(buf, p0-p1)
		} else {
			buf.WriteByte('0')
		}
		buf.WriteByte('\t')
	} else {
		buf.WriteString("\t*\t0\t0\t")
	}

	qb, qe := 0, len(s.seq)
	if p.flag&0x4 == 0 && isHard {
		qb, qe = p.qb, p.qe
	}
	if p.flag&0x10 == 0 { // forward strand
		for i := qb; i < qe; i++ {
			buf.WriteByte("ACGTN"[s.seq[i]])
		}
		buf.WriteByte('\t')
		if len(s.qual) > 0 {
			buf.Write(s.qual[qb:qe])
		} else {
			buf.WriteByte('*')
		}
	} else { // reverse strand, print the original bases
		for i := qe - 1; i >= qb; i-- {
			buf.WriteByte("TGCAN"[s.seq[i]])
		}
		buf.WriteByte('\t')
		if len(s.qual) > 0 {
			for i := qe - 1; i >= qb; i-- {
				buf.WriteByte(s.qual[i])
			}
		} else {
			buf.WriteByte('*')
		}
	}

	if p.score >= 0 {
		buf.WriteString("\tAS:i:")
		putInt(buf, int64(p.score))
	}
	if p.sub >= 0 {
		buf.WriteString("\tXS:i:")
		putInt(buf, int64(p.sub))
	}
	buf.WriteByte('\n')
}

// samSE renders the SAM records of one read: one record per primary
// region, or a single unmapped record when nothing aligned.
func samSE(opt *MemOptions, ref *refseq.RefSeq, s *SeqRead, regs []memAlnReg, extraFlag int, m *memHit) {
	var buf bytes.Buffer
	isHard := opt.Flag&MemFHardClip > 0
	n := 0
	for k := range regs {
		a := &regs[k]
		if a.secondary >= 0 {
			continue
		}
		var h memHit
		alnregToHit(a, &h)
		h.flag |= extraFlag
		h.qual = memApproxMapQ(opt, a)
		hitToSam(&buf, opt, ref, s, &h, isHard, m)
		if n == 0 {
			s.mapped = true
			s.score = h.score
			s.mapq = h.qual
		}
		n++
	}
	if n == 0 {
		s.mapped = false
		hitToSam(&buf, opt, ref, s, nil, isHard, m)
	}
	s.sam = buf.String()
}

// WriteSAMHeader writes the @SQ lines for every target sequence and a
// @PG line.
func WriteSAMHeader(w io.Writer, ref *refseq.RefSeq, cmdline string) error {
	for i := range ref.Anns {
		if _, err := fmt.Fprintf(w, "@SQ\tSN:%s\tLN:%d\n", ref.Anns[i].Name, ref.Anns[i].Len); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "@PG\tID:memalign\tPN:memalign\tVN:%s\tCL:%s\n", VERSION, cmdline)
	return err
}
