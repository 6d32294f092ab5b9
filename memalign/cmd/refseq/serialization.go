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
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"github.com/zeebo/wyhash"
)

// Magic bytes of the packed reference file.
var Magic = [8]byte{'.', 'm', 'e', 'm', 'r', 'e', 'f', 's'}

// MainVersion is the main version number of the file format.
const MainVersion uint8 = 0

// MinorVersion is the minor version number of the file format.
const MinorVersion uint8 = 1

var be = binary.BigEndian

var seedChecksum uint64 = 1

// ErrInvalidFileFormat means invalid file format.
var ErrInvalidFileFormat = errors.New("refseq: invalid binary format")

// ErrVersionMismatch means version mismatch between files and program.
var ErrVersionMismatch = errors.New("refseq: version mismatch")

// ErrBrokenFile means the file is not complete or the checksum does not match.
var ErrBrokenFile = errors.New("refseq: broken file")

func (r *RefSeq) marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(r.Pac)+1024))
	var b8 [8]byte
	var b4 [4]byte

	be.PutUint64(b8[:], uint64(r.LPac))
	buf.Write(b8[:])
	buf.Write(r.Pac)

	be.PutUint64(b8[:], uint64(len(r.Anns)))
	buf.Write(b8[:])
	for _, ann := range r.Anns {
		be.PutUint64(b8[:], uint64(ann.Offset))
		buf.Write(b8[:])
		be.PutUint64(b8[:], uint64(ann.Len))
		buf.Write(b8[:])
		be.PutUint32(b4[:], uint32(ann.NAmbs))
		buf.Write(b4[:])
		be.PutUint32(b4[:], uint32(len(ann.Name)))
		buf.Write(b4[:])
		buf.WriteString(ann.Name)
		be.PutUint32(b4[:], uint32(len(ann.Desc)))
		buf.Write(b4[:])
		buf.WriteString(ann.Desc)
	}

	be.PutUint64(b8[:], uint64(len(r.Ambs)))
	buf.Write(b8[:])
	for _, amb := range r.Ambs {
		be.PutUint64(b8[:], uint64(amb.Offset))
		buf.Write(b8[:])
		be.PutUint32(b4[:], uint32(amb.Len))
		buf.Write(b4[:])
		buf.WriteByte(amb.Base)
	}

	return buf.Bytes()
}

func unmarshal(data []byte) (*RefSeq, error) {
	rd := bytes.NewReader(data)
	var b8 [8]byte
	var b4 [4]byte

	readN := func(p []byte) error {
		_, err := io.ReadFull(rd, p)
		return err
	}

	r := &RefSeq{}
	if err := readN(b8[:]); err != nil {
		return nil, ErrBrokenFile
	}
	r.LPac = int64(be.Uint64(b8[:]))
	if r.LPac < 0 {
		return nil, ErrBrokenFile
	}

	r.Pac = make([]byte, (r.LPac+3)>>2)
	if err := readN(r.Pac); err != nil {
		return nil, ErrBrokenFile
	}

	if err := readN(b8[:]); err != nil {
		return nil, ErrBrokenFile
	}
	nAnns := int(be.Uint64(b8[:]))
	r.Anns = make([]Annotation, nAnns)
	for i := 0; i < nAnns; i++ {
		ann := &r.Anns[i]
		if err := readN(b8[:]); err != nil {
			return nil, ErrBrokenFile
		}
		ann.Offset = int64(be.Uint64(b8[:]))
		if err := readN(b8[:]); err != nil {
			return nil, ErrBrokenFile
		}
		ann.Len = int64(be.Uint64(b8[:]))
		if err := readN(b4[:]); err != nil {
			return nil, ErrBrokenFile
		}
		ann.NAmbs = int32(be.Uint32(b4[:]))

		if err := readN(b4[:]); err != nil {
			return nil, ErrBrokenFile
		}
		name := make([]byte, be.Uint32(b4[:]))
		if err := readN(name); err != nil {
			return nil, ErrBrokenFile
		}
		ann.Name = string(name)

		if err := readN(b4[:]); err != nil {
			return nil, ErrBrokenFile
		}
		desc := make([]byte, be.Uint32(b4[:]))
		if err := readN(desc); err != nil {
			return nil, ErrBrokenFile
		}
		ann.Desc = string(desc)
	}

	if err := readN(b8[:]); err != nil {
		return nil, ErrBrokenFile
	}
	nAmbs := int(be.Uint64(b8[:]))
	r.Ambs = make([]AmbiRegion, nAmbs)
	for i := 0; i < nAmbs; i++ {
		amb := &r.Ambs[i]
		if err := readN(b8[:]); err != nil {
			return nil, ErrBrokenFile
		}
		amb.Offset = int64(be.Uint64(b8[:]))
		if err := readN(b4[:]); err != nil {
			return nil, ErrBrokenFile
		}
		amb.Len = int32(be.Uint32(b4[:]))
		b, err := rd.ReadByte()
		if err != nil {
			return nil, ErrBrokenFile
		}
		amb.Base = b
	}

	return r, nil
}

// WriteToFile saves the packed reference, gzip-compressed with a checksum
// of the uncompressed payload.
func (r *RefSeq) WriteToFile(file string) error {
	payload := r.marshal()

	fh, err := os.Create(file)
	if err != nil {
		return errors.Wrap(err, file)
	}
	w := bufio.NewWriterSize(fh, 65536)

	var b8 [8]byte
	w.Write(Magic[:])
	w.WriteByte(MainVersion)
	w.WriteByte(MinorVersion)
	be.PutUint64(b8[:], wyhash.Hash(payload, seedChecksum))
	w.Write(b8[:])
	be.PutUint64(b8[:], uint64(len(payload)))
	w.Write(b8[:])

	gw := pgzip.NewWriter(w)
	if _, err = gw.Write(payload); err != nil {
		fh.Close()
		return errors.Wrap(err, file)
	}
	if err = gw.Close(); err != nil {
		fh.Close()
		return errors.Wrap(err, file)
	}
	if err = w.Flush(); err != nil {
		fh.Close()
		return errors.Wrap(err, file)
	}
	return fh.Close()
}

// ReadFromFile loads a packed reference and verifies its checksum.
func ReadFromFile(file string) (*RefSeq, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}
	defer fh.Close()
	rd := bufio.NewReaderSize(fh, 65536)

	var magic [8]byte
	if _, err = io.ReadFull(rd, magic[:]); err != nil {
		return nil, ErrInvalidFileFormat
	}
	if magic != Magic {
		return nil, ErrInvalidFileFormat
	}
	var vers [2]byte
	if _, err = io.ReadFull(rd, vers[:]); err != nil {
		return nil, ErrInvalidFileFormat
	}
	if vers[0] != MainVersion {
		return nil, ErrVersionMismatch
	}

	var b8 [8]byte
	if _, err = io.ReadFull(rd, b8[:]); err != nil {
		return nil, ErrBrokenFile
	}
	checksum := be.Uint64(b8[:])
	if _, err = io.ReadFull(rd, b8[:]); err != nil {
		return nil, ErrBrokenFile
	}
	size := be.Uint64(b8[:])

	gr, err := pgzip.NewReader(rd)
	if err != nil {
		return nil, ErrBrokenFile
	}
	defer gr.Close()
	payload := make([]byte, size)
	if _, err = io.ReadFull(gr, payload); err != nil {
		return nil, ErrBrokenFile
	}
	if wyhash.Hash(payload, seedChecksum) != checksum {
		return nil, ErrBrokenFile
	}

	return unmarshal(payload)
}
