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
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"github.com/zeebo/wyhash"
)

// Magic bytes of the FM-index file.
var Magic = [8]byte{'.', 'm', 'e', 'm', 'f', 'm', 'd', 'i'}

// MainVersion is the main version number of the file format.
const MainVersion uint8 = 0

// MinorVersion is the minor version number of the file format.
const MinorVersion uint8 = 1

var be = binary.BigEndian

var seedChecksum uint64 = 1

// ErrInvalidFileFormat means invalid file format.
var ErrInvalidFileFormat = errors.New("fmindex: invalid binary format")

// ErrVersionMismatch means version mismatch between files and program.
var ErrVersionMismatch = errors.New("fmindex: version mismatch")

// ErrBrokenFile means the file is not complete or the checksum does not match.
var ErrBrokenFile = errors.New("fmindex: broken file")

func (idx *FMIndex) marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(idx.B)+len(idx.Occ)*32+len(idx.SSA)*8+128))
	var b8 [8]byte

	writeI64 := func(v int64) {
		be.PutUint64(b8[:], uint64(v))
		buf.Write(b8[:])
	}

	writeI64(idx.SeqLen)
	writeI64(idx.Primary)
	for _, v := range idx.L2 {
		writeI64(v)
	}
	writeI64(idx.SAIntv)

	buf.Write(idx.B)

	writeI64(int64(len(idx.Occ)))
	for _, cnt := range idx.Occ {
		for _, v := range cnt {
			writeI64(v)
		}
	}

	writeI64(int64(len(idx.SSA)))
	for _, v := range idx.SSA {
		writeI64(v)
	}

	return buf.Bytes()
}

func unmarshal(data []byte) (*FMIndex, error) {
	rd := bytes.NewReader(data)
	var b8 [8]byte

	readI64 := func() (int64, error) {
		if _, err := io.ReadFull(rd, b8[:]); err != nil {
			return 0, ErrBrokenFile
		}
		return int64(be.Uint64(b8[:])), nil
	}

	idx := &FMIndex{}
	var err error
	if idx.SeqLen, err = readI64(); err != nil {
		return nil, err
	}
	if idx.SeqLen < 0 {
		return nil, ErrBrokenFile
	}
	if idx.Primary, err = readI64(); err != nil {
		return nil, err
	}
	for c := range idx.L2 {
		if idx.L2[c], err = readI64(); err != nil {
			return nil, err
		}
	}
	if idx.SAIntv, err = readI64(); err != nil {
		return nil, err
	}
	if idx.SAIntv <= 0 || idx.SAIntv&(idx.SAIntv-1) != 0 {
		return nil, ErrBrokenFile
	}

	idx.B = make([]byte, (idx.SeqLen+3)>>2)
	if _, err = io.ReadFull(rd, idx.B); err != nil {
		return nil, ErrBrokenFile
	}

	nOcc, err := readI64()
	if err != nil {
		return nil, err
	}
	idx.Occ = make([][4]int64, nOcc)
	for i := range idx.Occ {
		for c := 0; c < 4; c++ {
			if idx.Occ[i][c], err = readI64(); err != nil {
				return nil, err
			}
		}
	}

	nSSA, err := readI64()
	if err != nil {
		return nil, err
	}
	idx.SSA = make([]int64, nSSA)
	for i := range idx.SSA {
		if idx.SSA[i], err = readI64(); err != nil {
			return nil, err
		}
	}

	return idx, nil
}

// WriteToFile saves the index, gzip-compressed with a checksum of the
// uncompressed payload.
func (idx *FMIndex) WriteToFile(file string) error {
	payload := idx.marshal()

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

// ReadFromFile loads an index and verifies its checksum.
func ReadFromFile(file string) (*FMIndex, error) {
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
