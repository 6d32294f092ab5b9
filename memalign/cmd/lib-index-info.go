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
	"os"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Index file names.
const (
	FileInfo    = "info.toml"
	FileRefSeq  = "ref.bin"
	FileFMIndex = "fmd.bin"
)

// IndexInfo summarizes an index directory.
type IndexInfo struct {
	MainVersion  uint8 `toml:"main-version" comment:"Index format"`
	MinorVersion uint8 `toml:"minor-version"`

	SAInterval int `toml:"sa-interval" comment:"FM-index"`

	InputFiles int   `toml:"input-files" comment:"Reference sequences"`
	Sequences  int   `toml:"sequences"`
	InputBases int64 `toml:"input-bases"`
}

func writeIndexInfo(file string, info *IndexInfo) error {
	data, err := toml.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(file, data, 0644)
}

func readIndexInfo(file string) (*IndexInfo, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, file)
	}
	info := &IndexInfo{}
	if err = toml.Unmarshal(data, info); err != nil {
		return nil, errors.Wrap(err, file)
	}
	return info, nil
}
