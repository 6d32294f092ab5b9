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
	"github.com/shenwei356/memalign/memalign/cmd/align"
)

// Alignment mode flags.
const (
	MemFPE       = 0x1 // paired-end mode
	MemFHardClip = 0x2 // hard clipping instead of soft clipping
)

// MemOptions holds all alignment parameters. The toml tags allow a tuned
// parameter set to be loaded from a file.
type MemOptions struct {
	MatchScore      int `toml:"match-score"`
	MismatchPenalty int `toml:"mismatch-penalty"`
	GapOpenPenalty  int `toml:"gap-open-penalty"`
	GapExtPenalty   int `toml:"gap-ext-penalty"`
	BandWidth       int `toml:"band-width"`

	MinSeedLen  int     `toml:"min-seed-len"`
	MaxSeedLen  int     `toml:"max-seed-len"`
	MinIntv     int64   `toml:"min-interval"`
	MaxOcc      int64   `toml:"max-occ"`
	MaxChainGap int64   `toml:"max-chain-gap"`
	MaskLevel   float64 `toml:"mask-level"`

	ChainDropRatio float64 `toml:"chain-drop-ratio"`
	SplitFactor    float64 `toml:"split-factor"` // reserved for adaptive reseeding

	ChunkSize   int `toml:"chunk-size"`
	PenUnpaired int `toml:"pen-unpaired"`

	NumThreads int    `toml:"-"`
	Flag       int    `toml:"-"`
	Debug      bool   `toml:"-"`
	Mat        []int8 `toml:"-"`
}

// DefaultMemOptions returns the default parameters, with the scoring
// matrix already filled.
func DefaultMemOptions() *MemOptions {
	opt := &MemOptions{
		MatchScore:      1,
		MismatchPenalty: 4,
		GapOpenPenalty:  6,
		GapExtPenalty:   1,
		BandWidth:       100,

		MinSeedLen:  19,
		MaxSeedLen:  32,
		MinIntv:     10,
		MaxOcc:      10000,
		MaxChainGap: 10000,
		MaskLevel:   0.50,

		ChainDropRatio: 0.50,
		SplitFactor:    1.5,

		ChunkSize:   10000000,
		PenUnpaired: 9,

		NumThreads: 1,
	}
	opt.FillMatrix()
	return opt
}

// FillMatrix rebuilds the scoring matrix after MatchScore or
// MismatchPenalty changed.
func (opt *MemOptions) FillMatrix() {
	opt.Mat = align.FillScoreMatrix(int8(opt.MatchScore), int8(opt.MismatchPenalty))
}

// LoadTOML overrides parameters with those in a TOML file.
func (opt *MemOptions) LoadTOML(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrap(err, file)
	}
	if err = toml.Unmarshal(data, opt); err != nil {
		return errors.Wrap(err, file)
	}
	opt.FillMatrix()
	return nil
}

// Check validates parameter ranges.
func (opt *MemOptions) Check() error {
	if opt.MatchScore <= 0 || opt.MismatchPenalty < 0 {
		return errors.New("match score should be positive and mismatch penalty non-negative")
	}
	if opt.GapOpenPenalty < 0 || opt.GapExtPenalty <= 0 {
		return errors.New("gap-open penalty should be non-negative and gap-extension penalty positive")
	}
	if opt.BandWidth < 1 {
		return errors.New("band width should be at least 1")
	}
	if opt.MinSeedLen < 1 || opt.MaxSeedLen < 0 {
		return errors.New("invalid seed length limits")
	}
	if opt.MinIntv < 1 {
		return errors.New("min interval size should be at least 1")
	}
	if opt.MaskLevel < 0 || opt.MaskLevel > 1 {
		return errors.New("mask level should be in [0, 1]")
	}
	if opt.ChunkSize < 1 {
		return errors.New("chunk size should be positive")
	}
	return nil
}
