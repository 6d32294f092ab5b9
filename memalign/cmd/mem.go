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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/shenwei356/memalign/memalign/cmd/fmindex"
	"github.com/shenwei356/memalign/memalign/cmd/refseq"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"
)

var memCmd = &cobra.Command{
	Use:   "mem",
	Short: "Align short reads and output SAM",
	Long: `Align short reads and output SAM

Input:
  1. One FASTA/Q file for single-end reads.
  2. Two FASTA/Q files for paired-end reads; the files must have the
     same number of reads, record i of each file forming pair i.

Output:
  SAM records in read input order, written to stdout or -o/--out-file
  (gzipped if the file name ends with ".gz").

Attention:
  1. Reads are processed in batches of roughly -K/--chunk-size bases;
     within a batch, seeding/chaining/extension runs in parallel with
     -j/--threads goroutines.
  2. Tuned parameters can be loaded from a TOML file (--opt-file);
     explicitly given flags override values from the file.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		timeStart := time.Now()
		defer func() {
			if opt.Verbose || opt.Log2File {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		// ---------------------------------------------------------------
		// alignment parameters

		mopt := DefaultMemOptions()
		if optFile := getFlagString(cmd, "opt-file"); optFile != "" {
			checkError(mopt.LoadTOML(expandPath(optFile)))
		}

		flags := cmd.Flags()
		if flags.Changed("match-score") {
			mopt.MatchScore = getFlagPositiveInt(cmd, "match-score")
		}
		if flags.Changed("mismatch-penalty") {
			mopt.MismatchPenalty = getFlagNonNegativeInt(cmd, "mismatch-penalty")
		}
		if flags.Changed("gap-open-penalty") {
			mopt.GapOpenPenalty = getFlagNonNegativeInt(cmd, "gap-open-penalty")
		}
		if flags.Changed("gap-ext-penalty") {
			mopt.GapExtPenalty = getFlagPositiveInt(cmd, "gap-ext-penalty")
		}
		if flags.Changed("band-width") {
			mopt.BandWidth = getFlagPositiveInt(cmd, "band-width")
		}
		if flags.Changed("min-seed-len") {
			mopt.MinSeedLen = getFlagPositiveInt(cmd, "min-seed-len")
		}
		if flags.Changed("max-seed-len") {
			mopt.MaxSeedLen = getFlagNonNegativeInt(cmd, "max-seed-len")
		}
		if flags.Changed("min-interval") {
			mopt.MinIntv = int64(getFlagPositiveInt(cmd, "min-interval"))
		}
		if flags.Changed("max-occ") {
			mopt.MaxOcc = int64(getFlagPositiveInt(cmd, "max-occ"))
		}
		if flags.Changed("max-chain-gap") {
			mopt.MaxChainGap = int64(getFlagPositiveInt(cmd, "max-chain-gap"))
		}
		if flags.Changed("mask-level") {
			mopt.MaskLevel = getFlagNonNegativeFloat64(cmd, "mask-level")
		}
		if flags.Changed("chain-drop-ratio") {
			mopt.ChainDropRatio = getFlagNonNegativeFloat64(cmd, "chain-drop-ratio")
		}
		if flags.Changed("chunk-size") {
			mopt.ChunkSize = getFlagPositiveInt(cmd, "chunk-size")
		}
		mopt.FillMatrix()
		mopt.NumThreads = opt.NumCPUs
		mopt.Debug = getFlagBool(cmd, "debug")
		if getFlagBool(cmd, "hard-clip") {
			mopt.Flag |= MemFHardClip
		}
		checkError(mopt.Check())

		outFile := getFlagString(cmd, "out-file")

		// ---------------------------------------------------------------
		// input files

		dbDir := getFlagString(cmd, "index")
		if dbDir == "" {
			checkError(fmt.Errorf("flag -d/--index is needed"))
		}
		dbDir = expandPath(dbDir)

		files := getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)
		if len(files) == 1 && isStdin(files[0]) {
			if opt.Verbose || opt.Log2File {
				log.Info("  no files given, reading from stdin")
			}
		} else if len(files) > 2 {
			checkError(fmt.Errorf("at most two read files are allowed, %d given", len(files)))
		}
		if len(files) == 2 {
			mopt.Flag |= MemFPE
		}

		if opt.Verbose || opt.Log2File {
			log.Infof("memalign v%s", VERSION)
			log.Info("  https://github.com/shenwei356/memalign")
			log.Info()
			log.Infof("loading index: %s", dbDir)
		}

		// ---------------------------------------------------------------
		// index

		timeLoad := time.Now()
		info, err := readIndexInfo(filepath.Join(dbDir, FileInfo))
		checkError(errors.Wrap(err, "reading index summary"))
		if info.MainVersion != refseq.MainVersion {
			checkError(fmt.Errorf("index main version (%d) does not match the program (%d)",
				info.MainVersion, refseq.MainVersion))
		}

		ref, err := refseq.ReadFromFile(filepath.Join(dbDir, FileRefSeq))
		checkError(errors.Wrap(err, "reading packed reference"))
		idx, err := fmindex.ReadFromFile(filepath.Join(dbDir, FileFMIndex))
		checkError(errors.Wrap(err, "reading FM-index"))

		if opt.Verbose || opt.Log2File {
			log.Infof("  index loaded in %s: %d sequence(s), %d bases, suffix array interval %d",
				time.Since(timeLoad), len(ref.Anns), ref.LPac, info.SAInterval)
			log.Info()
		}

		// ---------------------------------------------------------------
		// output

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		checkError(WriteSAMHeader(outfh, ref, strings.Join(os.Args, " ")))

		// ---------------------------------------------------------------
		// processing reads in batches

		readers := make([]*fastx.Reader, len(files))
		for i, file := range files {
			readers[i], err = fastx.NewReader(nil, file, "")
			checkError(errors.Wrap(err, file))
		}

		var nReads, nMapped int
		mapqs := make([]float64, 0, 1024)
		scores := make([]float64, 0, 1024)

		for {
			var seqs []*SeqRead
			if mopt.Flag&MemFPE == 0 {
				seqs, err = readSeqBatch(readers[0], mopt.ChunkSize)
			} else {
				seqs, err = readSeqBatchPE(readers[0], readers[1], mopt.ChunkSize)
			}
			checkError(err)
			if len(seqs) == 0 {
				break
			}

			memProcessSeqs(mopt, idx, ref, seqs, nil)

			for _, s := range seqs {
				outfh.WriteString(s.sam)
				nReads++
				if s.mapped {
					nMapped++
					mapqs = append(mapqs, float64(s.mapq))
					scores = append(scores, float64(s.score))
				}
			}
			if opt.Verbose || opt.Log2File {
				log.Infof("  %d read(s) processed", nReads)
			}
		}
		for _, reader := range readers {
			reader.Close()
		}

		// ---------------------------------------------------------------
		// summary

		if (opt.Verbose || opt.Log2File) && nReads > 0 {
			log.Info()
			log.Infof("%d read(s) aligned, %d (%.2f%%) mapped",
				nReads, nMapped, float64(nMapped)/float64(nReads)*100)
			if len(mapqs) > 0 {
				log.Infof("  mapping quality: mean %.1f, stdev %.1f",
					stat.Mean(mapqs, nil), stat.StdDev(mapqs, nil))
				log.Infof("  alignment score: mean %.1f, stdev %.1f",
					stat.Mean(scores, nil), stat.StdDev(scores, nil))
			}
		}
	},
}

// readSeqBatch reads single-end reads until roughly chunkSize bases are
// collected. A nil, nil return means the input is exhausted.
func readSeqBatch(reader *fastx.Reader, chunkSize int) ([]*SeqRead, error) {
	seqs := make([]*SeqRead, 0, 1024)
	var nBases int
	for nBases < chunkSize {
		record, err := reader.Read()
		if err != nil {
			if err.Error() == "EOF" {
				break
			}
			return nil, err
		}
		if len(record.Seq.Seq) == 0 {
			continue
		}
		s := newSeqRead(record)
		nBases += len(s.seq)
		seqs = append(seqs, s)
	}
	if len(seqs) == 0 {
		return nil, nil
	}
	return seqs, nil
}

// readSeqBatchPE reads read pairs, interleaving them as (2i, 2i+1).
// The two files must hold the same number of reads.
func readSeqBatchPE(reader1, reader2 *fastx.Reader, chunkSize int) ([]*SeqRead, error) {
	seqs := make([]*SeqRead, 0, 1024)
	var nBases int
	for nBases < chunkSize {
		record1, err1 := reader1.Read()
		record2, err2 := reader2.Read()
		eof1 := err1 != nil && err1.Error() == "EOF"
		eof2 := err2 != nil && err2.Error() == "EOF"
		if eof1 && eof2 {
			break
		}
		if eof1 != eof2 {
			return nil, errors.New("the two read files have different numbers of reads")
		}
		if err1 != nil {
			return nil, err1
		}
		if err2 != nil {
			return nil, err2
		}
		s1, s2 := newSeqRead(record1), newSeqRead(record2)
		nBases += len(s1.seq) + len(s2.seq)
		seqs = append(seqs, s1, s2)
	}
	if len(seqs) == 0 {
		return nil, nil
	}
	return seqs, nil
}

// newSeqRead copies a FASTA/Q record, whose buffers the reader reuses.
func newSeqRead(record *fastx.Record) *SeqRead {
	s := &SeqRead{
		name:    string(record.ID),
		comment: string(record.Desc),
		seq:     make([]byte, len(record.Seq.Seq)),
	}
	copy(s.seq, record.Seq.Seq)
	if len(record.Seq.Qual) > 0 {
		s.qual = make([]byte, len(record.Seq.Qual))
		copy(s.qual, record.Seq.Qual)
	}
	return s
}

func init() {
	RootCmd.AddCommand(memCmd)

	memCmd.Flags().StringP("index", "d", "",
		formatFlagUsage(`Index directory created by "memalign index".`))

	memCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Output file, supports and recommends a ".gz" suffix ("-" for stdout).`))

	memCmd.Flags().StringP("opt-file", "", "",
		formatFlagUsage(`TOML file with tuned alignment parameters. Explicitly given flags override it.`))

	memCmd.Flags().IntP("match-score", "A", 1,
		formatFlagUsage(`Match score.`))

	memCmd.Flags().IntP("mismatch-penalty", "B", 4,
		formatFlagUsage(`Mismatch penalty.`))

	memCmd.Flags().IntP("gap-open-penalty", "O", 6,
		formatFlagUsage(`Gap open penalty, charged for the first gapped base.`))

	memCmd.Flags().IntP("gap-ext-penalty", "E", 1,
		formatFlagUsage(`Gap extension penalty, charged for the second gapped base on.`))

	memCmd.Flags().IntP("band-width", "w", 100,
		formatFlagUsage(`Band width for banded alignment.`))

	memCmd.Flags().IntP("min-seed-len", "k", 19,
		formatFlagUsage(`Minimum seed length.`))

	memCmd.Flags().IntP("max-seed-len", "", 32,
		formatFlagUsage(`Split a super-maximal exact match longer than this (0 for no limit).`))

	memCmd.Flags().IntP("min-interval", "", 10,
		formatFlagUsage(`Stop extending a super-maximal exact match when its occurrence drops below this.`))

	memCmd.Flags().IntP("max-occ", "c", 10000,
		formatFlagUsage(`Skip seeds with more occurrences than this.`))

	memCmd.Flags().IntP("max-chain-gap", "", 10000,
		formatFlagUsage(`Maximum gap between seeds of one chain.`))

	memCmd.Flags().Float64P("mask-level", "", 0.5,
		formatFlagUsage(`Fraction of the shorter chain/region an overlap must cover to be significant.`))

	memCmd.Flags().Float64P("chain-drop-ratio", "D", 0.5,
		formatFlagUsage(`Drop a chain shadowed by a longer one if its weight is below this fraction.`))

	memCmd.Flags().IntP("chunk-size", "K", 10000000,
		formatFlagUsage(`Number of bases to process in one batch.`))

	memCmd.Flags().BoolP("hard-clip", "H", false,
		formatFlagUsage(`Use hard clipping in SAM records.`))

	memCmd.Flags().BoolP("debug", "", false,
		formatFlagUsage(`Print debug information (chains and extension scores).`))

	memCmd.SetUsageTemplate(usageTemplate("[flags] -d <index dir> [read file(s)]"))
}
