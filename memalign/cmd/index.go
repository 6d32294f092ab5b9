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
	"regexp"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/memalign/memalign/cmd/fmindex"
	"github.com/shenwei356/memalign/memalign/cmd/refseq"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the reference index from FASTA files",
	Long: `Build the reference index from FASTA files

Input:
  1. Input plain or gzipped FASTA files can be given via positional
     arguments or the flag -X/--infile-list with the list of input files.
  2. Or a directory containing sequence files via the flag -I/--in-dir,
     with multiple-level sub-directories allowed. A regular expression
     for matching sequence files is available via the flag -r/--file-regexp.

Index files:
  The output directory contains the 2-bit packed reference (` + FileRefSeq + `),
  the FM-index with its sampled suffix array (` + FileFMIndex + `), and a summary
  file (` + FileInfo + `).

Attention:
  1. All sequences are concatenated; ambiguous bases are replaced with
     pseudo-random nucleotides, with their original locations recorded.
  2. Both strands are indexed, so reverse-complement hits need no second
     pass at alignment time.

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
		// basic flags

		saIntv := getFlagPositiveInt(cmd, "sa-interval")
		if saIntv&(saIntv-1) != 0 {
			checkError(fmt.Errorf("the value of flag -s/--sa-interval should be a power of 2: %d", saIntv))
		}

		outDir := getFlagString(cmd, "out-dir")
		force := getFlagBool(cmd, "force")
		skipFileCheck := getFlagBool(cmd, "skip-file-check")

		if outDir == "" {
			checkError(fmt.Errorf("flag -O/--out-dir is needed"))
		}

		var err error

		inDir := getFlagString(cmd, "in-dir")

		outDir = filepath.Clean(outDir)

		if filepath.Clean(inDir) == outDir {
			checkError(fmt.Errorf("input and output paths should not be the same: %s", outDir))
		}

		readFromDir := inDir != ""
		if readFromDir {
			var isDir bool
			isDir, err = pathutil.IsDir(inDir)
			if err != nil {
				checkError(errors.Wrapf(err, "checking -I/--in-dir"))
			}
			if !isDir {
				checkError(fmt.Errorf("value of -I/--in-dir should be a directory: %s", inDir))
			}
		}

		reFileStr := getFlagString(cmd, "file-regexp")
		var reFile *regexp.Regexp
		if reFileStr != "" {
			if !reIgnoreCase.MatchString(reFileStr) {
				reFileStr = reIgnoreCaseStr + reFileStr
			}
			reFile, err = regexp.Compile(reFileStr)
			checkError(errors.Wrapf(err, "failed to parse regular expression for matching file: %s", reFileStr))
		}

		// ---------------------------------------------------------------
		// out dir

		makeOutDir(outDir, force, "out-dir", opt.Verbose || opt.Log2File)

		// ---------------------------------------------------------------
		// input files

		if opt.Verbose || opt.Log2File {
			log.Infof("memalign v%s", VERSION)
			log.Info("  https://github.com/shenwei356/memalign")
			log.Info()

			log.Info("checking input files ...")
		}

		var files []string
		if readFromDir {
			files, err = getFileListFromDir(inDir, reFile, opt.NumCPUs)
			if err != nil {
				checkError(errors.Wrapf(err, "walking dir: %s", inDir))
			}
			if len(files) == 0 {
				log.Warningf("  no files matching regular expression: %s", reFileStr)
			}
		} else {
			files = getFileListFromArgsAndFile(cmd, args, !skipFileCheck, "infile-list", !skipFileCheck)
			if opt.Verbose || opt.Log2File {
				if len(files) == 1 && isStdin(files[0]) {
					log.Info("  no files given, reading from stdin")
				}
			}
		}
		if len(files) < 1 {
			checkError(fmt.Errorf("FASTA files needed"))
		} else if opt.Verbose || opt.Log2File {
			log.Infof("  %d input file(s) given", len(files))
		}

		if opt.Verbose || opt.Log2File {
			log.Info()
			log.Infof("-------------------- [main parameters] --------------------")
			log.Infof("  output directory: %s", outDir)
			log.Infof("  suffix array sampling interval: %d", saIntv)
			log.Infof("-------------------- [main parameters] --------------------")
			log.Info()
			log.Infof("reading sequences ...")
		}

		// ---------------------------------------------------------------
		// packing the reference

		var pbs *mpb.Progress
		var bar *mpb.Bar
		var fileDone func(file string)
		if opt.Verbose && !opt.Log2File {
			pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
			bar = pbs.AddBar(int64(len(files)),
				mpb.PrependDecorators(
					decor.Name("processed files: ", decor.WC{W: len("processed files: "), C: decor.DindentRight}),
					decor.Name("", decor.WCSyncSpaceR),
					decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
				),
				mpb.AppendDecorators(
					decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
					decor.EwmaETA(decor.ET_STYLE_GO, 3),
					decor.OnComplete(decor.Name(""), ". done"),
				),
			)
			last := time.Now()
			fileDone = func(file string) {
				bar.EwmaIncrBy(1, time.Since(last))
				last = time.Now()
			}
		}

		ref, err := refseq.LoadFasta(files, fileDone)
		if pbs != nil {
			pbs.Wait()
		}
		checkError(err)

		if opt.Verbose || opt.Log2File {
			log.Infof("  %d sequence(s) packed, %d bases in total", len(ref.Anns), ref.LPac)
			log.Infof("building the FM-index ...")
		}

		// ---------------------------------------------------------------
		// FM-index over both strands

		timeIndex := time.Now()
		idx := fmindex.NewFMIndex(ref.FMText(), saIntv)
		if opt.Verbose || opt.Log2File {
			log.Infof("  FM-index of %d positions built in %s", idx.SeqLen, time.Since(timeIndex))
			log.Infof("writing index files ...")
		}

		checkError(ref.WriteToFile(filepath.Join(outDir, FileRefSeq)))
		checkError(idx.WriteToFile(filepath.Join(outDir, FileFMIndex)))

		info := &IndexInfo{
			MainVersion:  refseq.MainVersion,
			MinorVersion: refseq.MinorVersion,

			SAInterval: saIntv,

			InputFiles: len(files),
			Sequences:  len(ref.Anns),
			InputBases: ref.LPac,
		}
		checkError(writeIndexInfo(filepath.Join(outDir, FileInfo), info))

		if opt.Verbose || opt.Log2File {
			log.Infof("finished building the index in %s from %d file(s) with %d sequence(s)",
				time.Since(timeStart), len(files), len(ref.Anns))
			log.Infof("index saved to: %s", outDir)
		}
	},
}

func init() {
	RootCmd.AddCommand(indexCmd)

	indexCmd.Flags().StringP("in-dir", "I", "",
		formatFlagUsage(`Directory containing FASTA files. Directory and file symlinks are followed.`))

	indexCmd.Flags().StringP("file-regexp", "r", `\.(f[aq](st[aq])?|fna)(\.gz)?$`,
		formatFlagUsage(`Regular expression for matching sequence files in -I/--in-dir, case ignored.`))

	indexCmd.Flags().StringP("out-dir", "O", "",
		formatFlagUsage(`Output directory of the index.`))

	indexCmd.Flags().BoolP("force", "", false,
		formatFlagUsage(`Overwrite existing output directory.`))

	indexCmd.Flags().IntP("sa-interval", "s", 32,
		formatFlagUsage(`Suffix array sampling interval (power of 2). Smaller values trade memory for speed.`))

	indexCmd.Flags().BoolP("skip-file-check", "S", false,
		formatFlagUsage(`Skip input file checking when given files or a file list.`))

	indexCmd.SetUsageTemplate(usageTemplate("[flags] [-I dir] [-O out-dir] [file ...]"))
}
