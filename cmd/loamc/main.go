// Copyright 2025 The Loam Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// loamc drives the memory-core analysis pipeline from the command line:
// it reads source forms, runs annotation, and emits the augmented IR with
// its explicit free, safe-point, tether, and region operations.
//
// With no input it runs a read-annotate-print loop.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loamlang/loam"
	"github.com/loamlang/loam/internal/sexp"
)

var log = logrus.New()

func main() {
	var (
		compile bool
		outPath string
		expr    string
		verbose bool
	)

	root := &cobra.Command{
		Use:           "loamc [flags] [file]",
		Short:         "annotate Loam source with explicit memory operations",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			switch {
			case expr != "":
				return runOnce(expr, compile, outPath)
			case len(args) == 1:
				src, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				return runOnce(string(src), compile, outPath)
			default:
				return repl()
			}
		},
	}

	root.Flags().BoolVarP(&compile, "compile", "c", false, "emit only the annotated source, without the stats summary")
	root.Flags().StringVarP(&outPath, "output", "o", "", "output file (default stdout)")
	root.Flags().StringVarP(&expr, "expr", "e", "", "annotate a one-shot expression")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func runOnce(src string, compile bool, outPath string) error {
	core := loam.New()

	forms, err := sexp.Parse(src)
	if err != nil {
		return err
	}
	log.Debugf("parsed %d forms", len(forms))

	var out strings.Builder
	for _, form := range forms {
		annotated, err := core.Annotate(form)
		if err != nil {
			return err
		}
		out.WriteString(annotated.String())
		out.WriteByte('\n')
	}
	if !compile {
		fmt.Fprintf(&out, ";; %s\n", core.Stats())
	}

	if outPath == "" {
		_, err = os.Stdout.WriteString(out.String())
		return err
	}
	return os.WriteFile(outPath, []byte(out.String()), 0o644)
}

func repl() error {
	core := loam.New()
	in := bufio.NewScanner(os.Stdin)

	fmt.Print("loam> ")
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			fmt.Print("loam> ")
			continue
		}

		form, err := sexp.ParseOne(line)
		if err == nil {
			var annotated *loam.IR
			annotated, err = core.Annotate(form)
			if err == nil {
				fmt.Println(annotated)
			}
		}
		if err != nil {
			log.Error(err)
		}
		fmt.Print("loam> ")
	}
	fmt.Println()
	return in.Err()
}
