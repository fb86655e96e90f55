// Package main implements the openfhir CLI, which translates FHIR resources
// to openEHR compositions and back using FHIR Connect mappings.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

// errFailed signals that at least one input failed; details were printed.
var errFailed = errors.New("one or more inputs failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// app is the state shared by the subcommands.
type app struct {
	cfg   *Config
	quiet bool
	out   io.Writer
	err   io.Writer
	stdin io.Reader
}

func newRootCmd() *cobra.Command {
	a := &app{out: os.Stdout, err: os.Stderr, stdin: os.Stdin}

	rootCmd := &cobra.Command{
		Use:   "openfhir",
		Short: "Translate between FHIR and openEHR with FHIR Connect mappings",
		Long: `openfhir - FHIR Connect mapping engine

Examples:
  openfhir --set blood_pressure to-openehr observation.json
  openfhir --mappings ./mappings to-fhir --output json composition.json
  cat bundle.json | openfhir --mappings ./mappings to-openehr --flat -
  openfhir --mappings ./mappings batch --direction toFHIR compositions/*.json
  openfhir --mappings ./mappings stream --ndjson --flat Observation.ndjson
  openfhir --mappings ./mappings lint --dump`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			cfg.setupLogger()
			a.cfg = cfg
			a.out = cmd.OutOrStdout()
			a.err = cmd.ErrOrStderr()
			a.stdin = cmd.InOrStdin()
			return nil
		},
	}
	addConfigFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Only print output, errors and warnings")

	rootCmd.AddCommand(toOpenEHRCmd(a))
	rootCmd.AddCommand(toFHIRCmd(a))
	rootCmd.AddCommand(batchCmd(a))
	rootCmd.AddCommand(streamCmd(a))
	rootCmd.AddCommand(lintCmd(a))
	return rootCmd
}

// input is one payload named on the command line.
type input struct {
	name string
	data []byte
	err  error
}

// readInputs reads the files named by args. "-" reads stdin and other
// arguments are glob patterns.
func readInputs(args []string, stdin io.Reader) []input {
	var inputs []input
	for _, arg := range args {
		if arg == "-" {
			data, err := io.ReadAll(stdin)
			inputs = append(inputs, input{name: "stdin", data: data, err: err})
			continue
		}

		matches, err := filepath.Glob(arg)
		if err != nil {
			inputs = append(inputs, input{name: arg, err: fmt.Errorf("bad pattern: %w", err)})
			continue
		}
		if len(matches) == 0 {
			inputs = append(inputs, input{name: arg, err: fmt.Errorf("no files match pattern: %s", arg)})
			continue
		}
		for _, match := range matches {
			data, err := os.ReadFile(match)
			inputs = append(inputs, input{name: match, data: data, err: err})
		}
	}
	return inputs
}
