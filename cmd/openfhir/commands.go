package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/mapping"
	"github.com/vitagroupag/openFHIR-sub001/stream"
	"github.com/vitagroupag/openFHIR-sub001/worker"
)

func toOpenEHRCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "to-openehr <file>...",
		Short: "Translate FHIR resources or Bundles into openEHR compositions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templateID, _ := cmd.Flags().GetString("template")
			flat, _ := cmd.Flags().GetBool("flat")
			return a.translate(cmd.Context(), args, worker.Job{
				Direction:  openfhir.ToOpenEHR,
				TemplateID: templateID,
				Flat:       flat,
			})
		},
	}
	cmd.Flags().StringP("template", "t", "", "Template id (default: selected by context condition)")
	cmd.Flags().Bool("flat", false, "Emit a flat instead of a canonical composition")
	return cmd
}

func toFHIRCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "to-fhir <file>...",
		Short: "Translate flat or canonical openEHR compositions into FHIR Bundles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templateID, _ := cmd.Flags().GetString("template")
			return a.translate(cmd.Context(), args, worker.Job{
				Direction:  openfhir.ToFHIR,
				TemplateID: templateID,
			})
		},
	}
	cmd.Flags().StringP("template", "t", "", "Template id (default: read from the composition)")
	return cmd
}

// translate runs proto once per input, printing each output to stdout and
// its report to stderr in text mode.
func (a *app) translate(ctx context.Context, args []string, proto worker.Job) error {
	eng, _, err := a.cfg.engine()
	if err != nil {
		return err
	}

	failed := false
	outputs := make([]TranslationOutput, 0, len(args))
	for _, in := range readInputs(args, a.stdin) {
		var (
			out    []byte
			result *openfhir.Result
		)
		start := time.Now()
		err := in.err
		if err == nil {
			job := proto
			job.ID, job.Payload = in.name, in.data
			out, result, err = eng.Translate(ctx, job)
		}
		o := newOutput(in.name, proto.Direction, out, result, err, time.Since(start))
		if !o.OK {
			failed = true
		}

		if a.cfg.Output == OutputJSON {
			outputs = append(outputs, o)
			continue
		}
		if len(out) > 0 {
			fmt.Fprintln(a.out, string(out))
		}
		if !a.quiet || !o.OK {
			printTextResult(a.err, o, a.quiet)
		}
	}

	if a.cfg.Output == OutputJSON {
		if err := printJSON(a.out, outputs); err != nil {
			return err
		}
	}
	if failed {
		return errFailed
	}
	return nil
}

func batchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <file>...",
		Short: "Translate many payloads concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			direction, _ := cmd.Flags().GetString("direction")
			templateID, _ := cmd.Flags().GetString("template")
			flat, _ := cmd.Flags().GetBool("flat")

			dir, err := parseDirection(direction)
			if err != nil {
				return err
			}
			return a.batch(cmd.Context(), args, worker.Job{Direction: dir, TemplateID: templateID, Flat: flat})
		},
	}
	cmd.Flags().StringP("direction", "d", string(openfhir.ToOpenEHR), "Direction: toOpenEHR, toFHIR")
	cmd.Flags().StringP("template", "t", "", "Template id for every input")
	cmd.Flags().Bool("flat", false, "Emit flat compositions (toOpenEHR only)")
	return cmd
}

func parseDirection(s string) (openfhir.Direction, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "")) {
	case "toopenehr", "openehr":
		return openfhir.ToOpenEHR, nil
	case "tofhir", "fhir":
		return openfhir.ToFHIR, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

func (a *app) batch(ctx context.Context, args []string, proto worker.Job) error {
	eng, _, err := a.cfg.engine()
	if err != nil {
		return err
	}

	var (
		jobs     []worker.Job
		outputs  []TranslationOutput
		failed   bool
		inputErr = map[string]error{}
	)
	for _, in := range readInputs(args, a.stdin) {
		if in.err != nil {
			inputErr[in.name] = in.err
			outputs = append(outputs, newOutput(in.name, proto.Direction, nil, nil, in.err, 0))
			failed = true
			continue
		}
		job := proto
		job.ID, job.Payload = in.name, in.data
		jobs = append(jobs, job)
	}

	br := eng.Batch(ctx, jobs)
	for _, r := range br.Results {
		o := newOutput(r.ID, proto.Direction, r.Output, r.Result, r.Error, time.Duration(r.Duration))
		if !o.OK {
			failed = true
		}
		outputs = append(outputs, o)
	}

	if a.cfg.Output == OutputJSON {
		if err := printJSON(a.out, outputs); err != nil {
			return err
		}
	} else {
		for _, o := range outputs {
			if !a.quiet || !o.OK {
				printTextResult(a.out, o, a.quiet)
			}
		}
		fmt.Fprintf(a.out, "Total: %d, Succeeded: %d, Failed: %d, Duration: %s\n",
			br.TotalJobs+len(inputErr), br.CompletedJobs-br.FailedJobs, br.FailedJobs+len(inputErr),
			time.Duration(br.TotalDuration).Round(time.Microsecond))
	}
	if failed {
		return errFailed
	}
	return nil
}

// LintOutput is the lint report of one context mapping.
type LintOutput struct {
	Template    string             `json:"template,omitempty"`
	Error       string             `json:"error,omitempty"`
	Diagnostics []DiagnosticOutput `json:"diagnostics,omitempty"`
}

// DiagnosticOutput is one mapping diagnostic.
type DiagnosticOutput struct {
	Code    string `json:"code"`
	Model   string `json:"model,omitempty"`
	Mapping string `json:"mapping,omitempty"`
	Message string `json:"message"`
}

func lintCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Check the loaded mappings and report diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dump, _ := cmd.Flags().GetBool("dump")
			strict, _ := cmd.Flags().GetBool("strict")
			return a.lint(cmd.Context(), dump, strict)
		},
	}
	cmd.Flags().Bool("dump", false, "Dump the merged model mappings of every context")
	cmd.Flags().Bool("strict", false, "Treat diagnostics as errors")
	return cmd
}

func (a *app) lint(ctx context.Context, dump, strict bool) error {
	eng, store, err := a.cfg.engine()
	if err != nil {
		return err
	}
	models, err := store.Models(ctx)
	if err != nil {
		return err
	}
	contexts, err := store.Contexts(ctx)
	if err != nil {
		return err
	}

	reports := []LintOutput{{Diagnostics: diagnostics(mapping.Lint(models))}}
	for _, c := range contexts {
		report := LintOutput{Template: openfhir.NormalizeTemplateID(c.TemplateID())}
		entry, err := eng.Registry().Get(ctx, c.TemplateID())
		if err != nil {
			report.Error = err.Error()
			reports = append(reports, report)
			continue
		}
		report.Diagnostics = diagnostics(entry.Diagnostics)
		reports = append(reports, report)
		if dump && a.cfg.Output == OutputText {
			fmt.Fprintf(a.out, "== %s mappers ==\n", report.Template)
			spew.Fdump(a.out, entry.Mappers)
		}
	}

	failed := false
	for _, r := range reports {
		if r.Error != "" || (strict && len(r.Diagnostics) > 0) {
			failed = true
		}
	}

	if a.cfg.Output == OutputJSON {
		if err := printJSON(a.out, reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			printLintResult(a.out, r, strict)
		}
	}
	if failed {
		return errFailed
	}
	return nil
}

func diagnostics(list []mapping.Diagnostic) []DiagnosticOutput {
	out := make([]DiagnosticOutput, 0, len(list))
	for _, d := range list {
		out = append(out, DiagnosticOutput{
			Code:    string(d.Code),
			Model:   d.Model,
			Mapping: d.Mapping,
			Message: d.Message,
		})
	}
	return out
}

func printLintResult(w io.Writer, r LintOutput, strict bool) {
	name := r.Template
	if name == "" {
		name = "models"
	}
	status := "OK"
	if r.Error != "" || (strict && len(r.Diagnostics) > 0) {
		status = "FAILED"
	}
	fmt.Fprintf(w, "== %s ==\n", name)
	fmt.Fprintf(w, "Status: %s\n", status)
	if r.Error != "" {
		fmt.Fprintf(w, "  ERROR %s\n", r.Error)
	}
	label := "WARN "
	if strict {
		label = "ERROR"
	}
	for _, d := range r.Diagnostics {
		fmt.Fprintf(w, "  %s [%s] %s (%s/%s)\n", label, d.Code, d.Message, d.Model, d.Mapping)
	}
	fmt.Fprintln(w)
}

func streamCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream <file>",
		Short: "Translate the resources of a large Bundle or NDJSON export one by one",
		Long: `Translate the entries of a FHIR Bundle, or the lines of an NDJSON bulk
export with --ndjson, into one composition per resource. Compositions are
written to stdout one per line in input order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templateID, _ := cmd.Flags().GetString("template")
			flat, _ := cmd.Flags().GetBool("flat")
			ndjson, _ := cmd.Flags().GetBool("ndjson")
			return a.stream(cmd.Context(), args[0], ndjson, worker.Job{
				Direction:  openfhir.ToOpenEHR,
				TemplateID: templateID,
				Flat:       flat,
			})
		},
	}
	cmd.Flags().StringP("template", "t", "", "Template id (default: selected by context condition)")
	cmd.Flags().Bool("flat", false, "Emit flat instead of canonical compositions")
	cmd.Flags().Bool("ndjson", false, "Read one resource per line")
	return cmd
}

func (a *app) stream(ctx context.Context, name string, ndjson bool, proto worker.Job) error {
	eng, _, err := a.cfg.engine()
	if err != nil {
		return err
	}

	var r io.Reader = a.stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	tr := stream.NewTranslator(eng, proto).WithWorkerCount(eng.Options().WorkerCount)
	var results <-chan *stream.EntryResult
	if ndjson {
		results = tr.TranslateNDJSON(ctx, r)
	} else {
		results = tr.TranslateBundle(ctx, r)
	}

	start := time.Now()
	summary := stream.Aggregate(results, func(res *stream.EntryResult) {
		label := res.FullURL
		if label == "" {
			label = fmt.Sprintf("%s#%d", name, res.Index)
		}
		o := newOutput(label, proto.Direction, res.Output, res.Result, res.Error, 0)
		if a.cfg.Output == OutputJSON {
			data, err := json.Marshal(o)
			if err == nil {
				fmt.Fprintln(a.out, string(data))
			}
			return
		}
		if len(res.Output) > 0 {
			fmt.Fprintln(a.out, string(res.Output))
		}
		if !o.OK || (!a.quiet && len(o.Issues) > 0) {
			printTextResult(a.err, o, a.quiet)
		}
	})

	if a.cfg.Output == OutputText {
		fmt.Fprintf(a.err, "Total: %d, Translated: %d, Errors: %d, Warnings: %d, Duration: %s\n",
			summary.TotalEntries, summary.Translated, summary.EntriesWithErrors, summary.EntriesWithWarnings,
			time.Since(start).Round(time.Microsecond))
	}
	if summary.HasErrors() {
		return errFailed
	}
	return nil
}
