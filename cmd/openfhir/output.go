package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
)

// TranslationOutput represents the JSON output structure
type TranslationOutput struct {
	Input      string          `json:"input"`
	Direction  string          `json:"direction"`
	Template   string          `json:"template,omitempty"`
	OK         bool            `json:"ok"`
	Errors     int             `json:"errors"`
	Warnings   int             `json:"warnings"`
	Info       int             `json:"info"`
	Archetypes []string        `json:"archetypes,omitempty"`
	Issues     []IssueOutput   `json:"issues,omitempty"`
	Duration   string          `json:"duration"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// IssueOutput represents a single issue in JSON output
type IssueOutput struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics"`
	Mapping     string `json:"mapping,omitempty"`
	Path        string `json:"path,omitempty"`
}

// newOutput summarizes one translation. err is the translation error, if
// any; result may be nil when the translation failed early.
func newOutput(name string, dir openfhir.Direction, out []byte, result *openfhir.Result, err error, d time.Duration) TranslationOutput {
	o := TranslationOutput{
		Input:     name,
		Direction: string(dir),
		OK:        err == nil,
		Duration:  d.Round(time.Microsecond).String(),
	}
	if result != nil {
		o.Template = result.TemplateID
		o.Archetypes = result.Archetypes
		o.OK = o.OK && !result.HasErrors()
		for _, iss := range result.Issues {
			switch iss.Severity {
			case openfhir.SeverityFatal, openfhir.SeverityError:
				o.Errors++
			case openfhir.SeverityWarning:
				o.Warnings++
			default:
				o.Info++
			}
			o.Issues = append(o.Issues, IssueOutput{
				Severity:    string(iss.Severity),
				Code:        string(iss.Code),
				Diagnostics: iss.Diagnostics,
				Mapping:     iss.Mapping,
				Path:        iss.Path,
			})
		}
	}
	if err != nil {
		o.Errors++
		o.Issues = append(o.Issues, IssueOutput{
			Severity:    string(openfhir.SeverityFatal),
			Code:        string(openfhir.CodeProcessing),
			Diagnostics: err.Error(),
		})
	}
	if len(out) > 0 && json.Valid(out) {
		o.Output = out
	}
	return o
}

func printTextResult(w io.Writer, o TranslationOutput, quiet bool) {
	status := "OK"
	if !o.OK {
		status = "FAILED"
	}

	fmt.Fprintf(w, "== %s ==\n", o.Input)
	fmt.Fprintf(w, "Status: %s\n", status)
	fmt.Fprintf(w, "Errors: %d, Warnings: %d, Info: %d\n", o.Errors, o.Warnings, o.Info)
	if o.Template != "" {
		fmt.Fprintf(w, "Template: %s\n", o.Template)
	}
	if len(o.Archetypes) > 0 {
		fmt.Fprintf(w, "Archetypes: %s\n", strings.Join(o.Archetypes, ", "))
	}
	fmt.Fprintf(w, "Duration: %s\n", o.Duration)

	if len(o.Issues) > 0 {
		fmt.Fprintln(w, "\nIssues:")
		for _, iss := range o.Issues {
			if quiet && iss.Severity == string(openfhir.SeverityInformation) {
				continue
			}
			location := ""
			if iss.Path != "" {
				location = " @ " + iss.Path
			}
			mapping := ""
			if iss.Mapping != "" {
				mapping = " (" + iss.Mapping + ")"
			}
			fmt.Fprintf(w, "  %s [%s] %s%s%s\n", severityLabel(iss.Severity), iss.Code, iss.Diagnostics, mapping, location)
		}
	}

	fmt.Fprintln(w)
}

func severityLabel(severity string) string {
	switch openfhir.IssueSeverity(severity) {
	case openfhir.SeverityFatal:
		return "FATAL"
	case openfhir.SeverityError:
		return "ERROR"
	case openfhir.SeverityWarning:
		return "WARN "
	case openfhir.SeverityInformation:
		return "INFO "
	default:
		return "     "
	}
}

// printJSON writes v indented.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
