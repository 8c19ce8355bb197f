package batch

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Summary counts the outcomes of one run.
type Summary struct {
	Total             int
	Processed         int
	Successful        int
	PipelineFallback  int
	GeometricFallback int
	SkippedExisting   int
	Errors            map[string]int
	Elapsed           time.Duration
	Interrupted       bool
}

func newSummary() *Summary {
	return &Summary{Errors: make(map[string]int)}
}

func (s *Summary) add(out Outcome) {
	s.Processed++
	switch out.Annotator {
	case AnnotatorPipeline:
		s.Successful++
	case AnnotatorPipelineFallback:
		s.PipelineFallback++
	default:
		s.GeometricFallback++
		kind := out.ErrorKind
		if kind == "" {
			kind = "unknown_error"
		}
		s.Errors[kind]++
	}
}

func (s *Summary) counts() map[string]int {
	return map[string]int{
		"processed":          s.Processed,
		"successful":         s.Successful,
		"pipeline_fallback":  s.PipelineFallback,
		"geometric_fallback": s.GeometricFallback,
	}
}

// Write prints the final report.
func (s *Summary) Write(w io.Writer, outputDir string) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(w, rule)
	if s.Interrupted {
		fmt.Fprintln(w, "BATCH PREDICTION INTERRUPTED")
	} else {
		fmt.Fprintln(w, "BATCH PREDICTION COMPLETE")
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Total processed:     %d\n", s.Processed)
	if s.Processed > 0 {
		fmt.Fprintf(w, "Successful:          %d (%.1f%%)\n", s.Successful, float64(s.Successful)/float64(s.Processed)*100)
	} else {
		fmt.Fprintln(w, "Successful:          0")
	}
	fmt.Fprintf(w, "Pipeline fallback:   %d\n", s.PipelineFallback)
	fmt.Fprintf(w, "Geometric fallback:  %d\n", s.GeometricFallback)
	fmt.Fprintf(w, "Skipped (existing):  %d\n", s.SkippedExisting)
	fmt.Fprintf(w, "Total time:          %s\n", FormatDuration(s.Elapsed))
	if s.Processed > 0 {
		fmt.Fprintf(w, "Avg time per image:  %.1fs\n", s.Elapsed.Seconds()/float64(s.Processed))
	} else {
		fmt.Fprintln(w, "Avg time per image:  N/A")
	}

	if len(s.Errors) > 0 {
		fmt.Fprintln(w, "\nError Summary:")
		kinds := make([]string, 0, len(s.Errors))
		for k := range s.Errors {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool {
			if s.Errors[kinds[i]] != s.Errors[kinds[j]] {
				return s.Errors[kinds[i]] > s.Errors[kinds[j]]
			}
			return kinds[i] < kinds[j]
		})
		for _, k := range kinds {
			fmt.Fprintf(w, "  %s: %d\n", k, s.Errors[k])
		}
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Predictions saved to: %s\n", outputDir)
}

// FormatDuration renders d as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
