package results

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/me/foamrun/pkg/model"
)

// WriteReport writes the plain-text summary consumed by downstream tooling.
func WriteReport(path string, s *model.CoefficientSample) error {
	var sb strings.Builder
	sb.WriteString("OpenFOAM Simulation Results\n")
	sb.WriteString(strings.Repeat("=", 30) + "\n")
	writeValues(&sb, s)
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Print writes the console rendition of s.
func Print(w io.Writer, s *model.CoefficientSample) {
	rule := strings.Repeat("=", 40)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "SIMULATION RESULTS")
	fmt.Fprintln(w, rule)
	writeValues(w, s)
	fmt.Fprintln(w, rule)
}

func writeValues(w io.Writer, s *model.CoefficientSample) {
	fmt.Fprintf(w, "Time: %.6f\n", s.Time)
	fmt.Fprintf(w, "Drag Coefficient (Cd): %.6f\n", s.Cd)
	fmt.Fprintf(w, "Lift Coefficient (Cl): %.6f\n", s.Cl)
	fmt.Fprintf(w, "Moment Coefficient (Cm): %.6f\n", s.Cm)
}
