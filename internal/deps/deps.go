// Package deps reports whether the external conversion tools are installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"convertd/internal/config"
)

// Requirement defines an external dependency the converters rely on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries the configured converters execute.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	conv := cfg.Converters
	return []Requirement{
		{
			Name:        "LibreOffice",
			Command:     conv.LibreOfficeBinary,
			Description: "Document and spreadsheet conversion",
			Optional:    conv.DocumentBackend == config.DocumentGotenberg,
		},
		{
			Name:        "FFmpeg",
			Command:     conv.FFmpegBinary,
			Description: "Video and audio transcoding",
		},
		{
			Name:        "FFprobe",
			Command:     conv.FFprobeBinary,
			Description: "Media output validation",
			Optional:    !conv.ValidateMediaOutput,
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Command = resolved
		status.Available = true
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the names of unavailable, non-optional dependencies.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status.Name)
		}
	}
	return missing
}
