package bare

import "runtime"

// Maintainer is the optional contact block of the Instance Manifest.
type Maintainer struct {
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
}

// Project describes the running implementation for the Instance Manifest.
type Project struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Repository  string `json:"repository,omitempty"`
	Version     string `json:"version"`
}

// Manifest is the JSON document served at GET <mount prefix> (§3, §6.5).
type Manifest struct {
	Versions    []string    `json:"versions"`
	Language    string      `json:"language"`
	MemoryUsage float64     `json:"memoryUsage,omitempty"`
	Maintainer  *Maintainer `json:"maintainer,omitempty"`
	Project     Project     `json:"project"`
}

// NewManifest builds a Manifest, sampling current heap usage in MiB.
func NewManifest(project Project, maintainer *Maintainer) Manifest {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Manifest{
		Versions:    []string{"v1", "v2", "v3"},
		Language:    "go",
		MemoryUsage: float64(mem.Alloc) / (1024 * 1024),
		Maintainer:  maintainer,
		Project:     project,
	}
}
