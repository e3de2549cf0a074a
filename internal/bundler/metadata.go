package bundler

import (
	"path"
	"sort"
)

// BuildMetadata is the subset of the esbuild metafile the compiler reports on.
type BuildMetadata struct {
	Inputs  map[string]InputInfo  `json:"inputs"`
	Outputs map[string]OutputInfo `json:"outputs"`
}

type InputInfo struct {
	Bytes   int          `json:"bytes"`
	Imports []ImportInfo `json:"imports"`
}

type OutputInfo struct {
	Bytes      int          `json:"bytes"`
	EntryPoint string       `json:"entryPoint"`
	CSSBundle  string       `json:"cssBundle"`
	Imports    []ImportInfo `json:"imports"`
}

type ImportInfo struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

// Modules returns the sorted input paths that contributed to the build.
func (m *BuildMetadata) Modules() []string {
	modules := make([]string, 0, len(m.Inputs))
	for path := range m.Inputs {
		modules = append(modules, path)
	}
	sort.Strings(modules)
	return modules
}

// EntryOutput returns the output path produced for entryPoint and the
// stylesheet esbuild bundled alongside it, if any. Paths are relative to the
// project root, "./src/index.js" and "src/index.js" name the same entry.
func (m *BuildMetadata) EntryOutput(entryPoint string) (script, stylesheet string, ok bool) {
	entryPoint = path.Clean(entryPoint)
	for outputPath, info := range m.Outputs {
		// the extracted stylesheet records the same entry point
		if path.Ext(outputPath) != ".js" {
			continue
		}
		if path.Clean(info.EntryPoint) == entryPoint {
			return outputPath, info.CSSBundle, true
		}
	}
	return "", "", false
}
