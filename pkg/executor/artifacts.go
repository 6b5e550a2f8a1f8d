package executor

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// artifactExtensions are the file types harvested from a report directory.
var artifactExtensions = map[string]bool{
	".html": true,
	".json": true,
	".xml":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webm": true,
	".mp4":  true,
	".zip":  true,
	".txt":  true,
}

// HarvestArtifacts walks the report directory and returns every artifact
// path found, sorted. Walk errors skip the offending entry: a partially
// written report tree (e.g. after a timeout kill) still yields whatever is
// on disk.
func HarvestArtifacts(reportDir string) []string {
	var artifacts []string
	_ = filepath.WalkDir(reportDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if artifactExtensions[strings.ToLower(filepath.Ext(path))] {
			artifacts = append(artifacts, path)
		}
		return nil
	})
	sort.Strings(artifacts)
	return artifacts
}
