package utils

import (
	"path/filepath"
	"strings"
)

func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	// Convert to absolute path (resolves ../../ and cleans the path)
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}

	// Get the directory containing the file
	parentDir = filepath.Dir(fullPath)

	return fullPath, parentDir, nil
}

// ReplaceExt swaps the extension of path for ext, which includes the dot.
// A path without an extension gets ext appended.
func ReplaceExt(path, ext string) string {
	old := filepath.Ext(path)
	return strings.TrimSuffix(path, old) + ext
}

// DefaultOutput picks the output file for one input the way cc does. With -S
// or -c the output lands in the working directory under the source's base
// name. A linked program is called a.out.
func DefaultOutput(input string, asmOnly, objOnly bool) string {
	switch {
	case asmOnly:
		return ReplaceExt(filepath.Base(input), ".s")
	case objOnly:
		return ReplaceExt(filepath.Base(input), ".o")
	default:
		return "a.out"
	}
}
