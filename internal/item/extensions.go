package item

import "strings"

// NormalizeExtensions makes sure every extension starts with a '.' and
// drops empty entries.
func NormalizeExtensions(extensions []string) []string {
	var ext []string
	for _, extension := range extensions {
		if len(extension) == 0 {
			continue
		}
		if !strings.HasPrefix(extension, ".") {
			extension = "." + extension
		}
		ext = append(ext, extension)
	}
	return ext
}

// HasExtension reports whether name ends in one of the normalized
// extensions, ignoring case.
func HasExtension(name string, extensions []string) bool {
	for _, ext := range extensions {
		if len(name) >= len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext) {
			return true
		}
	}
	return false
}
