package logger

import "strings"

// stripAnsiCodes removes CSI colour sequences (ESC [ ... <letter>) so that
// pterm-styled values land in the rotated file log as plain text. A manual
// scan beats a regex here; this runs on every file-logged attribute.
func stripAnsiCodes(s string) string {
	if !strings.ContainsRune(s, '\x1b') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	inEscape := false
	for i := 0; i < len(s); i++ {
		if inEscape {
			// the terminating byte of a CSI sequence is a letter
			if (s[i] >= 'A' && s[i] <= 'Z') || (s[i] >= 'a' && s[i] <= 'z') {
				inEscape = false
			}
			continue
		}
		if s[i] == '\x1b' && i+1 < len(s) && s[i+1] == '[' {
			inEscape = true
			i++
			continue
		}
		b.WriteByte(s[i])
	}

	return b.String()
}
