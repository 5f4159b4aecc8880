package transcode

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var ErrExecutableNotFound = errors.New("transcoder executable not found")

// Placeholders recognized in command templates. Values are substituted
// verbatim; a placeholder with no entry in the variable map is left
// untouched so callers must omit unused ones entirely.
//
//	%s input path        %p output path
//	%t title             %a artist            %l album
//	%f format            %b max bitrate (kbps)
//	%o time offset (s)   %d duration (s)
//	%w width             %h height
//	%v average video bitrate (kbps)
//	%r suitable audio bitrate (kbps)
//	%x audio track index
//	%i HLS segment index %n HLS segment filename pattern
var placeholders = map[byte]bool{
	's': true, 'p': true, 't': true, 'a': true, 'l': true, 'f': true,
	'b': true, 'o': true, 'd': true, 'w': true, 'h': true, 'v': true,
	'r': true, 'x': true, 'i': true, 'n': true,
}

// Render splits a command template into argv form and substitutes
// placeholder values. The first token is the executable and is resolved
// against transcodeDir (then as an absolute path, then on $PATH) before
// any substitution; an unresolved executable makes the chain not
// runnable.
func Render(template string, vars map[string]string, transcodeDir string) ([]string, error) {
	tokens := splitCommand(template)
	if len(tokens) == 0 {
		return nil, errors.New("empty command template")
	}

	executable, err := resolveExecutable(tokens[0], transcodeDir)
	if err != nil {
		return nil, err
	}

	argv := make([]string, 0, len(tokens))
	argv = append(argv, executable)
	for _, token := range tokens[1:] {
		argv = append(argv, substitute(token, vars))
	}
	return argv, nil
}

// IsRunnable reports whether every step of the rule resolves to a
// locatable executable.
func IsRunnable(steps []string, transcodeDir string) bool {
	for _, step := range steps {
		tokens := splitCommand(step)
		if len(tokens) == 0 {
			return false
		}
		if _, err := resolveExecutable(tokens[0], transcodeDir); err != nil {
			return false
		}
	}
	return len(steps) > 0
}

// substitute replaces placeholders in a single left-to-right pass, so
// substituted values are never re-scanned (a filename pattern like
// "segment%d.ts" supplied for %n stays intact).
func substitute(token string, vars map[string]string) string {
	var out strings.Builder
	for i := 0; i < len(token); i++ {
		if token[i] == '%' && i+1 < len(token) && placeholders[token[i+1]] {
			if value, ok := vars[token[i:i+2]]; ok {
				out.WriteString(value)
				i++
				continue
			}
		}
		out.WriteByte(token[i])
	}
	return out.String()
}

// splitCommand tokenizes a template shell-style: whitespace separates
// tokens, double quotes group a token containing spaces.
func splitCommand(template string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range template {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case !inQuotes && (r == ' ' || r == '\t'):
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func resolveExecutable(name, transcodeDir string) (string, error) {
	if transcodeDir != "" {
		candidate := filepath.Join(transcodeDir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	if filepath.IsAbs(name) {
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			return name, nil
		}
		return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, name)
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, name)
}
