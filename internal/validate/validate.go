package validate

import (
	"errors"
	"fmt"
	"strings"
)

// RejectionKind tags the taxonomy of a validation rejection so callers and
// metrics can distinguish them without parsing messages.
type RejectionKind string

const (
	KindCommand  RejectionKind = "command"
	KindArgument RejectionKind = "argument"
	KindCapacity RejectionKind = "capacity"
)

// RejectionError is returned for any input that fails validation. The raw
// rejected value is intentionally not carried so it cannot be reflected back
// into logs or UI responses.
type RejectionError struct {
	Kind   RejectionKind
	Index  int // failing argument index for KindArgument, -1 otherwise
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Kind == KindArgument {
		return fmt.Sprintf("rejected %s %d: %s", e.Kind, e.Index, e.Reason)
	}
	return fmt.Sprintf("rejected %s: %s", e.Kind, e.Reason)
}

// IsRejection reports whether err is a RejectionError.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// MaxArgLen bounds a single argument. Longer values are rejected outright
// rather than truncated.
const MaxArgLen = 256

// MaxArgs bounds the argument vector length for a single command.
const MaxArgs = 32

// allowedCommands is the closed set of operations the external CLI exposes
// through the shell. Adding an operation is a code change, not configuration.
var allowedCommands = map[string]struct{}{
	"status":  {},
	"version": {},
	"sync":    {},
	"build":   {},
	"check":   {},
	"doctor":  {},
	"export":  {},
}

// shellMeta lists bytes that have meaning to common shells. None of them are
// ever legitimate in arguments to the CLI, so their presence is a rejection
// even though the supervisor never invokes a shell.
const shellMeta = ";|&$`(){}[]<>*?~#!'\"\\"

// Commands returns the allow-list in no particular order.
func Commands() []string {
	out := make([]string, 0, len(allowedCommands))
	for c := range allowedCommands {
		out = append(out, c)
	}
	return out
}

// ValidateCommand accepts a command name and returns its canonical form, or a
// RejectionError when the name is not in the allow-list. Names are matched
// after trimming surrounding whitespace; nothing else is coerced.
func ValidateCommand(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", &RejectionError{Kind: KindCommand, Index: -1, Reason: "empty command name"}
	}
	if _, ok := allowedCommands[trimmed]; !ok {
		return "", &RejectionError{Kind: KindCommand, Index: -1, Reason: "not in allow-list"}
	}
	return trimmed, nil
}

// ValidateArguments checks every argument against a conservative safety
// pattern and returns a copy of the slice on success. The first failing
// argument is identified by index and reason only.
func ValidateArguments(args []string) ([]string, error) {
	if len(args) > MaxArgs {
		return nil, &RejectionError{Kind: KindArgument, Index: MaxArgs, Reason: "too many arguments"}
	}
	out := make([]string, len(args))
	for i, a := range args {
		if err := checkArgument(a); err != "" {
			return nil, &RejectionError{Kind: KindArgument, Index: i, Reason: err}
		}
		out[i] = a
	}
	return out, nil
}

// checkArgument returns a non-empty reason when a is unsafe.
func checkArgument(a string) string {
	if a == "" {
		return "empty argument"
	}
	if len(a) > MaxArgLen {
		return "argument too long"
	}
	if strings.Contains(a, "..") {
		return "path traversal sequence"
	}
	if strings.ContainsAny(a, shellMeta) {
		return "shell metacharacter"
	}
	for _, r := range a {
		if r < 0x20 || r == 0x7f {
			return "control character"
		}
		if r > 0x7e {
			return "non-printable character"
		}
		if r == ' ' {
			return "embedded whitespace"
		}
	}
	return ""
}
