package ffmpeg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/shlex"
)

var ErrReservedOption = errors.New("option is reserved")

// reservedOptions are set by Args and may not be passed by the user.
var reservedOptions = map[string]bool{
	"-hide_banner": true,
	"-y":           true,
	"-n":           true,
	"-loglevel":    true,
	"-v":           true,
	"-progress":    true,
	"-nostats":     true,
	"-stats":       true,
}

// SplitOptions splits an option string the way a POSIX shell would,
// without running one.
func SplitOptions(s string) ([]string, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("invalid option syntax: %w", err)
	}
	return args, nil
}

// ValidateOptions rejects options that would break the progress or
// overwrite handling.
func ValidateOptions(args []string) error {
	for _, arg := range args {
		if reservedOptions[arg] {
			return fmt.Errorf("%w: %s", ErrReservedOption, arg)
		}
	}
	return nil
}

// BuildOptions combines the --options string with the options given after
// "--" and validates the result.
func BuildOptions(options string, trailing []string) ([]string, error) {
	args, err := SplitOptions(options)
	if err != nil {
		return nil, err
	}
	args = append(args, trailing...)
	if err := ValidateOptions(args); err != nil {
		return nil, err
	}
	return args, nil
}

// QuoteArgs joins args into a single line a POSIX shell would split back
// into the same arguments.
func QuoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if arg != "" && !strings.ContainsAny(arg, " \t\n'\"\\$`|&;<>()*?[]{}#~!") {
			quoted[i] = arg
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
