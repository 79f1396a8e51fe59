package variables

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Value templates carry positional format specifiers in the {:spec}
// syntax, e.g. {:s}, {:d}, {:03d}, {:.2f}. The specifier set is closed;
// anything else is a declaration error.
var specPattern = regexp.MustCompile(`\{:([0-9.]*)([sdfb])\}`)

// CountSpecifiers returns the number of positional specifiers in a
// template.
func CountSpecifiers(template string) int {
	return len(specPattern.FindAllString(template, -1))
}

// FormatValue applies every positional specifier in template to the same
// raw value. A repeated specifier is bound, not multiplied, mirroring
// repeated <<name>> references.
func FormatValue(template, raw string) (string, error) {
	var formatErr error

	out := specPattern.ReplaceAllStringFunc(template, func(spec string) string {
		m := specPattern.FindStringSubmatch(spec)

		formatted, err := applySpec(m[1], m[2], raw)
		if err != nil && formatErr == nil {
			formatErr = err
		}

		return formatted
	})

	if formatErr != nil {
		return "", formatErr
	}

	return out, nil
}

func applySpec(width, verb, raw string) (string, error) {
	switch verb {
	case "s":
		return raw, nil
	case "d":
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return "", fmt.Errorf("%w: %q is not an integer", ErrFormatSpecifier, raw)
		}

		if width == "" {
			return strconv.Itoa(n), nil
		}

		w, err := strconv.Atoi(strings.TrimPrefix(width, "0"))
		if err != nil || strings.Contains(width, ".") {
			return "", fmt.Errorf("%w: bad integer width %q", ErrFormatSpecifier, width)
		}

		if strings.HasPrefix(width, "0") {
			return fmt.Sprintf("%0*d", w, n), nil
		}

		return fmt.Sprintf("%*d", w, n), nil
	case "f":
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return "", fmt.Errorf("%w: %q is not a float", ErrFormatSpecifier, raw)
		}

		prec := 6
		if strings.HasPrefix(width, ".") {
			p, err := strconv.Atoi(width[1:])
			if err != nil {
				return "", fmt.Errorf("%w: bad precision %q", ErrFormatSpecifier, width)
			}

			prec = p
		}

		return strconv.FormatFloat(f, 'f', prec, 64), nil
	case "b":
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return "", fmt.Errorf("%w: %q is not a bool", ErrFormatSpecifier, raw)
		}

		return strconv.FormatBool(b), nil
	default:
		return "", fmt.Errorf("%w: unknown verb %q", ErrFormatSpecifier, verb)
	}
}

// ValidateTemplate checks a value template against the variable's base
// values: at least one positional specifier when base values exist, and
// none when the variable is sourced by templating alone.
func ValidateTemplate(template string, hasBaseValues bool) error {
	count := CountSpecifiers(template)

	if hasBaseValues && count < 1 {
		return fmt.Errorf("%w: template %q has no positional specifier for its base values",
			ErrFormatSpecifier, template)
	}

	if !hasBaseValues && count > 0 {
		return fmt.Errorf("%w: template %q has positional specifiers but no base values",
			ErrFormatSpecifier, template)
	}

	// Reject any brace construct the specifier set does not cover, e.g.
	// {:x} or a bare {}.
	stripped := specPattern.ReplaceAllString(template, "")
	if strings.Contains(stripped, "{:") || strings.Contains(stripped, "{}") {
		return fmt.Errorf("%w: template %q contains an unsupported specifier",
			ErrFormatSpecifier, template)
	}

	return nil
}
