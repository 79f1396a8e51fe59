package variables

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValueFileName is the on-disk name of a variable's value file.
func ValueFileName(name, ext string) string {
	return "var_" + name + ext
}

// WriteValueFiles materializes the matrix under dir: one plain-text file
// per column, one row's value per line. Jobscripts bind each file to a
// distinct descriptor and read one line per iteration.
//
// Files are written through a temporary name and renamed into place so a
// concurrent reader on the shared filesystem never sees a partial file,
// and repeated writes of the same matrix produce identical bytes.
func WriteValueFiles(m *Matrix, dir, ext string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create value directory %s: %w", dir, err)
	}

	for _, name := range m.Names {
		var b strings.Builder

		for _, v := range m.Columns[name] {
			b.WriteString(v)
			b.WriteByte('\n')
		}

		path := filepath.Join(dir, ValueFileName(name, ext))
		tmp := path + ".tmp"

		if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
			return fmt.Errorf("failed to write value file for %q: %w", name, err)
		}

		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("failed to move value file for %q into place: %w", name, err)
		}
	}

	return nil
}
