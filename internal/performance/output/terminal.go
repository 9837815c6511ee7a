package output

import (
	"os"

	"github.com/mattn/go-isatty"
)

// checkIsTerminal checks if the file is a terminal.
func checkIsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
