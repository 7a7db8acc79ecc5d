//go:build !unix

package tunnel

import (
	"io"
	"os"
)

func stdio() (io.ReadCloser, io.WriteCloser) {
	return os.Stdin, os.Stdout
}
