// Package prompt reads secrets from the controlling terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrCancelled is returned when input ends before a line is read.
var ErrCancelled = errors.New("prompt cancelled")

// Password prints label to stderr and reads a line without echo.
// When stdin is not a terminal the line is read as-is.
func Password(label string) (string, error) {
	return password(os.Stdin, os.Stderr, label)
}

func password(in *os.File, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	defer fmt.Fprintln(out)

	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return string(b), nil
	}
	return readLine(in)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", ErrCancelled
	}
	return strings.TrimRight(line, "\r\n"), nil
}
