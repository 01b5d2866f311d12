package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/carbon-console/amee/internal/interfaces"
)

// ReadResponse reads r until end of stream and splits the result into lines.
// Lines starting with '{' are also collected as payload lines. It returns the
// number of bytes consumed alongside the response.
func ReadResponse(r io.Reader) (*interfaces.Response, int64, error) {
	reader := bufio.NewReader(r)
	resp := &interfaces.Response{}
	var read int64

	for {
		line, err := reader.ReadString('\n')
		read += int64(len(line))
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			resp.Lines = append(resp.Lines, line)
			if strings.HasPrefix(line, "{") {
				resp.JSONLines = append(resp.JSONLines, line)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return resp, read, nil
			}
			return resp, read, err
		}
	}
}

// IsUnauthorized reports whether the status line signals an authorization
// failure. The match ignores case, so "401 Unauthorized" counts as well as
// "401 UNAUTHORIZED".
func IsUnauthorized(resp *interfaces.Response) bool {
	return strings.Contains(strings.ToUpper(resp.StatusLine()), UnauthorizedMarker)
}
