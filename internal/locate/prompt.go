package locate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"meshpatch/internal/config"
)

// ErrPromptClosed reports that the prompt input ended before an answer.
var ErrPromptClosed = errors.New("prompt input closed")

// LinePrompter reads one answer per line from In after writing the question
// to Out.
type LinePrompter struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// Prompt writes message and reads a path. An empty line declines.
func (p *LinePrompter) Prompt(ctx context.Context, message string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	if _, err := fmt.Fprint(p.Out, message); err != nil {
		return "", false, err
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", false, ErrPromptClosed
		}
		return "", false, err
	}
	answer := strings.Trim(strings.TrimSpace(line), `"'`)
	if answer == "" {
		return "", false, nil
	}
	expanded, err := config.ExpandPath(answer)
	if err != nil {
		return "", false, err
	}
	return expanded, true, nil
}
