package credentials

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// Prompter reads the passphrase interactively when it was not configured.
type Prompter struct {
	Stdin  io.Reader
	Stderr io.Writer

	// reader is shared across prompts so piped input is not lost to
	// read-ahead.
	reader *bufio.Reader
}

// NewPrompter returns a Prompter on the process stdin/stderr.
func NewPrompter() *Prompter {
	return &Prompter{Stdin: os.Stdin, Stderr: os.Stderr}
}

// Passphrase returns configured when it is set (environment, .env or SSM,
// already resolved by the config loader). Otherwise it asks on the terminal
// without echo, or reads one line when stdin is not a terminal.
func (p *Prompter) Passphrase(configured types.SecretString) (types.SecretString, error) {
	if !configured.IsZero() {
		return configured, nil
	}
	s, err := p.ReadSecret("Credential passphrase: ")
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", types.NewAppError(types.ErrCodeWrongPassphrase, "empty passphrase", nil)
	}
	return types.SecretString(s), nil
}

// ReadSecret prints prompt and reads one line without echo when possible.
func (p *Prompter) ReadSecret(prompt string) (string, error) {
	fmt.Fprint(p.Stderr, prompt)

	if f, ok := p.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return string(b), nil
	}

	if p.reader == nil {
		p.reader = bufio.NewReader(p.Stdin)
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadLine prints prompt and reads one echoed line.
func (p *Prompter) ReadLine(prompt string) (string, error) {
	fmt.Fprint(p.Stderr, prompt)
	if p.reader == nil {
		p.reader = bufio.NewReader(p.Stdin)
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
