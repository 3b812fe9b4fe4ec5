package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/zarniwp/cuba/internal/password"
	"github.com/zarniwp/cuba/internal/password/keychain"
)

// newPasswordProvider returns the keychain-backed provider on
// platforms that support it. Profiles that reference a password_id
// without a functioning keychain get a KindAuth error at resolve time,
// the same failure an unregistered id would produce.
func newPasswordProvider() password.Provider {
	return keychain.New()
}

// promptSecret reads a secret from the controlling terminal without
// echoing it, falling back to a plain stdin read (with a warning) when
// stdin isn't a terminal, following
// flarebyte-baldrick-rebec/cmd/admin/vault/set.go's promptSecret.
func promptSecret(prompt string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}

	fmt.Fprintln(os.Stderr, "warning: reading secret from stdin; input will not be masked")
	r := bufio.NewReader(os.Stdin)
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, os.ErrClosed) && !strings.Contains(err.Error(), "EOF") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
