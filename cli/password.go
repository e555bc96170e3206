package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/keyring"
	"github.com/yllada/ovpn-mgmt/mgmt"
)

// PasswordStore is the part of the credential store the CLI needs.
type PasswordStore interface {
	Get(account string) (string, error)
	Set(account, password string) error
}

// LookupPassword returns the saved password for addr, or "" when none is
// saved.
func LookupPassword(store PasswordStore, addr mgmt.Address) (string, error) {
	password, err := store.Get(keyring.AccountFor(addr))
	if errors.Is(err, common.ErrCredentialsNotFound) {
		return "", nil
	}
	return password, err
}

// StorePassword saves password for addr.
func StorePassword(store PasswordStore, addr mgmt.Address, password string) error {
	if password == "" {
		return fmt.Errorf("%w: empty password", common.ErrInvalidConfig)
	}
	return store.Set(keyring.AccountFor(addr), password)
}

// PromptPassword reads a password from the terminal without echo.
func PromptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: stdin is not a terminal", common.ErrInvalidConfig)
	}

	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
