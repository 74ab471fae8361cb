package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/splunk/learning-labs-portal/pkg/crypto"
)

func newHashPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for METRICS_PASSWORD_HASH",
		Args:  cobra.NoArgs,
		RunE:  runHashPassword,
	}
	cmd.Flags().String("password", "", "Password (supply to avoid prompt)")
	return cmd
}

func runHashPassword(cmd *cobra.Command, _ []string) error {
	secret, _ := cmd.Flags().GetString("password")
	if strings.TrimSpace(secret) == "" {
		var err error
		secret, err = readPassword(cmd)
		if err != nil {
			return err
		}
	}
	hash, err := crypto.HashPassword(secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

// readPassword prompts on a terminal without echo, or reads the first line
// of piped input.
func readPassword(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		bytes, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprint(cmd.ErrOrStderr(), "\n")
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(bytes), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
