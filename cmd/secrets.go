package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/penf-meetings/pkg/secrets"
)

// NewSecretsCommand creates the 'secrets' command group.
func NewSecretsCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage API keys in the system keyring",
		Long: `Manage API keys stored in the ` + secrets.Description() + `.

Environment variables (OPENAI_API_KEY, EXPO_ACCESS_TOKEN) always take
precedence over the keyring.`,
	}

	cmd.AddCommand(newSecretsSetCommand(deps))
	cmd.AddCommand(newSecretsDeleteCommand(deps))
	cmd.AddCommand(newSecretsListCommand(deps))

	return cmd
}

func newSecretsSetCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "set <name>",
		Short:   "Store a secret in the keyring",
		Example: `  penf-meetings secrets set openai-api-key`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !secrets.Known(name) {
				return fmt.Errorf("unknown secret %q", name)
			}

			fmt.Fprintf(deps.Out, "%s: ", name)
			value, err := readSecret(cmd.InOrStdin())
			fmt.Fprintln(deps.Out)
			if err != nil {
				return fmt.Errorf("reading %s: %w", name, err)
			}
			if value == "" {
				return fmt.Errorf("no value provided")
			}

			if err := deps.Secrets(true).Set(name, value); err != nil {
				return err
			}
			fmt.Fprintf(deps.Out, "Stored %s (%s)\n", name, secrets.Mask(value))
			return nil
		},
	}
}

func newSecretsDeleteCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a secret from the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !secrets.Known(name) {
				return fmt.Errorf("unknown secret %q", name)
			}
			if err := deps.Secrets(true).Delete(name); err != nil {
				return err
			}
			fmt.Fprintf(deps.Out, "Deleted %s\n", name)
			return nil
		},
	}
}

func newSecretsListCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show which secrets are available",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := deps.Secrets(true)
			for _, name := range []string{secrets.OpenAIAPIKey, secrets.ExpoAccessToken} {
				value, err := store.Get(name)
				switch {
				case errors.Is(err, secrets.ErrNotFound):
					fmt.Fprintf(deps.Out, "  %-20s not set\n", name)
				case err != nil:
					fmt.Fprintf(deps.Out, "  %-20s error: %v\n", name, err)
				default:
					fmt.Fprintf(deps.Out, "  %-20s %s\n", name, secrets.Mask(value))
				}
			}
			return nil
		},
	}
}

// readSecret reads a line without echo when in is a terminal.
func readSecret(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
