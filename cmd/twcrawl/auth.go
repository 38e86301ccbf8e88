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
	"twcrawl/pkg/auth"
	"twcrawl/pkg/ui"
)

var tokenFlag string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the API bearer token",
	Long: `Manage the Twitter API bearer token.

Tokens are stored in:
  - the system keychain (when available)
  - an encrypted file with PBKDF2 key derivation
  - the TWIT_BEARER_TOKEN environment variable (read only)

A token in the config file or environment always wins over stored ones.`,
}

var setTokenCmd = &cobra.Command{
	Use:   "set-token",
	Short: "Store a bearer token",
	Example: `  # Paste the token at the prompt
  twcrawl auth set-token

  # Store it under another profile
  twcrawl auth set-token --profile research

  # Non-interactive
  echo "$TOKEN" | twcrawl auth set-token`,
	Args: cobra.NoArgs,
	RunE: runSetToken,
}

var showTokenCmd = &cobra.Command{
	Use:   "show",
	Short: "List stored tokens, masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewManager()
		if err != nil {
			return err
		}
		creds, err := manager.List()
		if err != nil {
			return err
		}
		if len(creds) == 0 {
			ui.PrintWarning("No stored tokens. Run 'twcrawl auth set-token'")
			return nil
		}
		for _, cred := range creds {
			masked := auth.Sanitize(cred)
			value := masked.BearerToken
			if !masked.LastModified.IsZero() {
				value += ui.Dim(" (saved " + masked.LastModified.Format("2006-01-02 15:04") + ")")
			}
			ui.PrintInfo(masked.Profile, value)
		}
		return nil
	},
}

var deleteTokenCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove a stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewManager()
		if err != nil {
			return err
		}
		if err := manager.Delete(profile); err != nil {
			return err
		}
		ui.PrintSuccess("Token removed")
		return nil
	},
}

var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Explain how to get a bearer token",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		auth.ShowTokenGuide(cmd.OutOrStdout())
	},
}

func init() {
	setTokenCmd.Flags().StringVar(&tokenFlag, "token", "", "token to store (visible in shell history, prefer the prompt)")

	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(setTokenCmd)
	authCmd.AddCommand(showTokenCmd)
	authCmd.AddCommand(deleteTokenCmd)
	authCmd.AddCommand(guideCmd)
}

func runSetToken(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	token := tokenFlag
	if token == "" {
		token, err = readToken(os.Stdin, cmd.OutOrStdout())
		if err != nil {
			return err
		}
	}

	where, err := manager.Store(&auth.Credential{Profile: profile, BearerToken: token})
	if err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Token %s stored in %s", auth.MaskToken(strings.TrimSpace(token)), where))
	return nil
}

// readToken prompts without echo on a terminal and reads one line otherwise
func readToken(in *os.File, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(out, "Bearer token: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return line, nil
}
