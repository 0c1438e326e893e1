package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/testmaster/testmaster/internal/server"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show the access token of the local server",
	Long: `Show the access token written by the running server.

Mutating endpoints require the token, sent as a header, a cookie or the
token query parameter.

Example:
  testmaster token`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tokenFile := cfg.TokenPath()

	data, err := os.ReadFile(tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no server running. Start with: testmaster serve")
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}

	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return fmt.Errorf("token file is empty. Restart the server with: testmaster serve")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Token: %s\n", tok)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Send it as the %s header or open %s/api/session?token=%s\n", server.TokenHeader, serverURL, tok)
	return nil
}
