package cmd

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/boostd/internal/api"
	"github.com/Dicklesworthstone/boostd/internal/coordinator"
)

var loginCmd = &cobra.Command{
	Use:   "login <account>",
	Short: "Start a session for a registered account",
	Long: `Ask the daemon to sign an account in. <account> is an account id or username.

The login completes in the background. Watch "boostd status" or the /events
stream; if the remote asks for a challenge code, answer it with
"boostd challenge".

Examples:
  boostd login alice
  boostd login alice --code 12345   # send a challenge code up-front`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromFlags()
		if err != nil {
			return err
		}
		code, _ := cmd.Flags().GetString("code")

		var resp api.LoginResponse
		err = client.do(cmd.Context(), http.MethodPost, "/sessions",
			api.LoginRequest{Account: args[0], TwoFactorCode: code}, &resp)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Login started for %s (session %s, %s)\n",
			args[0], resp.SessionID, resp.State)
		return nil
	},
}

var challengeCmd = &cobra.Command{
	Use:   "challenge <account> [code]",
	Short: "Answer a pending challenge",
	Long: `Submit the challenge code a login is waiting for. When the code is not
given as an argument it is read from the terminal without echo.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromFlags()
		if err != nil {
			return err
		}

		code := ""
		if len(args) == 2 {
			code = args[1]
		} else {
			code, err = promptSecret(fmt.Sprintf("Challenge code for %s: ", args[0]))
			if err != nil {
				return err
			}
		}
		code = strings.TrimSpace(code)
		if code == "" {
			return fmt.Errorf("challenge code required")
		}

		err = client.do(cmd.Context(), http.MethodPost, sessionPath(args[0], "challenge"),
			api.ChallengeRequest{Code: code}, nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Challenge code submitted for %s (%s)\n",
			args[0], coordinator.RedactCode(code))
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <account>",
	Short: "Stop an account's session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromFlags()
		if err != nil {
			return err
		}
		if err := client.do(cmd.Context(), http.MethodDelete, sessionPath(args[0], ""), nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", args[0])
		return nil
	},
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Declare or clear activity for an active session",
}

var activitySetCmd = &cobra.Command{
	Use:   "set <account> <id>...",
	Short: "Replace the declared activity set",
	Long: `Replace the activity set of an ACTIVE session. Ids that are not
non-negative integers are ignored; at least one must be valid.

Examples:
  boostd activity set alice 730 440`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromFlags()
		if err != nil {
			return err
		}

		items := make([]string, 0, len(args)-1)
		for _, arg := range args[1:] {
			items = append(items, strings.Split(arg, ",")...)
		}

		var resp api.ActivityResponse
		err = client.do(cmd.Context(), http.MethodPut, sessionPath(args[0], "activity"),
			map[string][]string{"items": items}, &resp)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Activity for %s: %s\n", args[0], formatIDs(resp.Activity))
		return nil
	},
}

var activityClearCmd = &cobra.Command{
	Use:   "clear <account>",
	Short: "Clear the declared activity set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromFlags()
		if err != nil {
			return err
		}
		var resp api.ClearActivityResponse
		if err := client.do(cmd.Context(), http.MethodDelete, sessionPath(args[0], "activity"), nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared activity for %s (was %s)\n", args[0], formatIDs(resp.PreviousActivity))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [account]",
	Short: "Show live sessions",
	Long: `Show live sessions, or a single account's session.

Use --format json or --format yaml for machine-readable output.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromFlags()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")

		var sessions []coordinator.Snapshot
		if len(args) == 1 {
			var snap coordinator.Snapshot
			if err := client.do(cmd.Context(), http.MethodGet, sessionPath(args[0], ""), nil, &snap); err != nil {
				return err
			}
			sessions = []coordinator.Snapshot{snap}
		} else {
			var status api.StatusResponse
			if err := client.do(cmd.Context(), http.MethodGet, "/status", nil, &status); err != nil {
				return err
			}
			sessions = status.Sessions
		}

		if format != "table" {
			return writeFormatted(cmd.OutOrStdout(), format, sessions)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderSessions(sessions))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, challengeCmd, stopCmd, activityCmd, statusCmd)
	activityCmd.AddCommand(activitySetCmd, activityClearCmd)

	loginCmd.Flags().String("code", "", "challenge code to send with the login")
	statusCmd.Flags().String("format", "table", "output format: table, json or yaml")
}

func sessionPath(account, suffix string) string {
	p := "/sessions/" + url.PathEscape(account)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// secretInput is where prompts read from.
var secretInput = os.Stdin

// promptSecret reads a secret from the terminal without echo.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(secretInput.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}

	// Piped input.
	reader := bufio.NewReader(secretInput)
	secret, err := reader.ReadString('\n')
	if err != nil && secret == "" {
		return "", err
	}
	return strings.TrimRight(secret, "\r\n"), nil
}
