package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/boostd/internal/api"
	"github.com/Dicklesworthstone/boostd/internal/db"
)

var accountsCmd = &cobra.Command{
	Use:     "accounts",
	Aliases: []string{"account"},
	Short:   "Manage registered accounts",
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Register an account",
	Long: `Register an account with the daemon. The password is read from the
terminal without echo, or from the first line of stdin when it is piped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromFlags()
		if err != nil {
			return err
		}
		email, _ := cmd.Flags().GetString("email")
		displayName, _ := cmd.Flags().GetString("display-name")

		password, err := promptSecret(fmt.Sprintf("Password for %s: ", args[0]))
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("password required")
		}

		var created api.AccountView
		err = client.do(cmd.Context(), http.MethodPost, "/accounts", db.NewAccount{
			Username:    args[0],
			Password:    password,
			Email:       email,
			DisplayName: displayName,
		}, &created)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s (id %s)\n", created.Username, created.ID)
		return nil
	},
}

var accountsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered accounts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromFlags()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")

		var accounts []api.AccountView
		if err := client.do(cmd.Context(), http.MethodGet, "/accounts", nil, &accounts); err != nil {
			return err
		}
		if format != "table" {
			return writeFormatted(cmd.OutOrStdout(), format, accounts)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderAccounts(accounts))
		return nil
	},
}

var accountsShowCmd = &cobra.Command{
	Use:   "show <account>",
	Short: "Show one account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromFlags()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")

		var account api.AccountView
		if err := client.do(cmd.Context(), http.MethodGet, accountPath(args[0], ""), nil, &account); err != nil {
			return err
		}
		return writeFormatted(cmd.OutOrStdout(), format, account)
	},
}

var accountsUpdateCmd = &cobra.Command{
	Use:   "update <account>",
	Short: "Change account fields",
	Long: `Change the fields given as flags; others are left untouched.

Examples:
  boostd accounts update alice --display-name "Alice"
  boostd accounts update alice --password`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromFlags()
		if err != nil {
			return err
		}

		var u db.AccountUpdate
		if cmd.Flags().Changed("email") {
			v, _ := cmd.Flags().GetString("email")
			u.Email = &v
		}
		if cmd.Flags().Changed("display-name") {
			v, _ := cmd.Flags().GetString("display-name")
			u.DisplayName = &v
		}
		if change, _ := cmd.Flags().GetBool("password"); change {
			v, err := promptSecret(fmt.Sprintf("New password for %s: ", args[0]))
			if err != nil {
				return err
			}
			u.Password = &v
		}
		if u.Empty() {
			return fmt.Errorf("nothing to update; pass --email, --display-name or --password")
		}

		var updated api.AccountView
		if err := client.do(cmd.Context(), http.MethodPut, accountPath(args[0], ""), u, &updated); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", updated.Username)
		return nil
	},
}

var accountsRemoveCmd = &cobra.Command{
	Use:     "rm <account>",
	Aliases: []string{"remove", "delete"},
	Short:   "Remove an account, stopping its session first",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromFlags()
		if err != nil {
			return err
		}
		if err := client.do(cmd.Context(), http.MethodDelete, accountPath(args[0], ""), nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

var accountsStatsCmd = &cobra.Command{
	Use:   "stats <account>",
	Short: "Show an account's session history totals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromFlags()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")

		var stats db.AccountStats
		if err := client.do(cmd.Context(), http.MethodGet, accountPath(args[0], "stats"), nil, &stats); err != nil {
			return err
		}
		if format != "table" {
			return writeFormatted(cmd.OutOrStdout(), format, stats)
		}
		printStats(cmd.OutOrStdout(), &stats)
		return nil
	},
}

var accountsHistoryCmd = &cobra.Command{
	Use:   "history <account>",
	Short: "List an account's recent sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFromFlags()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		limit, _ := cmd.Flags().GetInt("limit")

		var records []db.SessionRecord
		path := accountPath(args[0], "sessions") + "?limit=" + strconv.Itoa(limit)
		if err := client.do(cmd.Context(), http.MethodGet, path, nil, &records); err != nil {
			return err
		}
		if format != "table" {
			return writeFormatted(cmd.OutOrStdout(), format, records)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderHistory(records))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsAddCmd, accountsListCmd, accountsShowCmd,
		accountsUpdateCmd, accountsRemoveCmd, accountsStatsCmd, accountsHistoryCmd)

	accountsAddCmd.Flags().String("email", "", "contact email")
	accountsAddCmd.Flags().String("display-name", "", "display name (default: username)")

	accountsUpdateCmd.Flags().String("email", "", "new email (empty clears it)")
	accountsUpdateCmd.Flags().String("display-name", "", "new display name")
	accountsUpdateCmd.Flags().Bool("password", false, "prompt for a new password")

	accountsListCmd.Flags().String("format", "table", "output format: table, json or yaml")
	accountsShowCmd.Flags().String("format", "yaml", "output format: json or yaml")
	accountsStatsCmd.Flags().String("format", "table", "output format: table, json or yaml")
	accountsHistoryCmd.Flags().String("format", "table", "output format: table, json or yaml")
	accountsHistoryCmd.Flags().Int("limit", 20, "number of sessions to show")
}

func accountPath(account, suffix string) string {
	p := "/accounts/" + url.PathEscape(account)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func renderAccounts(accounts []api.AccountView) string {
	if len(accounts) == 0 {
		return emptyStyle.Render("No accounts registered.")
	}
	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		lastLogin := "never"
		if a.LastLogin != nil {
			lastLogin = a.LastLogin.Local().Format("2006-01-02 15:04")
		}
		session := a.SessionState
		if session == "" {
			session = "-"
		}
		rows = append(rows, []string{a.Username, a.DisplayName, a.Status, session, lastLogin, a.ID})
	}
	return styledTable(rows, "USERNAME", "DISPLAY NAME", "STATUS", "SESSION", "LAST LOGIN", "ID")
}

func renderHistory(records []db.SessionRecord) string {
	if len(records) == 0 {
		return emptyStyle.Render("No sessions recorded.")
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		ended, duration := "-", "-"
		if r.EndedAt != nil {
			ended = r.EndedAt.Local().Format("2006-01-02 15:04")
			duration = formatDurationShort(r.EndedAt.Sub(r.StartedAt))
		}
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04"), ended, duration, r.Status, r.SessionID,
		})
	}
	return styledTable(rows, "STARTED", "ENDED", "DURATION", "STATUS", "SESSION")
}

func styledTable(rows [][]string, headers ...string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorGray)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Render()
}

func printStats(w io.Writer, s *db.AccountStats) {
	name := ""
	if s.Account != nil {
		name = s.Account.Username
	}
	fmt.Fprintln(w, headerStyle.Render(name))
	fmt.Fprintf(w, "  Sessions:           %d\n", s.TotalSessions)
	fmt.Fprintf(w, "  Activity sessions:  %d\n", s.TotalActivitySessions)
	fmt.Fprintf(w, "  Activity hours:     %.2f\n", s.TotalActivityHours)
}
