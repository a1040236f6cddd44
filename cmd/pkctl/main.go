package main

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/org/passkeeper/internal/crypto"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:           "pkctl",
	Short:         "passkeeper CLI",
	Long:          "A CLI for managing stored credentials in a passkeeper server.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(entryCmds()...)
	rootCmd.AddCommand(keygenCmd())
}

// readSecret prompts for a value without echo when stdin is a terminal.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimRight(scanner.Text(), "\r\n"), scanner.Err()
}

// --- auth ---

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Account and session commands"}

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			email, _ := cmd.Flags().GetString("email")
			password, err := readSecret("Master password: ")
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.post("/api/auth/register", map[string]any{
				"username": username,
				"email":    email,
				"password": password,
			})
			if err != nil {
				return err
			}
			return storeSession(result)
		},
	}
	registerCmd.Flags().String("username", "", "Username")
	registerCmd.Flags().String("email", "", "Email address")
	registerCmd.MarkFlagRequired("username") //nolint:errcheck
	registerCmd.MarkFlagRequired("email")    //nolint:errcheck

	loginCmd := &cobra.Command{
		Use:   "login <username-or-email>",
		Short: "Log in and save the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readSecret("Master password: ")
			if err != nil {
				return err
			}
			client := newClient()
			result, err := client.post("/api/auth/login", map[string]any{
				"identifier": args[0],
				"password":   password,
			})
			if err != nil {
				return err
			}
			return storeSession(result)
		},
	}

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke the saved session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/api/auth/logout", nil); err != nil {
				return err
			}
			cfg.Token = ""
			if err := saveConfig(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current account",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/api/auth/profile")
			if err != nil {
				return err
			}
			if user, ok := result["user"].(map[string]any); ok {
				printResult(user)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	passwdCmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the master password",
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := readSecret("Current password: ")
			if err != nil {
				return err
			}
			next, err := readSecret("New password: ")
			if err != nil {
				return err
			}
			confirm, err := readSecret("Repeat new password: ")
			if err != nil {
				return err
			}
			if next != confirm {
				return fmt.Errorf("passwords do not match")
			}
			if _, err := newClient().put("/api/auth/password", map[string]any{
				"current_password": current,
				"new_password":     next,
			}); err != nil {
				return err
			}
			printSuccess("Password changed.")
			return nil
		},
	}

	cmd.AddCommand(registerCmd, loginCmd, logoutCmd, whoamiCmd, passwdCmd)
	return cmd
}

func storeSession(result map[string]any) error {
	tok, ok := result["token"].(string)
	if !ok {
		return fmt.Errorf("server returned no token")
	}
	cfg.Token = tok
	if user, ok := result["user"].(map[string]any); ok {
		cfg.Username, _ = user["username"].(string)
	}
	if err := saveConfig(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Token saved to config.")
	printSuccess(fmt.Sprintf("Logged in as %s (expires %v)", cfg.Username, result["expires_at"]))
	return nil
}

// --- entries ---

func entryCmds() []*cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if v, _ := cmd.Flags().GetString("category"); v != "" {
				q.Set("category", v)
			}
			if v, _ := cmd.Flags().GetString("search"); v != "" {
				q.Set("q", v)
			}
			if v, _ := cmd.Flags().GetBool("favorites"); v {
				q.Set("favorites", "true")
			}
			path := "/api/passwords"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			result, err := newClient().get(path)
			if err != nil {
				return err
			}
			entries, _ := result["passwords"].([]any)
			printEntries(os.Stdout, entries)
			return nil
		},
	}
	listCmd.Flags().String("category", "", "Only entries in this category")
	listCmd.Flags().String("search", "", "Match title, url or username")
	listCmd.Flags().Bool("favorites", false, "Only favorites")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a credential with its password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			result, err := newClient().get(fmt.Sprintf("/api/passwords/%d", id))
			if err != nil {
				return err
			}
			if e, ok := result["password"].(map[string]any); ok {
				printResult(e)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	addCmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Store a new credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"title": args[0]}
			for _, f := range []string{"url", "username", "notes", "category"} {
				v, _ := cmd.Flags().GetString(f)
				body[f] = v
			}
			body["is_favorite"], _ = cmd.Flags().GetBool("favorite")
			password, err := readSecret("Password to store: ")
			if err != nil {
				return err
			}
			body["password"] = password

			result, err := newClient().post("/api/passwords", body)
			if err != nil {
				return err
			}
			if e, ok := result["password"].(map[string]any); ok {
				printSuccess(fmt.Sprintf("Stored entry %v.", e["id"]))
				return nil
			}
			printResult(result)
			return nil
		},
	}
	addCmd.Flags().String("url", "", "Site URL (http or https)")
	addCmd.Flags().String("username", "", "Login name on the site")
	addCmd.Flags().String("notes", "", "Free-form notes, stored encrypted")
	addCmd.Flags().String("category", "", "Category (default General)")
	addCmd.Flags().Bool("favorite", false, "Mark as favorite")
	addCmd.MarkFlagRequired("url")      //nolint:errcheck
	addCmd.MarkFlagRequired("username") //nolint:errcheck

	editCmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			body := map[string]any{}
			for _, f := range []string{"title", "url", "username", "notes", "category"} {
				if cmd.Flags().Changed(f) {
					body[f], _ = cmd.Flags().GetString(f)
				}
			}
			if cmd.Flags().Changed("favorite") {
				body["is_favorite"], _ = cmd.Flags().GetBool("favorite")
			}
			if change, _ := cmd.Flags().GetBool("password"); change {
				password, err := readSecret("New password to store: ")
				if err != nil {
					return err
				}
				body["password"] = password
			}
			if len(body) == 0 {
				return fmt.Errorf("nothing to change")
			}
			if _, err := newClient().put(fmt.Sprintf("/api/passwords/%d", id), body); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Updated entry %d.", id))
			return nil
		},
	}
	editCmd.Flags().String("title", "", "New title")
	editCmd.Flags().String("url", "", "New URL")
	editCmd.Flags().String("username", "", "New login name")
	editCmd.Flags().String("notes", "", "New notes (empty clears them)")
	editCmd.Flags().String("category", "", "New category")
	editCmd.Flags().Bool("favorite", false, "Favorite flag")
	editCmd.Flags().Bool("password", false, "Prompt for a new stored password")

	deleteCmd := &cobra.Command{
		Use:   "delete <id> [id ...]",
		Short: "Delete one or more credentials",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			client := newClient()
			if len(ids) == 1 {
				if err := client.delete(fmt.Sprintf("/api/passwords/%d", ids[0]), nil); err != nil {
					return err
				}
				printSuccess("Success! Entry deleted.")
				return nil
			}
			result, err := client.post("/api/passwords/bulk-delete", map[string]any{"ids": ids})
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Success! %v entries deleted.", result["deleted"]))
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show vault statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/api/passwords/stats")
			if err != nil {
				return err
			}
			if st, ok := result["stats"].(map[string]any); ok {
				printResult(st)
				return nil
			}
			printResult(result)
			return nil
		},
	}

	categoriesCmd := &cobra.Command{
		Use:   "categories",
		Short: "List categories with entry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/api/passwords/categories")
			if err != nil {
				return err
			}
			cats, _ := result["categories"].([]any)
			for _, c := range cats {
				if m, ok := c.(map[string]any); ok {
					fmt.Printf("%v\t%v\n", m["category"], m["count"])
				}
			}
			return nil
		},
	}

	return []*cobra.Command{listCmd, getCmd, addCmd, editCmd, deleteCmd, statsCmd, categoriesCmd}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid entry id %q", s)
	}
	return id, nil
}

// --- keygen ---

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random 256-bit key for encryption_key or jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
}
