// Package main implements the aegis-cli command-line tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegis-project/aegis/pkg/client"
	"github.com/aegis-project/aegis/pkg/models"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getClient creates an API client from the command flags.
func getClient(cmd *cobra.Command) *client.Client {
	apiURL, _ := cmd.Root().PersistentFlags().GetString("api-url")
	token := os.Getenv("AEGIS_TOKEN")

	return client.New(client.Config{
		BaseURL: apiURL,
		Token:   token,
		Timeout: 30 * time.Second,
	})
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var rootCmd = &cobra.Command{
	Use:     "aegis-cli",
	Short:   "Aegis CLI - security core operations",
	Long:    `Aegis CLI provides command-line access to the Aegis security daemon: users, sessions, access control, policies and audit.`,
	Version: version,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(aclCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(keysCmd)

	rootCmd.PersistentFlags().String("api-url", "http://localhost:8080", "Aegis API URL")
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Authenticate and print a session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = os.Getenv("AEGIS_PASSWORD")
		}
		if password == "" {
			return fmt.Errorf("--password or AEGIS_PASSWORD is required")
		}
		mfaToken, _ := cmd.Flags().GetString("mfa-token")

		c := getClient(cmd)
		session, err := c.Login(context.Background(), client.LoginRequest{
			Username: args[0],
			Password: password,
			MFAToken: mfaToken,
		})
		if err != nil {
			return err
		}

		fmt.Printf("session %s expires %s\n", session.ID, session.ExpiresAt.Format(time.RFC3339))
		fmt.Printf("export AEGIS_TOKEN=%s\n", session.Token)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Invalidate the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getClient(cmd).Logout(context.Background()); err != nil {
			return err
		}
		fmt.Println("logged out")
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User management",
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a new user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		roles, _ := cmd.Flags().GetStringSlice("roles")
		if password == "" {
			return fmt.Errorf("--password is required")
		}

		user, err := getClient(cmd).CreateUser(context.Background(), client.CreateUserRequest{
			Username: args[0],
			Email:    email,
			Password: password,
			Roles:    roles,
		})
		if err != nil {
			return err
		}
		return printJSON(user)
	},
}

var userGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := getClient(cmd).GetUser(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(user)
	},
}

var userMFACmd = &cobra.Command{
	Use:   "enable-mfa <id>",
	Short: "Enable MFA for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := getClient(cmd).EnableMFA(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("MFA secret: %s\n", secret)
		return nil
	},
}

var userGrantCmd = &cobra.Command{
	Use:   "grant <id> <permission>",
	Short: "Grant a direct permission (resource:action or *)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getClient(cmd).GrantPermission(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("granted")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("password", "", "Password (or set AEGIS_PASSWORD)")
	loginCmd.Flags().String("mfa-token", "", "One-time MFA code")

	userCreateCmd.Flags().String("email", "", "Email address")
	userCreateCmd.Flags().String("password", "", "Initial password")
	userCreateCmd.Flags().StringSlice("roles", nil, "Roles (comma separated)")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userGetCmd)
	userCmd.AddCommand(userMFACmd)
	userCmd.AddCommand(userGrantCmd)
}

var aclCmd = &cobra.Command{
	Use:   "acl",
	Short: "Access control entries",
}

var aclSetCmd = &cobra.Command{
	Use:   "set <resource-pattern>",
	Short: "Store or replace an ACL entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		permissions, _ := cmd.Flags().GetStringSlice("permissions")
		roles, _ := cmd.Flags().GetStringSlice("roles")

		err := getClient(cmd).SetAccessEntry(context.Background(), client.SetAccessEntryRequest{
			Resource:    args[0],
			Permissions: permissions,
			Roles:       roles,
		})
		if err != nil {
			return err
		}
		fmt.Println("stored")
		return nil
	},
}

var aclListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ACL entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := getClient(cmd).ListAccessEntries(context.Background())
		if err != nil {
			return err
		}
		return printJSON(entries)
	},
}

var aclCheckCmd = &cobra.Command{
	Use:   "check <user-id> <resource> <action>",
	Short: "Check whether a user may perform an action",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		allowed, err := getClient(cmd).CheckAccess(context.Background(), client.CheckAccessRequest{
			UserID:   args[0],
			Resource: args[1],
			Action:   args[2],
		})
		if err != nil {
			return err
		}
		if allowed {
			fmt.Println("allowed")
		} else {
			fmt.Println("denied")
		}
		return nil
	},
}

func init() {
	aclSetCmd.Flags().StringSlice("permissions", nil, "Permitted actions (or *)")
	aclSetCmd.Flags().StringSlice("roles", nil, "Eligible roles")

	aclCmd.AddCommand(aclSetCmd)
	aclCmd.AddCommand(aclListCmd)
	aclCmd.AddCommand(aclCheckCmd)
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Security policies",
}

var policyCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a policy from a JSON rules file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rulesFile, _ := cmd.Flags().GetString("rules-file")
		enforcement, _ := cmd.Flags().GetString("enforcement")
		level, _ := cmd.Flags().GetString("level")

		var rules []models.PolicyRule
		if rulesFile != "" {
			data, err := os.ReadFile(rulesFile)
			if err != nil {
				return fmt.Errorf("read rules file: %w", err)
			}
			if err := json.Unmarshal(data, &rules); err != nil {
				return fmt.Errorf("parse rules file: %w", err)
			}
		}

		pol, err := getClient(cmd).CreatePolicy(context.Background(), client.CreatePolicyRequest{
			Name:        args[0],
			Level:       level,
			Rules:       rules,
			Enforcement: models.PolicyEnforcement(strings.ToLower(enforcement)),
			Active:      true,
		})
		if err != nil {
			return err
		}
		return printJSON(pol)
	},
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		policies, err := getClient(cmd).ListPolicies(context.Background())
		if err != nil {
			return err
		}
		return printJSON(policies)
	},
}

func init() {
	policyCreateCmd.Flags().String("rules-file", "", "JSON file with the policy rules")
	policyCreateCmd.Flags().String("enforcement", "blocking", "Enforcement mode (advisory|blocking)")
	policyCreateCmd.Flags().String("level", "", "Policy level label")

	policyCmd.AddCommand(policyCreateCmd)
	policyCmd.AddCommand(policyListCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail",
}

var auditRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show recent security events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		events, err := getClient(cmd).RecentEvents(context.Background(), limit)
		if err != nil {
			return err
		}
		return printJSON(events)
	},
}

func init() {
	auditRecentCmd.Flags().Int("limit", 20, "Maximum number of events")
	auditCmd.AddCommand(auditRecentCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the security status summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := getClient(cmd).Status(context.Background())
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Encryption key lifecycle",
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate all encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		rotated, err := getClient(cmd).RotateKeys(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("rotated %d keys: %s\n", len(rotated), strings.Join(rotated, ", "))
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysRotateCmd)
}
