package cmd

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-credentials/app/entity"
	"github.com/vibast-solutions/ms-go-credentials/app/repository"
)

var errUserNotFound = errors.New("user not found")

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Inspect and administer user accounts",
}

var userShowCmd = &cobra.Command{
	Use:   "show <email>",
	Short: "Show account state without revealing secrets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd.Context(), args[0], func(_ *repository.UserRepository, user *entity.User) error {
			printUser(cmd.OutOrStdout(), user, time.Now())
			return nil
		})
	},
}

var userTwoFACmd = &cobra.Command{
	Use:       "2fa <enable|disable> <email>",
	Short:     "Turn the emailed second factor on or off for an account",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"enable", "disable"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled bool
		switch args[0] {
		case "enable":
			enabled = true
		case "disable":
		default:
			return fmt.Errorf("unknown action %q, expected enable or disable", args[0])
		}

		email := args[1]
		if !enabled {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Disable 2FA for %s?", email)) {
				return errors.New("aborted")
			}
		}

		return withUser(cmd.Context(), email, func(repo *repository.UserRepository, user *entity.User) error {
			if err := repo.SetTwoFAEnabled(cmd.Context(), user.ID, enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "two_fa_enabled: %t (%s)\n", enabled, user.Email)
			return nil
		})
	},
}

var userClearChallengesCmd = &cobra.Command{
	Use:   "clear-challenges <email>",
	Short: "Drop any pending 2FA code and reset token for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd.Context(), args[0], func(repo *repository.UserRepository, user *entity.User) error {
			if err := repo.ClearTwoFAChallenge(cmd.Context(), user.ID); err != nil {
				return err
			}
			if err := repo.ClearResetChallenge(cmd.Context(), user.Email); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pending challenges cleared for %s\n", user.Email)
			return nil
		})
	},
}

func init() {
	userTwoFACmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")

	userCmd.AddCommand(userShowCmd)
	userCmd.AddCommand(userTwoFACmd)
	userCmd.AddCommand(userClearChallengesCmd)
	rootCmd.AddCommand(userCmd)
}

func withUser(ctx context.Context, email string, fn func(*repository.UserRepository, *entity.User) error) error {
	db, err := openAdminDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	return runForUser(ctx, repository.NewUserRepository(db), email, fn)
}

func runForUser(ctx context.Context, repo *repository.UserRepository, email string, fn func(*repository.UserRepository, *entity.User) error) error {
	user, err := repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("%w: %s", errUserNotFound, email)
	}
	return fn(repo, user)
}

func printUser(w io.Writer, user *entity.User, now time.Time) {
	fmt.Fprintf(w, "id: %d\n", user.ID)
	fmt.Fprintf(w, "email: %s\n", user.Email)
	fmt.Fprintf(w, "name: %s\n", nullString(user.Name))
	fmt.Fprintf(w, "two_fa_enabled: %t\n", user.TwoFAEnabled)
	fmt.Fprintf(w, "pending_2fa: %s\n", challengeState(user.HasTwoFAChallenge(), user.TwoFAExpires.Int64, now))
	fmt.Fprintf(w, "pending_reset: %s\n", challengeState(user.HasResetChallenge(), user.ResetExpires.Int64, now))
	fmt.Fprintf(w, "created_at: %s\n", time.Unix(user.CreatedAt, 0).UTC().Format(time.RFC3339))
}

func challengeState(pending bool, expiresAt int64, now time.Time) string {
	if !pending {
		return "none"
	}
	expires := time.Unix(expiresAt, 0).UTC()
	if now.Unix() >= expiresAt {
		return "expired at " + expires.Format(time.RFC3339)
	}
	return "until " + expires.Format(time.RFC3339)
}

func nullString(s sql.NullString) string {
	if !s.Valid {
		return "-"
	}
	return s.String
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	reader := bufio.NewReader(in)
	input, _ := reader.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}
