package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dreamteam/internal/auth"
	cl "dreamteam/internal/cli"
	"dreamteam/internal/config"
	"dreamteam/internal/market"
	"dreamteam/internal/syncq"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "dt",
		Short:        "Dream Team football manager client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newHomeCmd(&apiBase),
		newTeamCmd(&apiBase),
		newPlayerCmd(&apiBase),
		newMarketCmd(&apiBase),
		newAdminCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func saveSession(s auth.Session) error {
	return cl.SaveSession(cl.Session{
		AccessToken: s.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(s.ExpiresIn) * time.Second),
		UserID:      s.User.ID,
		Username:    s.User.Username,
		Email:       s.User.Email,
	})
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			username, err := promptRequired("Username")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			confirm, err := promptPassword("Confirm password")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, auth.SignupInput{
				Email:           email,
				Username:        username,
				Password:        password,
				PasswordConfirm: confirm,
			})
			if err != nil {
				return err
			}
			if err := saveSession(session); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Welcome, %s. Run `dt team create` to pick your squad.", session.User.Username))
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login [email|username]",
		Short: "Login with email or username",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cred string
			if len(args) > 0 {
				cred = strings.TrimSpace(args[0])
			} else {
				var err error
				if cred, err = promptRequired("Email or username"); err != nil {
					return err
				}
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, cred, password)
			if err != nil {
				return err
			}
			if err := saveSession(session); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newHomeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "home",
		Short:   "Show your team and squad",
		Aliases: []string{"dash"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			view, err := newClient(apiBase).Home(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderHome(view)
			return nil
		},
	}
}

func newTeamCmd(apiBase *string) *cobra.Command {
	team := &cobra.Command{
		Use:   "team",
		Short: "Create or edit your team",
	}

	var createCountry string
	create := &cobra.Command{
		Use:   "create [name]",
		Short: "Create your team with a generated squad",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			name, err := argOrPrompt(args, 0, "Team name")
			if err != nil {
				return err
			}
			country, err := flagOrPrompt(createCountry, "Country")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).CreateTeam(ctx, sess.AccessToken, name, country)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("%s is ready with %s in the bank.", out.Name, money(out.CashAvailable)))
			return nil
		},
	}
	create.Flags().StringVar(&createCountry, "country", "", "team country")

	var editCountry string
	edit := &cobra.Command{
		Use:   "edit [name]",
		Short: "Rename your team or change its country",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			name, err := argOrPrompt(args, 0, "Team name")
			if err != nil {
				return err
			}
			country, err := flagOrPrompt(editCountry, "Country")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).EditTeam(ctx, sess.AccessToken, name, country)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Team is now %s (%s).", out.Name, out.Country))
			return nil
		},
	}
	edit.Flags().StringVar(&editCountry, "country", "", "team country")

	team.AddCommand(create, edit)
	return team
}

func newPlayerCmd(apiBase *string) *cobra.Command {
	player := &cobra.Command{
		Use:   "player",
		Short: "Edit players in your squad",
	}
	player.AddCommand(&cobra.Command{
		Use:   "edit [player-id]",
		Short: "Rename a player or change their country",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			id, err := int64FromArgOrPrompt(args, 0, "Player ID")
			if err != nil {
				return err
			}
			first, err := promptRequired("First name")
			if err != nil {
				return err
			}
			last, err := promptRequired("Last name")
			if err != nil {
				return err
			}
			country, err := promptRequired("Country")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).EditPlayer(ctx, sess.AccessToken, id, first, last, country)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Player %d is now %s (%s).", out.ID, out.FullName(), out.Country))
			return nil
		},
	})
	return player
}

func newMarketCmd(apiBase *string) *cobra.Command {
	m := &cobra.Command{
		Use:     "market",
		Short:   "Transfer market commands",
		Aliases: []string{"transfers"},
	}

	m.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show players on the transfer list",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			offers, err := newClient(apiBase).Offers(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderOffers(offers)
			return nil
		},
	})

	m.AddCommand(&cobra.Command{
		Use:   "sell [player-id] [price]",
		Short: "Put one of your players on the transfer list",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			id, err := int64FromArgOrPrompt(args, 0, "Player ID")
			if err != nil {
				return err
			}
			price, err := argOrPrompt(args, 1, "Asking price")
			if err != nil {
				return err
			}
			if _, err := market.ParsePrice(price); err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).List(ctx, sess.AccessToken, id, price, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           "/v1/market/listings",
					Body:           cl.ListBody(id, price),
					IdempotencyKey: idem,
				})
			}
			printSuccess(out.Message)
			return nil
		},
	})

	m.AddCommand(&cobra.Command{
		Use:   "cancel [player-id]",
		Short: "Take a player off the transfer list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			id, err := int64FromArgOrPrompt(args, 0, "Player ID")
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Cancel(ctx, sess.AccessToken, id, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodDelete,
					Path:           cl.CancelPath(id),
					IdempotencyKey: idem,
				})
			}
			printSuccess(out.Message)
			return nil
		},
	})

	m.AddCommand(&cobra.Command{
		Use:   "buy [player-id]",
		Short: "Buy a listed player at the asking price",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			id, err := int64FromArgOrPrompt(args, 0, "Player ID")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Purchase(ctx, sess.AccessToken, id, uuid.NewString())
			if err != nil {
				return err
			}
			renderPurchase(out)
			return nil
		},
	})

	m.AddCommand(&cobra.Command{
		Use:   "browse",
		Short: "Browse the transfer list interactively; Enter buys",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			return runBrowser(cmd.Context(), newClient(apiBase), sess)
		},
	})

	return m
}

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Admin lookups",
	}
	admin.AddCommand(&cobra.Command{
		Use:   "users",
		Short: "List every username",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			names, err := newClient(apiBase).AdminUsers(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			accent.Printf("\n== USERS (%d) ==\n", len(names))
			for _, n := range names {
				fmt.Println(n)
			}
			fmt.Println()
			return nil
		},
	})
	admin.AddCommand(&cobra.Command{
		Use:   "lookup [email|username]",
		Short: "Show one user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			cred, err := argOrPrompt(args, 0, "Email or username")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			u, err := newClient(apiBase).AdminLookup(ctx, sess.AccessToken, cred)
			if err != nil {
				return err
			}
			renderUser(u)
			return nil
		},
	})
	return admin
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay transfer list changes queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining, replayed := syncq.Replay(ctx, queue, func(ctx context.Context, q syncq.Command) syncq.Outcome {
				out, err := client.Do(ctx, q.Method, q.Path, sess.AccessToken, q.Body, q.IdempotencyKey)
				switch {
				case err == nil:
					if msg, ok := out["message"].(string); ok {
						printSuccess(msg)
					}
					return syncq.Done
				case cl.IsNetworkError(err):
					printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
					return syncq.Retry
				default:
					printWarn(fmt.Sprintf("Dropped %s %s: %v", q.Method, q.Path, err))
					return syncq.Done
				}
			})
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", replayed, len(remaining)))
			return nil
		},
	}
}

// queueOnNetworkError keeps a write that never reached the API for `dt sync`.
// API refusals are returned as they are.
func queueOnNetworkError(err error, cmd syncq.Command) error {
	if !cl.IsNetworkError(err) {
		return err
	}
	if qerr := syncq.Push(cmd); qerr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", qerr)
	}
	printWarn(fmt.Sprintf("API unreachable (%v). Queued; run `dt sync` when back online.", err))
	return nil
}

func argOrPrompt(args []string, idx int, label string) (string, error) {
	if len(args) > idx && strings.TrimSpace(args[idx]) != "" {
		return strings.TrimSpace(args[idx]), nil
	}
	return promptRequired(label)
}

func flagOrPrompt(value, label string) (string, error) {
	if v := strings.TrimSpace(value); v != "" {
		return v, nil
	}
	return promptRequired(label)
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}
