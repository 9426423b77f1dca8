// Package main provides the progressctl command line client.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/mohametBa/UniversMurid-sub001/internal/auth"
	"github.com/mohametBa/UniversMurid-sub001/internal/offline"
	"github.com/mohametBa/UniversMurid-sub001/pkg/schema"
	"github.com/mohametBa/UniversMurid-sub001/pkg/sdk"
)

var (
	serverURL string
	token     string
	userID    string
	insecure  bool

	historyGameType string
	historyLimit    int

	tokenSecret  string
	tokenIssuer  string
	tokenSubject string
	tokenTTL     time.Duration

	precacheDir string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var defaults sdk.Env
	_ = env.Parse(&defaults)

	rootCmd := &cobra.Command{
		Use:           "progressctl",
		Short:         "Game progress client",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serverURL, "server", defaults.ServerURL, "progress server URL (PROGRESS_SERVER_URL)")
	flags.StringVar(&token, "token", defaults.Token, "bearer token (PROGRESS_TOKEN)")
	flags.StringVar(&userID, "user", defaults.UserID, "assert this user id alongside the token (PROGRESS_USER_ID)")
	flags.BoolVar(&insecure, "insecure", defaults.InsecureTLS, "skip TLS certificate verification (PROGRESS_TLS_INSECURE)")

	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newSaveCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newAchievementsCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newPrecacheCmd())

	return rootCmd
}

func client(requireToken bool) (*sdk.Client, error) {
	if requireToken && token == "" {
		return nil, errors.New("a token is required (--token or PROGRESS_TOKEN)")
	}
	cfg := sdk.Env{ServerURL: serverURL, Token: token, UserID: userID, InsecureTLS: insecure}
	return cfg.Client(), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <gameType>",
		Short: "Print the saved state of a game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(true)
			if err != nil {
				return err
			}
			state, ok, err := c.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return printJSON(cmd.OutOrStdout(), nil)
			}
			return printJSON(cmd.OutOrStdout(), state)
		},
	}
}

func newSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <gameType> <json|->",
		Short: "Save a JSON object as the state of a game",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(args[1])
			if args[1] == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				raw = data
			}
			state, err := schema.DecodeGameState(raw)
			if err != nil {
				return fmt.Errorf("state must be a JSON object: %w", err)
			}

			c, err := client(true)
			if err != nil {
				return err
			}
			saved, err := c.Save(cmd.Context(), args[0], state)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), saved)
		},
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := client(true)
			if err != nil {
				return err
			}
			entries, err := c.History(cmd.Context(), historyGameType, historyLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&historyGameType, "game-type", "", "only snapshots of this game type")
	cmd.Flags().IntVar(&historyLimit, "limit", 0, "maximum number of snapshots (server default when 0)")
	return cmd
}

func newAchievementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "achievements",
		Short: "List unlocked achievements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := client(true)
			if err != nil {
				return err
			}
			list, err := c.Achievements(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tokenSecret == "" {
				tokenSecret = os.Getenv("PROGRESS_JWT_SECRET")
			}
			if tokenSecret == "" {
				return errors.New("a signing secret is required (--secret or PROGRESS_JWT_SECRET)")
			}
			signed, err := auth.Issue([]byte(tokenSecret), tokenIssuer, tokenSubject, tokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&tokenSecret, "secret", "", "HMAC secret shared with the server")
	cmd.Flags().StringVar(&tokenIssuer, "issuer", "", "token issuer")
	cmd.Flags().StringVar(&tokenSubject, "subject", "", "user id the token identifies")
	cmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newPrecacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "precache",
		Short: "Install the server's offline manifest into a local cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := client(false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			info, err := c.Manifest(ctx)
			if err != nil {
				return fmt.Errorf("fetch manifest: %w", err)
			}
			manifest := offline.Manifest{Generation: info.Generation, URLs: info.URLs}
			if err := manifest.Validate(); err != nil {
				return err
			}

			cache, err := offline.OpenCacheDir(precacheDir)
			if err != nil {
				return err
			}
			fetcher := &offline.HTTPFetcher{Client: c.Transport(), BaseURL: c.BaseURL()}
			m := offline.NewManager(cache, fetcher, manifest, nil)
			if err := m.Install(ctx); err != nil {
				return err
			}
			if err := m.Activate(ctx); err != nil {
				return err
			}
			keys, _ := cache.Keys()
			fmt.Fprintf(cmd.OutOrStdout(), "generation %s active with %d urls (cached generations: %s)\n",
				m.Active(), len(manifest.URLs), strings.Join(keys, ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&precacheDir, "dir", "./offline-cache", "local cache directory")
	return cmd
}
