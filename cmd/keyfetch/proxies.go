package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

func newProxiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Inspect an owner's proxy pool",
		Long: `Inspect the proxies stored for an owner.
Use "proxies list" to see addresses, health, latency and usage.`,
	}

	cmd.AddCommand(newProxiesListCmd())
	return cmd
}

func newProxiesListCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List an owner's proxies",
		Long:    "List every proxy in an owner's pool with its type, health, latency and last use.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), globalCfg)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = a.close(ctx)
			}()

			proxies, err := a.proxies.List(cmd.Context(), owner)
			if err != nil {
				return fmt.Errorf("listing proxies: %w", err)
			}

			printProxies(cmd.OutOrStdout(), proxies, time.Now())
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// printProxies renders a fixed-width table. Passwords are never printed.
func printProxies(w io.Writer, proxies []model.ProxyEntry, now time.Time) {
	if len(proxies) == 0 {
		fmt.Fprintln(w, "No proxies configured.")
		return
	}

	fmt.Fprintf(w, "%-28s %-12s %-8s %-8s %-9s %-10s %-16s\n", "Address", "Type", "Country", "Healthy", "Latency", "Checks", "Last used")
	fmt.Fprintln(w, strings.Repeat("-", 97))

	for _, p := range proxies {
		healthy := "no"
		if p.Healthy {
			healthy = "yes"
		}

		latency := "-"
		if p.LatencyMs != nil {
			latency = fmt.Sprintf("%dms", *p.LatencyMs)
		}

		lastUsed := "never"
		if p.LastUsedAt != nil {
			lastUsed = humanize.RelTime(*p.LastUsedAt, now, "ago", "from now")
		}

		checks := humanize.Comma(int64(p.SuccessCount)) + "/" + humanize.Comma(int64(p.SuccessCount+p.FailCount))

		country := p.Country
		if country == "" {
			country = "-"
		}

		fmt.Fprintf(w, "%-28s %-12s %-8s %-8s %-9s %-10s %-16s\n",
			string(p.Protocol)+"://"+p.Address(), p.Type, country, healthy, latency, checks, lastUsed)
	}
}
