package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"meshchat/config"
	"meshchat/crypto"
	"meshchat/discovery"
	"meshchat/storage"
)

var (
	flagKeyOut string

	flagScanTimeout time.Duration

	flagEventKind     string
	flagEventPeer     string
	flagEventSeverity string
	flagEventSession  string
	flagEventLimit    int
)

func init() {
	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create or show this relay's key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := config.LoadOrCreate()
			if err != nil {
				return err
			}
			keyPath := cfg.PrivateKeyPath
			if flagKeyOut != "" {
				keyPath = flagKeyOut
			}

			pair, err := loadIdentity(keyPath, flagPassword)
			if err != nil {
				return err
			}
			printKey(cmd, pair.Public)
			return nil
		},
	}
	keygenCmd.Flags().StringVar(&flagKeyOut, "out", "", "private key file (defaults to the configured path)")
	keygenCmd.Flags().BoolVar(&flagPassword, "password", false, "derive the key pair from a password instead of a file")

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "List relays announced on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := config.LoadOrCreate()
			if err != nil {
				return err
			}

			relays, err := discovery.Scan(context.Background(), discovery.Config{
				NodeID:      cfg.NodeID,
				ScanTimeout: flagScanTimeout,
			})
			if err != nil {
				return err
			}
			printRelays(cmd, relays)
			return nil
		},
	}
	discoverCmd.Flags().DurationVar(&flagScanTimeout, "timeout", discovery.DefaultScanTimeout, "how long to browse")

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Show the connection audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _, dataDir, err := config.LoadOrCreate()
			if err != nil {
				return err
			}

			store, _, err := storage.Open(dataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.GetEvents(storage.EventFilter{
				SessionID:    flagEventSession,
				Kind:         flagEventKind,
				PeerIdentity: flagEventPeer,
				Severity:     flagEventSeverity,
				Limit:        flagEventLimit,
			})
			if err != nil {
				return err
			}
			printEvents(cmd, events)
			return nil
		},
	}
	eventsCmd.Flags().StringVar(&flagEventKind, "kind", "", "only events of this kind")
	eventsCmd.Flags().StringVar(&flagEventPeer, "peer", "", "only events about this peer identity")
	eventsCmd.Flags().StringVar(&flagEventSeverity, "severity", "", "only events of this severity: info, warning, critical")
	eventsCmd.Flags().StringVar(&flagEventSession, "session", "", "only events from this session")
	eventsCmd.Flags().IntVar(&flagEventLimit, "limit", 50, "maximum number of events")

	rootCmd.AddCommand(keygenCmd, discoverCmd, eventsCmd)
}

func printKey(cmd *cobra.Command, publicKey string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "public key:  %s\n", publicKey)
	fmt.Fprintf(out, "fingerprint: %s\n", crypto.FormatFingerprint(crypto.KeyFingerprint(publicKey)))
}

func printRelays(cmd *cobra.Command, relays []discovery.Relay) {
	out := cmd.OutOrStdout()
	if len(relays) == 0 {
		fmt.Fprintln(out, "no relays found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tFINGERPRINT\tNODE ID")
	for _, relay := range relays {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			relay.Name, relay.Address(), crypto.FormatFingerprint(relay.KeyFingerprint), relay.NodeID)
	}
	_ = w.Flush()
}

func printEvents(cmd *cobra.Command, events []storage.Event) {
	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(out, "no events")
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSEVERITY\tKIND\tPEER\tDETAILS")
	for _, event := range events {
		peer := "-"
		if event.PeerIdentity != nil {
			peer = *event.PeerIdentity
		}
		details := strings.TrimSpace(event.Details)
		if details == "" {
			details = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			time.UnixMilli(event.Timestamp).Format(time.RFC3339), event.Severity, event.Kind, peer, details)
	}
	_ = w.Flush()
}

func retentionDays(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
