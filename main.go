package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	logging "github.com/inconshreveable/log15"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"meshchat/config"
	"meshchat/console"
	"meshchat/crypto"
	"meshchat/discovery"
	"meshchat/mesh"
	"meshchat/network"
	"meshchat/node"
	"meshchat/router"
	"meshchat/storage"
)

var (
	flagListen    string
	flagPort      int
	flagEncrypt   bool
	flagPassword  bool
	flagNoConsole bool
	flagDiscovery bool
	flagAudit     bool
	flagLogLevel  string
	flagConnect   []string
)

var log logging.Logger = logging.New("module", "main")

var rootCmd = &cobra.Command{
	Use:          "meshchat",
	Short:        "Line based chat relay that joins other relays into a mesh",
	SilenceUsage: true,
	RunE:         runRelay,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagListen, "listen", "", "interface to listen on")
	flags.IntVar(&flagPort, "port", 0, "TCP port to listen on (0 picks a free port)")
	flags.BoolVar(&flagEncrypt, "encrypt", false, "encrypt /send payloads end to end")
	flags.BoolVar(&flagPassword, "password", false, "derive the key pair from a password read from the terminal")
	flags.BoolVar(&flagNoConsole, "no-console", false, "run without reading the local console")
	flags.BoolVar(&flagDiscovery, "discovery", false, "announce this relay over mDNS")
	flags.BoolVar(&flagAudit, "audit", false, "record connection events in the audit log")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level: crit, error, warn, info, debug")
	flags.StringArrayVar(&flagConnect, "connect", nil, "host:port of a relay to join at startup (repeatable)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRelay(cmd *cobra.Command, _ []string) error {
	cfg, _, dataDir, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, cfg)

	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}

	identity, err := loadIdentity(cfg.PrivateKeyPath, flagPassword)
	if err != nil {
		return err
	}

	var store *storage.Store
	if cfg.AuditLog {
		var dbPath string
		store, dbPath, err = storage.Open(dataDir)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer store.Close()
		store.SetEventRetention(retentionDays(cfg.AuditRetentionDays))
		log.Debug("audit log opened", "path", dbPath, "session", store.SessionID())
	}

	var disc *discovery.Config
	if cfg.Discovery {
		disc = &discovery.Config{NodeID: cfg.NodeID, NodeName: cfg.NodeName}
	}

	options := node.Options{
		ListenAddress: net.JoinHostPort(cfg.ListenAddress, strconv.Itoa(cfg.ListenPort())),
		Encrypt:       cfg.Encryption,
		Identity:      identity,
		Output:        os.Stdout,
		Discovery:     disc,
		Store:         store,
		Connect:       flagConnect,
	}
	if !flagNoConsole {
		options.Console = os.Stdin
		options.ShowPrompt = term.IsTerminal(int(os.Stdin.Fd()))
	}

	relay, err := node.New(options)
	if err != nil {
		return err
	}

	fmt.Printf("meshchat relay %s (%s)\n", cfg.NodeName, cfg.NodeID)
	fmt.Printf("  listening:   %s\n", relay.Addr())
	fmt.Printf("  fingerprint: %s\n", crypto.FormatFingerprint(crypto.KeyFingerprint(relay.PublicKey())))
	fmt.Printf("  encryption:  %t\n", cfg.Encryption)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return relay.Run(ctx)
}

// applyFlags overrides persisted settings with flags given on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.NodeConfig) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddress = flagListen
	}
	if flags.Changed("port") {
		if flagPort == 0 {
			cfg.PortMode = config.PortModeAutomatic
		} else {
			cfg.PortMode = config.PortModeFixed
		}
		cfg.ListeningPort = flagPort
	}
	if flags.Changed("encrypt") {
		cfg.Encryption = flagEncrypt
	}
	if flags.Changed("discovery") {
		cfg.Discovery = flagDiscovery
	}
	if flags.Changed("audit") {
		cfg.AuditLog = flagAudit
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
}

func setupLogging(level string) error {
	logLevel, err := logging.LvlFromString(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logHandler := logging.StreamHandler(os.Stderr, logging.TerminalFormat())

	log.SetHandler(logging.LvlFilterHandler(logLevel, logHandler))
	network.SetLogging(logLevel, logHandler)
	router.SetLogging(logLevel, logHandler)
	mesh.SetLogging(logLevel, logHandler)
	console.SetLogging(logLevel, logHandler)
	storage.SetLogging(logLevel, logHandler)
	discovery.SetLogging(logLevel, logHandler)
	node.SetLogging(logLevel, logHandler)
	return nil
}

// loadIdentity reads the persisted key pair, or derives one from a password
// typed on the terminal.
func loadIdentity(keyPath string, usePassword bool) (crypto.KeyPair, error) {
	provider := crypto.NewBoxProvider()
	if !usePassword {
		pair, err := crypto.EnsureKeyPair(keyPath, provider)
		if err != nil {
			return crypto.KeyPair{}, fmt.Errorf("load key pair: %w", err)
		}
		return pair, nil
	}

	password, err := readPassword()
	if err != nil {
		return crypto.KeyPair{}, err
	}
	pair, err := provider.GenerateKeyPair(password)
	if err != nil {
		return crypto.KeyPair{}, fmt.Errorf("derive key pair: %w", err)
	}
	return pair, nil
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--password needs an interactive terminal")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty password")
	}
	return string(raw), nil
}
