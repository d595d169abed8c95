package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pokt-foundation/shannon-orch/internal/cleanup"
	"github.com/pokt-foundation/shannon-orch/internal/config"
	"github.com/pokt-foundation/shannon-orch/internal/domain"
	"github.com/pokt-foundation/shannon-orch/internal/history"
	"github.com/pokt-foundation/shannon-orch/internal/keyring"
	"github.com/pokt-foundation/shannon-orch/internal/migrate"
	"github.com/pokt-foundation/shannon-orch/internal/orchestrator"
	"github.com/pokt-foundation/shannon-orch/internal/pocketd"
	"github.com/pokt-foundation/shannon-orch/internal/retry"
	"github.com/pokt-foundation/shannon-orch/internal/session"
	"github.com/pokt-foundation/shannon-orch/internal/staking"
	"github.com/pokt-foundation/shannon-orch/internal/watcher"
	"github.com/pokt-foundation/shannon-orch/tui"
	"github.com/pokt-foundation/shannon-orch/web/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// version is set at build time via -ldflags
var version = "dev"

var (
	servePort int

	migrateNetwork  string
	migrateDest     string
	migrateKeysFile string
	migrateKeyFile  string
	migrateOwner    string
	migrateUnsigned bool

	stakeNetwork  string
	stakeOwner    string
	stakeCount    int
	stakeService  string
	stakeAmount   string
	stakeURL      string
	stakePrefix   string
	stakeOwnerKey string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override the configured port")
	rootCmd.AddCommand(serveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Claim Morse accounts on Shannon",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().StringVar(&migrateNetwork, "network", "beta", "target network")
	migrateCmd.Flags().StringVar(&migrateDest, "dest", "", "destination Shannon address")
	migrateCmd.Flags().StringVar(&migrateKeysFile, "keys-file", "", "file with one Morse hex key per line (required)")
	migrateCmd.Flags().StringVar(&migrateKeyFile, "signer-key-file", "", "file holding the signing hex key")
	migrateCmd.Flags().StringVar(&migrateOwner, "owner", "", "sign with an existing keyring identity")
	migrateCmd.Flags().BoolVar(&migrateUnsigned, "unsigned", false, "generate the transaction without broadcasting")
	migrateCmd.MarkFlagRequired("keys-file")
	rootCmd.AddCommand(migrateCmd)

	stakeCmd := &cobra.Command{
		Use:   "stake",
		Short: "Provision wallets and stake supplier nodes",
		RunE:  runStake,
	}
	stakeCmd.Flags().StringVar(&stakeNetwork, "network", "beta", "target network")
	stakeCmd.Flags().StringVar(&stakeOwner, "owner-address", "", "owner address for the staked suppliers (required)")
	stakeCmd.Flags().IntVar(&stakeCount, "count", 1, "number of nodes to provision")
	stakeCmd.Flags().StringVar(&stakeService, "service-id", "", "service id the suppliers provide (required)")
	stakeCmd.Flags().StringVar(&stakeAmount, "stake-amount", "60005000000upokt", "stake per supplier")
	stakeCmd.Flags().StringVar(&stakeURL, "url-template", "", "endpoint URL, {name} is replaced per node (required)")
	stakeCmd.Flags().StringVar(&stakePrefix, "prefix", "node", "node name prefix")
	stakeCmd.Flags().StringVar(&stakeOwnerKey, "signer-key-file", "", "file holding the signing hex key")
	stakeCmd.MarkFlagRequired("owner-address")
	stakeCmd.MarkFlagRequired("service-id")
	stakeCmd.MarkFlagRequired("url-template")
	rootCmd.AddCommand(stakeCmd)

	sessionsCmd := &cobra.Command{
		Use:   "sessions [ID]",
		Short: "List sessions, or show one in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSessions,
	}
	rootCmd.AddCommand(sessionsCmd)

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove aged temporary files now",
		RunE:  runCleanup,
	}
	rootCmd.AddCommand(cleanupCmd)

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Launch the terminal session monitor",
		RunE:  runMonitor,
	}
	rootCmd.AddCommand(monitorCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// app bundles the wired-up core components
type app struct {
	cfg         *config.Config
	store       *session.Store
	history     *history.Store
	runner      *pocketd.ExecRunner
	builder     *pocketd.Builder
	orch        *orchestrator.Orchestrator
	migrator    *migrate.Migrator
	provisioner *staking.Provisioner
}

func buildApp(cfg *config.Config) (*app, error) {
	store, err := session.NewStore(cfg.General.DataDir)
	if err != nil {
		return nil, err
	}
	hist, err := history.New(cfg.General.HistoryDBPath)
	if err != nil {
		return nil, err
	}

	runner := pocketd.NewExecRunner(pocketd.RunnerConfig{
		BinPath:   cfg.Pocketd.BinPath,
		ExtraPath: cfg.Pocketd.ExtraPath,
	})
	backend := domain.KeyringBackend(cfg.Keyring.Backend)
	builder, err := pocketd.NewBuilder(cfg.Keyring.HomeDir, backend)
	if err != nil {
		return nil, err
	}

	keys := keyring.NewManager(runner, cfg.Keyring.FallbackIdentity)
	retrier := retry.New(cfg.Batch.MaxAttempts, cfg.Batch.RetryBackoff)
	orch := orchestrator.New(store, keys, retrier, cfg.Batch.InterTxDelay)

	return &app{
		cfg:         cfg,
		store:       store,
		history:     hist,
		runner:      runner,
		builder:     builder,
		orch:        orch,
		migrator:    migrate.New(runner, store, orch, cfg.Pocketd.BroadcastTimeout),
		provisioner: staking.New(runner, keys, store, orch, backend, cfg.Pocketd.BroadcastTimeout),
	}, nil
}

func (a *app) close() {
	if err := a.history.Close(); err != nil {
		log.Printf("[main] closing history store: %v", err)
	}
}

func (a *app) txParams(network string) (pocketd.TxParams, error) {
	n, err := a.cfg.Network(network)
	if err != nil {
		return pocketd.TxParams{}, err
	}
	return pocketd.TxParams{
		ChainID:       n.ChainID,
		NodeURL:       n.NodeURL,
		GasAdjustment: a.cfg.Pocketd.GasAdjustment,
		GasPrices:     a.cfg.Pocketd.GasPrices,
	}, nil
}

// identityFromFlags builds the signer spec shared by migrate and stake.
// Key material is read from files, never taken directly on the command line.
func identityFromFlags(keyFile, owner string) (orchestrator.IdentitySpec, error) {
	spec := orchestrator.IdentitySpec{OwnerName: owner}
	if keyFile == "" {
		return spec, nil
	}
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return spec, fmt.Errorf("reading signer key file: %w", err)
	}
	cred, err := domain.NewRawHexCredential(strings.TrimSpace(string(data)))
	if err != nil {
		return spec, err
	}
	spec.OverrideCred = cred
	spec.OverrideName = "cli-signer"
	return spec, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Web.Port = servePort
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := api.NewServer(api.Deps{
		Config:      cfg,
		Store:       a.store,
		History:     a.history,
		Prober:      a.runner,
		Migrator:    a.migrator,
		Provisioner: a.provisioner,
		Builder:     a.builder,
	}, addr)

	// Live progress from the orchestrator and artifact changes from disk
	// both feed the SSE/WS clients.
	a.orch.SetNotify(server.NotifyOrchestrator)
	sw, err := watcher.New(a.store.Root(), func(kind domain.SessionKind, id string, files []string) {
		server.Broadcast(api.SSEEvent{Type: "artifacts_changed", Data: map[string]interface{}{
			"kind": kind, "session_id": id, "files": files,
		}})
	})
	if err != nil {
		return err
	}

	sweeper, err := cleanup.New(a.store, cfg.Cleanup.Cron, cfg.Cleanup.MaxAge)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(context.Background())
	sw.Start(ctx)
	defer sw.Stop()
	g.Go(func() error {
		sweeper.Start(ctx)
		return nil
	})
	g.Go(func() error {
		log.Printf("[main] serving on %s", addr)
		return server.Start()
	})
	return g.Wait()
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	keys, err := readKeyLines(migrateKeysFile)
	if err != nil {
		return err
	}
	params, err := a.txParams(migrateNetwork)
	if err != nil {
		return err
	}
	identity, err := identityFromFlags(migrateKeyFile, migrateOwner)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := a.runner.Probe(ctx); err != nil {
		return err
	}

	out, err := a.migrator.Run(ctx, a.builder, migrate.Request{
		Network:            migrateNetwork,
		DestinationAddress: migrateDest,
		HexKeys:            keys,
		Identity:           identity,
		TxParams:           params,
		Unsigned:           migrateUnsigned,
	})
	if err != nil {
		return err
	}

	if _, err := a.history.RecordBatch(out.Report, migrateNetwork, "cli"); err != nil {
		log.Printf("[main] recording history: %v", err)
	}
	return printJSON(out)
}

func runStake(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if stakeCount < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	nodes := make([]staking.NodeSpec, 0, stakeCount)
	for i := 1; i <= stakeCount; i++ {
		name := fmt.Sprintf("%s%d", stakePrefix, i)
		nodes = append(nodes, staking.NodeSpec{
			Name:        name,
			ServiceID:   stakeService,
			PublicURL:   strings.ReplaceAll(stakeURL, "{name}", name),
			StakeAmount: stakeAmount,
		})
	}

	params, err := a.txParams(stakeNetwork)
	if err != nil {
		return err
	}
	identity, err := identityFromFlags(stakeOwnerKey, "")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := a.runner.Probe(ctx); err != nil {
		return err
	}

	out, err := a.provisioner.Run(ctx, a.builder, staking.Request{
		Network:      stakeNetwork,
		OwnerAddress: stakeOwner,
		Nodes:        nodes,
		Identity:     identity,
		TxParams:     params,
	})
	if err != nil {
		return err
	}

	if _, err := a.history.RecordBatch(out.Report, stakeNetwork, "cli"); err != nil {
		log.Printf("[main] recording history: %v", err)
	}
	fmt.Printf("Mnemonics written to %s - download and clear it.\n", a.store.MnemonicsPath(out.Session))
	return printJSON(out)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := session.NewStore(cfg.General.DataDir)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		sess, err := store.GetSession(args[0])
		if err != nil {
			return err
		}
		units, err := store.ListWorkUnits(sess.ID)
		if err != nil {
			return err
		}
		report, _ := store.ReadReport(sess)
		return printJSON(map[string]interface{}{
			"session": sess,
			"units":   units,
			"report":  report,
		})
	}

	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tNETWORK\tUNITS\tCREATED")
	for _, sess := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			sess.ID, sess.Kind, sess.Params.Network, sess.Params.UnitCount,
			sess.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := session.NewStore(cfg.General.DataDir)
	if err != nil {
		return err
	}
	sweeper, err := cleanup.New(store, cfg.Cleanup.Cron, cfg.Cleanup.MaxAge)
	if err != nil {
		return err
	}
	removed, err := sweeper.Sweep()
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d temp files\n", removed)
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := session.NewStore(cfg.General.DataDir)
	if err != nil {
		return err
	}
	hist, err := history.New(cfg.General.HistoryDBPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	model := tui.NewModel(tui.ModelConfig{Store: store, History: hist})
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// readKeyLines loads hex keys, one per line, skipping blanks and comments
func readKeyLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keys file: %w", err)
	}
	var keys []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	return keys, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
