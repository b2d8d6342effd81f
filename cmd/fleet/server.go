package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/fleet/pkg/agent"
	"github.com/cuemby/fleet/pkg/api"
	"github.com/cuemby/fleet/pkg/backup"
	"github.com/cuemby/fleet/pkg/events"
	"github.com/cuemby/fleet/pkg/health"
	"github.com/cuemby/fleet/pkg/log"
	"github.com/cuemby/fleet/pkg/manager"
	"github.com/cuemby/fleet/pkg/metrics"
	"github.com/cuemby/fleet/pkg/provider"
	"github.com/cuemby/fleet/pkg/reconciler"
	"github.com/cuemby/fleet/pkg/storage"
	"github.com/cuemby/fleet/pkg/task"
	"github.com/cuemby/fleet/pkg/types"
	"github.com/cuemby/fleet/pkg/upgrade"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a fleet control-plane member",
	Long: `Run a fleet control-plane member.

The member replicates universe and task state with Raft, accepts tasks
through the HTTP API and runs them against the database nodes over SSH.
Tasks interrupted by a restart are resumed from their last completed group.

With --standalone the state lives in a local bolt database without Raft.`,
	RunE: runServer,
}

func init() {
	flags := serverCmd.Flags()
	flags.String("node-id", "fleet-1", "Unique control-plane member ID")
	flags.String("raft-addr", "127.0.0.1:7946", "Address for Raft communication")
	flags.String("api-addr", "127.0.0.1:8080", "Address for the HTTP API")
	flags.String("data-dir", "./fleet-data", "Data directory for control-plane state")
	flags.Bool("standalone", false, "Keep state in a local store without Raft")
	flags.Bool("read-only", false, "Reject API requests that change state")
	flags.Int("parallelism", task.DefaultParallelism, "Maximum subtasks of one group running at once")
	flags.Bool("allow-force-lock-override", false, "Let forced submissions take over locks of tasks that are no longer running")
	flags.Duration("reconcile-interval", reconciler.DefaultConfig().Interval, "Interval between crash-recovery passes")
	flags.String("health-check", string(health.CheckTypeTCP), "Probe used to wait for restarted servers (tcp, http, grpc)")
	flags.Int("backup-parallelism", backup.DefaultConfig().Parallelism, "Maximum servers used at once by a backup")
	flags.String("aws-region", "", "Look AWS instance types up in EC2 for this region")
	flags.String("ssh-user", agent.DefaultSSHConfig().User, "SSH user on database nodes")
	flags.Int("ssh-port", agent.DefaultSSHConfig().Port, "SSH port on database nodes")
	flags.String("ssh-key", "", "Private key for SSH to database nodes")
	flags.String("node-script", agent.DefaultSSHConfig().Script, "Control script run on database nodes")

	bindFlags(serverCmd, false,
		"node-id", "raft-addr", "api-addr", "data-dir", "standalone", "read-only",
		"parallelism", "allow-force-lock-override", "reconcile-interval", "health-check",
		"backup-parallelism", "aws-region", "ssh-user", "ssh-port", "ssh-key", "node-script",
	)

	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("server")
	metrics.SetVersion(Version)

	var (
		store    storage.Store
		broker   *events.Broker
		raft     api.RaftStatus
		stats    manager.RaftStats
		isLeader func() bool
	)

	dataDir := viper.GetString("data-dir")
	if viper.GetBool("standalone") {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %v", err)
		}
		bolt, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %v", err)
		}
		store = bolt
		broker = events.NewBroker()
		broker.Start()
		defer broker.Stop()
		metrics.SetCriticalComponents("store", "api")
		fmt.Printf("✓ Standalone store opened in %s\n", dataDir)
	} else {
		mgr, err := manager.NewManager(&manager.Config{
			NodeID:   viper.GetString("node-id"),
			BindAddr: viper.GetString("raft-addr"),
			DataDir:  dataDir,
		})
		if err != nil {
			return fmt.Errorf("failed to create manager: %v", err)
		}
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap raft: %v", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		err = mgr.WaitForLeader(ctx)
		cancel()
		if err != nil {
			_ = mgr.Shutdown()
			return err
		}

		store, broker, raft, stats, isLeader = mgr, mgr.GetEventBroker(), mgr, mgr, mgr.IsLeader
		fmt.Printf("✓ Raft started (node %s, leader %s)\n", viper.GetString("node-id"), mgr.LeaderAddr())
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close store")
		}
	}()

	// Node agent
	sshCfg := agent.DefaultSSHConfig()
	sshCfg.User = viper.GetString("ssh-user")
	sshCfg.Port = viper.GetInt("ssh-port")
	sshCfg.KeyFile = viper.GetString("ssh-key")
	sshCfg.Script = viper.GetString("node-script")
	if sshCfg.KeyFile == "" {
		return fmt.Errorf("--ssh-key is required to reach database nodes")
	}
	sshAgent, err := agent.NewSSHAgent(sshCfg)
	if err != nil {
		return err
	}
	defer sshAgent.Close()
	nodeAgent := agent.NewMux(sshAgent)

	// Instance type catalog
	catalog := provider.Chain{}
	if region := viper.GetString("aws-region"); region != "" {
		ec2Catalog, err := provider.NewEC2Catalog(region)
		if err != nil {
			return err
		}
		catalog = append(catalog, ec2Catalog)
	}
	catalog = append(catalog, provider.DefaultCatalog())

	// Task engine
	runnerCfg := task.DefaultRunnerConfig()
	runnerCfg.CheckType = health.CheckType(viper.GetString("health-check"))
	executor := task.NewExecutor(store, task.NewRunner(nodeAgent, runnerCfg), broker, viper.GetInt("parallelism"))
	registry := upgrade.NewRegistry(catalog)
	commissioner := task.NewCommissioner(store, registry, executor, broker, task.Policy{
		AllowForceLockOverride: viper.GetBool("allow-force-lock-override"),
	})
	fmt.Printf("✓ Task engine ready (kinds: %v)\n", registry.Kinds())

	// Backups
	backupCfg := backup.DefaultConfig()
	backupCfg.Parallelism = viper.GetInt("backup-parallelism")
	prober := health.NewTCPProber(types.DefaultNodePorts().TServerRPCPort, 5*time.Second)
	backups := backup.NewRunner(nodeAgent, prober, broker, backupCfg)

	// Crash recovery
	recon := reconciler.NewReconciler(store, commissioner, reconciler.Config{
		Interval: viper.GetDuration("reconcile-interval"),
		IsLeader: isLeader,
	})
	recon.Start()
	fmt.Println("✓ Reconciler started")

	collector := manager.NewMetricsCollector(store, stats)
	collector.Start()

	apiServer := api.NewServer(store, commissioner, backups, raft, api.Config{
		Addr:     viper.GetString("api-addr"),
		ReadOnly: viper.GetBool("read-only"),
	})
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()

	fmt.Printf("✓ API listening on %s\n", viper.GetString("api-addr"))
	fmt.Println()
	fmt.Println("Fleet is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case runErr = <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", runErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop API server")
	}
	recon.Stop()
	// Running tasks stop at their next group boundary and stay resumable
	if err := commissioner.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Tasks did not stop in time")
	}
	collector.Stop()

	fmt.Println("✓ Shutdown complete")
	return runErr
}
