package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"tally/internal/config"
	"tally/internal/daemon"
	"tally/internal/driver/simscanner"
	"tally/internal/interpret"
	"tally/internal/ipc"
	"tally/internal/logging"
	"tally/internal/store"
	"tally/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *store.Store
	daemon     *daemon.Daemon
	device     *simscanner.Device
	socketPath string
	configPath string
	logPath    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithExportDrive(t.TempDir()))
	configPath := filepath.Join(cfg.Paths.DataDir, "config.toml")
	writeTestConfig(t, configPath, cfg)

	st := testsupport.MustOpenStore(t, cfg)
	device := simscanner.New()
	logPath := filepath.Join(cfg.Paths.LogDir, "tallyd.log")

	d, err := daemon.New(cfg, st, device, interpret.NewStatic(), logging.NewNop(), logPath)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	socketPath := filepath.Join(cfg.Paths.LogDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Stop()
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      st,
		daemon:     d,
		device:     device,
		socketPath: socketPath,
		configPath: configPath,
		logPath:    logPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("output missing %q:\n%s", want, output)
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestCLIStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Running")
	requireContains(t, out, "polls_closed_initial")
	requireContains(t, out, "test-election")
	requireContains(t, out, "TEST ballots only")
}

func TestCLIPollsAndBatches(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"scan"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("scan must be refused before polls open")
	}

	out, _, err := runCLI(t, []string{"polls", "open"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("polls open: %v", err)
	}
	requireContains(t, out, "polls_closed_initial -> polls_open")
	requireContains(t, out, "Opened batch 1")

	out, _, err = runCLI(t, []string{"bag-replaced"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("bag-replaced: %v", err)
	}
	requireContains(t, out, "Closed batch 1")
	requireContains(t, out, "Opened batch 2")

	out, _, err = runCLI(t, []string{"polls", "close"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("polls close: %v", err)
	}
	requireContains(t, out, "polls_open -> polls_closed_final")
	requireContains(t, out, "Final export requested")

	out, _, err = runCLI(t, []string{"batches"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("batches: %v", err)
	}
	requireContains(t, out, "ballot_bag_replaced")
	requireContains(t, out, "polls_closed")

	out, _, err = runCLI(t, []string{"transitions"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("transitions: %v", err)
	}
	requireContains(t, out, "polls_opened")
	requireContains(t, out, "polls_closed")

	out, _, err = runCLI(t, []string{"health"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	requireContains(t, out, "Integrity")
}

func TestCLILogsCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	if err := os.WriteFile(env.logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "second")
	requireContains(t, out, "third")
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath); err == nil {
		t.Fatal("config init must refuse to overwrite without --overwrite")
	}

	out, _, err = runCLI(t, []string{"config", "show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "test-election")
}
