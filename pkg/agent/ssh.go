package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/fleet/pkg/log"
	"github.com/cuemby/fleet/pkg/types"
	"golang.org/x/crypto/ssh"
)

// RetryCfg controls how a failed remote command is retried.
// Attempts: total attempts for the command.
// Delay: delay before the first retry.
// DelayMultiplier: growth of the delay between retries.
// RetryableExitCodes: exit codes that may be retried.
// RetryableErrorSubString: error substrings that may be retried.
// NonRetryableErrorSubString: error substrings that must stop retrying.
type RetryCfg struct {
	Attempts                   int
	Delay                      time.Duration
	DelayMultiplier            float64
	RetryableExitCodes         []int
	RetryableErrorSubString    []string
	NonRetryableErrorSubString []string
}

// DefaultRetryCfg retries transient connection failures three times
func DefaultRetryCfg() RetryCfg {
	return RetryCfg{
		Attempts:           3,
		Delay:              2 * time.Second,
		DelayMultiplier:    2.0,
		RetryableExitCodes: []int{255},
		RetryableErrorSubString: []string{
			"without exit status",
			"connection refused",
			"connection reset by peer",
			"operation timed out",
			"i/o timeout",
		},
		NonRetryableErrorSubString: []string{
			"permission denied",
			"host key verification failed",
			"unable to authenticate",
		},
	}
}

// SSHConfig configures an SSHAgent
type SSHConfig struct {
	User    string
	Port    int
	KeyFile string

	// Script is the node-side control program each operation is passed to
	Script string

	// HostKeyCallback verifies node host keys; nil accepts any key
	HostKeyCallback ssh.HostKeyCallback

	DialTimeout time.Duration
	Retry       RetryCfg
}

// DefaultSSHConfig returns the settings for stock database nodes
func DefaultSSHConfig() SSHConfig {
	return SSHConfig{
		User:        "yugabyte",
		Port:        22,
		Script:      "/home/yugabyte/bin/fleet-node",
		DialTimeout: 10 * time.Second,
		Retry:       DefaultRetryCfg(),
	}
}

type runFunc func(ctx context.Context, host, cmd string) (string, error)

// SSHAgent applies operations by running the node control script over SSH.
// Connections are pooled per host.
type SSHAgent struct {
	cfg    SSHConfig
	client *ssh.ClientConfig

	mu    sync.Mutex
	conns map[string]*ssh.Client

	run runFunc
}

var _ NodeAgent = (*SSHAgent)(nil)

// NewSSHAgent creates an agent authenticating with the private key in cfg.KeyFile
func NewSSHAgent(cfg SSHConfig) (*SSHAgent, error) {
	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	hostKeyCallback := cfg.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	a := &SSHAgent{
		cfg: cfg,
		client: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.DialTimeout,
		},
		conns: make(map[string]*ssh.Client),
	}
	a.run = a.runOverSSH
	return a, nil
}

// Apply implements NodeAgent
func (a *SSHAgent) Apply(ctx context.Context, node *types.NodeDetails, op Operation, params map[string]string) (string, error) {
	if node.PrivateIP == "" {
		return "", errors.New("node has no private ip")
	}
	host := net.JoinHostPort(node.PrivateIP, strconv.Itoa(a.cfg.Port))
	cmd := Command(a.cfg.Script, op, params)

	logger := log.WithNode(node.Name, node.PrivateIP)
	logger.Debug().Str("op", string(op)).Str("cmd", cmd).Msg("Running node operation")

	return a.runWithRetry(ctx, host, cmd)
}

func (a *SSHAgent) runWithRetry(ctx context.Context, host, cmd string) (string, error) {
	cfg := a.cfg.Retry
	if cfg.Attempts < 1 {
		return "", fmt.Errorf("invalid attempts: %d", cfg.Attempts)
	}

	delay := cfg.Delay
	var latestErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", fmt.Errorf("retry interrupted after %d attempts: %w", attempt-1, ctx.Err())
			}
			delay = time.Duration(float64(delay) * cfg.DelayMultiplier)
		}

		output, err := a.run(ctx, host, cmd)
		if err == nil {
			return strings.TrimSpace(output), nil
		}
		latestErr = err

		if fatalSSHError(err, &cfg) {
			break
		}
		log.Logger.Warn().Err(err).Str("host", host).Int("attempt", attempt).Msg("Retrying node operation")
	}

	return "", fmt.Errorf("after %d attempts: %w", cfg.Attempts, latestErr)
}

// fatalSSHError reports whether err must not be retried under cfg
func fatalSSHError(err error, cfg *RetryCfg) bool {
	msg := strings.ToLower(err.Error())

	for _, nonRetry := range cfg.NonRetryableErrorSubString {
		if strings.Contains(msg, strings.ToLower(nonRetry)) {
			return true
		}
	}

	for _, retryMessage := range cfg.RetryableErrorSubString {
		if strings.Contains(msg, strings.ToLower(retryMessage)) {
			return false
		}
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		for _, retryable := range cfg.RetryableExitCodes {
			if exitErr.ExitStatus() == retryable {
				return false
			}
		}
		return true
	}

	return errors.Is(err, context.Canceled)
}

func (a *SSHAgent) runOverSSH(ctx context.Context, host, cmd string) (string, error) {
	conn, err := a.getOrDial(host)
	if err != nil {
		return "", err
	}

	session, err := conn.NewSession()
	if err != nil {
		a.drop(host)
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return "", ctx.Err()
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			a.drop(host)
		}
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// getOrDial returns the pooled connection to host or dials a new one
func (a *SSHAgent) getOrDial(host string) (*ssh.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if conn, ok := a.conns[host]; ok {
		return conn, nil
	}
	conn, err := ssh.Dial("tcp", host, a.client)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", host, err)
	}
	a.conns[host] = conn
	return conn, nil
}

func (a *SSHAgent) drop(host string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if conn, ok := a.conns[host]; ok {
		_ = conn.Close()
		delete(a.conns, host)
	}
}

// Close closes all pooled connections
func (a *SSHAgent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for host, conn := range a.conns {
		_ = conn.Close()
		delete(a.conns, host)
	}
	return nil
}

// Command renders the node control script invocation for op.
// Parameters become sorted, shell-quoted --key=value arguments.
func Command(script string, op Operation, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{script, kebab(string(op))}
	for _, k := range keys {
		parts = append(parts, "--"+strings.ReplaceAll(k, "_", "-")+"="+shellQuote(params[k]))
	}
	return strings.Join(parts, " ")
}

func kebab(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
