package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/fleet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand(t *testing.T) {
	cmd := Command("/opt/fleet-node", OpChangeInstanceType, map[string]string{
		ParamInstanceType: "m5.xlarge",
		ParamProcesses:    "MASTER,TSERVER",
	})
	assert.Equal(t, "/opt/fleet-node change-instance-type --instance-type='m5.xlarge' --processes='MASTER,TSERVER'", cmd)

	cmd = Command("fleet-node", OpWriteGFlags, map[string]string{ParamFlags: `{"a":"it's"}`})
	assert.Equal(t, `fleet-node write-g-flags --flags='{"a":"it'\''s"}'`, cmd)
}

func TestOperationLocal(t *testing.T) {
	assert.True(t, OpSetNodeState.Local())
	assert.True(t, OpPersistIntent.Local())
	assert.False(t, OpStopProcesses.Local())
	assert.False(t, OpFetchMarker.Local())
}

func TestFatalSSHError(t *testing.T) {
	cfg := DefaultRetryCfg()
	tests := []struct {
		err   error
		fatal bool
	}{
		{errors.New("dial tcp: connection refused"), false},
		{errors.New("ssh: handshake failed: ssh: unable to authenticate"), true},
		{errors.New("Permission denied (publickey)"), true},
		{errors.New("something odd"), false},
		{context.Canceled, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.fatal, fatalSSHError(tt.err, &cfg), tt.err.Error())
	}
}

func TestSSHAgentRetries(t *testing.T) {
	a := &SSHAgent{cfg: DefaultSSHConfig()}
	a.cfg.Retry.Delay = time.Millisecond

	attempts := 0
	a.run = func(ctx context.Context, host, cmd string) (string, error) {
		attempts++
		assert.Equal(t, "10.0.0.1:22", host)
		if attempts < 3 {
			return "", errors.New("connection refused")
		}
		return "done\n", nil
	}

	out, err := a.Apply(context.Background(), &types.NodeDetails{Name: "n1", PrivateIP: "10.0.0.1"}, OpStopProcesses, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 3, attempts)

	attempts = 0
	a.run = func(ctx context.Context, host, cmd string) (string, error) {
		attempts++
		return "", errors.New("permission denied")
	}
	_, err = a.Apply(context.Background(), &types.NodeDetails{Name: "n1", PrivateIP: "10.0.0.1"}, OpStopProcesses, nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "fatal errors are not retried")
}

func TestMux(t *testing.T) {
	var got []string
	record := func(name string) NodeAgent {
		return Func(func(ctx context.Context, node *types.NodeDetails, op Operation, params map[string]string) (string, error) {
			got = append(got, name+":"+string(op))
			return name, nil
		})
	}

	m := NewMux(record("ssh"))
	m.Handle(record("cloud"), OpChangeInstanceType, OpResizeDisk)

	node := &types.NodeDetails{Name: "n1"}
	_, err := m.Apply(context.Background(), node, OpResizeDisk, nil)
	require.NoError(t, err)
	_, err = m.Apply(context.Background(), node, OpStopProcesses, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cloud:ResizeDisk", "ssh:StopProcesses"}, got)

	_, err = NewMux(nil).Apply(context.Background(), node, OpStopProcesses, nil)
	assert.Error(t, err)
}
