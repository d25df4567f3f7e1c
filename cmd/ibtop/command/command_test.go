package command

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skobkin/ibtop/internal/app"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cliApp := App()
	cliApp.Writer = &out
	cliApp.ErrWriter = &out
	err := cliApp.Run(append([]string{"ibtop"}, args...))
	return out.String(), err
}

func TestListJSON(t *testing.T) {
	root := t.TempDir()
	mkPort(t, root, "mlx5_0", "1")
	mkPort(t, root, "mlx5_1", "1")

	out, err := runApp(t, "--sysfs-root", root, "--log-level", "error", "list", "--json")
	require.NoError(t, err)

	var decoded struct {
		Interfaces []struct {
			Name  string   `json:"name"`
			Ports []string `json:"ports"`
		} `json:"interfaces"`
		Ports []struct {
			Interface string `json:"interface"`
			Port      string `json:"port"`
		} `json:"ports"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))

	names := make([]string, 0, len(decoded.Interfaces))
	for _, iface := range decoded.Interfaces {
		names = append(names, iface.Name)
		assert.Equal(t, []string{"1"}, iface.Ports)
	}
	assert.ElementsMatch(t, []string{"mlx5_0", "mlx5_1"}, names)
	assert.Len(t, decoded.Ports, 2)
}

func TestListTable(t *testing.T) {
	root := t.TempDir()
	mkPort(t, root, "mlx5_0", "1")

	out, err := runApp(t, "--sysfs-root", root, "--log-level", "error", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "INTERFACE")
	assert.Contains(t, out, "mlx5_0")
}

func TestListWithoutInterfaces(t *testing.T) {
	_, err := runApp(t, "--sysfs-root", t.TempDir(), "--log-level", "error", "list")
	require.ErrorIs(t, err, app.ErrNoInterfaces)
}

func TestRunRejectsInvalidLogLevel(t *testing.T) {
	_, err := runApp(t, "--sysfs-root", t.TempDir(), "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--log-level")
}

func TestRunRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("IBTOP_WS_MAX_CLIENTS", "zero")

	_, err := runApp(t, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load configuration")
}

func TestSampleJSON(t *testing.T) {
	root := t.TempDir()
	mkPort(t, root, "mlx5_0", "1")
	mkPort(t, root, "mlx5_1", "1")

	out, err := runApp(t, "--sysfs-root", root, "--log-level", "error", "sample", "--interface", "mlx5_1", "--json")
	require.NoError(t, err)

	var cycle struct {
		Seq     uint64 `json:"seq"`
		Samples []struct {
			Interface     string  `json:"interface"`
			Port          string  `json:"port"`
			ReceiveMbps   float64 `json:"rcv_mbps"`
			WindowSeconds float64 `json:"window_s"`
		} `json:"samples"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cycle))
	assert.Equal(t, uint64(2), cycle.Seq)
	require.Len(t, cycle.Samples, 1)
	assert.Equal(t, "mlx5_1", cycle.Samples[0].Interface)
	assert.Equal(t, "1", cycle.Samples[0].Port)
	assert.Zero(t, cycle.Samples[0].ReceiveMbps)
	assert.Greater(t, cycle.Samples[0].WindowSeconds, 1.0)
}

func TestSampleUnknownInterface(t *testing.T) {
	root := t.TempDir()
	mkPort(t, root, "mlx5_0", "1")

	_, err := runApp(t, "--sysfs-root", root, "--log-level", "error", "sample", "--interface", "mlx4_0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown interface")
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dev")
}

func mkPort(t *testing.T, root, iface, port string) {
	t.Helper()
	dir := filepath.Join(root, "class", "infiniband", iface, "ports", port, "counters")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "port_rcv_data"), []byte("1000\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "port_xmit_data"), []byte("2000\n"), 0o644))
}
