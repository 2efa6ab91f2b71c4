package dispatcher_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbu-fleet/bbu-server/internal/clock"
	"github.com/bbu-fleet/bbu-server/internal/dispatcher"
	"github.com/bbu-fleet/bbu-server/internal/dispatcher/dispatchertest"
	"github.com/bbu-fleet/bbu-server/internal/protocol"
)

func newDispatcher() (*dispatcher.Dispatcher, *dispatchertest.Recorder, *clock.Fake) {
	rec := dispatchertest.NewRecorder()
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return dispatcher.New(rec, clk), rec, clk
}

func TestSend_RedundantCommandIsSentThreeTimes(t *testing.T) {
	d, rec, clk := newDispatcher()
	defer d.Close()

	require.NoError(t, d.Send(context.Background(), "10.0.0.1", protocol.StartCell()))
	assert.Equal(t, 1, rec.Count("10.0.0.1", "StartCell"))

	clk.WaitForTimers(1)
	clk.Advance(500 * time.Millisecond)
	clk.WaitForTimers(1)
	assert.Equal(t, 2, rec.Count("10.0.0.1", "StartCell"))

	clk.Advance(500 * time.Millisecond)
	d.Wait()
	assert.Equal(t, 3, rec.Count("10.0.0.1", "StartCell"))
	assert.Equal(t, 0, clk.Pending())
}

func TestSend_SingleShotCommands(t *testing.T) {
	d, rec, clk := newDispatcher()
	defer d.Close()

	ctx := context.Background()
	require.NoError(t, d.Send(ctx, "10.0.0.1", protocol.SetBlackList("510101234567890")))
	require.NoError(t, d.Send(ctx, "10.0.0.1", protocol.SetUlPcPara("")))
	require.NoError(t, d.Send(ctx, "10.0.0.1", protocol.GetConfig(protocol.ConfigCellPara)))

	assert.Equal(t, 0, clk.Pending())
	assert.Len(t, rec.All(), 3)
	assert.Equal(t, "SetUlPcPara 40 30 1", rec.All()[1].Text)
}

func TestSendToMany_PartialFailure(t *testing.T) {
	d, rec, _ := newDispatcher()
	defer d.Close()

	rec.FailFor("10.0.0.2", errors.New("network unreachable"))
	results := d.SendToMany(context.Background(), []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, protocol.SetWhiteList(""))

	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.Equal(t, dispatcher.StatusError, results[1].Status)
	assert.Contains(t, results[1].Error, "unreachable")
	assert.True(t, results[2].OK())
	assert.Equal(t, 1, dispatcher.Failed(results))
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.3"}, rec.IPs("SetWhiteList"))
}

func TestClose_CancelsPendingRepeats(t *testing.T) {
	d, rec, clk := newDispatcher()

	require.NoError(t, d.Send(context.Background(), "10.0.0.1", protocol.StopCell()))
	clk.WaitForTimers(1)
	d.Close()

	clk.Advance(time.Second)
	assert.Equal(t, 1, rec.Count("10.0.0.1", "StopCell"))
}

func TestSendConfig(t *testing.T) {
	dir := t.TempDir()
	src := dispatcher.NewFileConfigSource(dir)

	path := src.Path(protocol.ConfigAppCfgExt, "whitelist", "10.0.0.1")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`<?xml version="1.0"?>
<AppCfgExt><mode>1</mode></AppCfgExt>
`), 0o644))

	d, rec, _ := newDispatcher()
	defer d.Close()

	results := d.SendConfig(context.Background(), src, protocol.ConfigAppCfgExt, "whitelist", []string{"10.0.0.1", "10.0.0.2"})
	require.Len(t, results, 2)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Contains(t, results[1].Error, "not found")

	sent := rec.All()
	require.Len(t, sent, 1)
	assert.Equal(t, `SetAppCfgExt <?xml version="1.0" encoding="utf-8"?> <AppCfgExt><mode>1</mode></AppCfgExt>`, sent[0].Text)
}

func TestFileConfigSource_RejectsTraversal(t *testing.T) {
	src := dispatcher.NewFileConfigSource(t.TempDir())
	_, err := src.Load(protocol.ConfigCellPara, "../etc", "10.0.0.1")
	assert.Error(t, err)
}

func TestFileConfigSource_SaveResponse(t *testing.T) {
	dir := t.TempDir()
	src := dispatcher.NewFileConfigSource(dir)
	require.NoError(t, src.SaveResponse(protocol.ConfigCellPara, "10.0.0.1", "<a/>"))

	data, err := os.ReadFile(filepath.Join(dir, "received", "cellpara", "cellpara_10.0.0.1.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<a/>", string(data))
}

func TestUDPTransport(t *testing.T) {
	device, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer device.Close()

	local, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer local.Close()

	port := device.LocalAddr().(*net.UDPAddr).Port
	tr := dispatcher.NewUDPTransport(local, port)
	require.NoError(t, tr.Send(context.Background(), "127.0.0.1", []byte("StartCell")))

	buf := make([]byte, 64)
	require.NoError(t, device.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := device.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "StartCell", string(buf[:n]))

	err = tr.Send(context.Background(), "not-an-ip", []byte("x"))
	assert.ErrorIs(t, err, dispatcher.ErrInvalidAddress)
}
