package ingest

import (
	"context"
	"encoding/json"
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
	"github.com/bbu-fleet/bbu-server/internal/eventbus"
	"github.com/bbu-fleet/bbu-server/internal/models"
	"github.com/bbu-fleet/bbu-server/internal/protocol"
	"github.com/bbu-fleet/bbu-server/internal/registry"
	"github.com/bbu-fleet/bbu-server/internal/storage"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	srv    *Server
	store  *storage.MemoryStore
	bus    *eventbus.Bus
	reg    *registry.Registry
	clk    *clock.Fake
	xmlDir string
}

func newFixture(t *testing.T, conn net.PacketConn) *fixture {
	t.Helper()
	f := &fixture{
		store:  storage.NewMemoryStore(),
		bus:    eventbus.New(),
		clk:    clock.NewFake(t0),
		xmlDir: t.TempDir(),
	}
	disp := dispatcher.New(dispatchertest.NewRecorder(), f.clk)
	f.reg = registry.New(f.store, f.bus, disp, f.clk)
	f.srv = New(conn, f.reg, f.store, f.bus, dispatcher.NewFileConfigSource(f.xmlDir), f.clk)
	t.Cleanup(func() {
		disp.Close()
		f.bus.Close()
	})
	return f
}

func (f *fixture) events(topic eventbus.Topic) <-chan []byte {
	ch := make(chan []byte, 16)
	f.bus.Subscribe(topic, func(_ eventbus.Topic, payload []byte) error {
		ch <- payload
		return nil
	})
	return ch
}

func TestHandle_HeartbeatTwiceKeepsOneDevice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.srv.Handle(ctx, "10.0.0.1", []byte("BBU HeartBeat v1 CH-04 STATE[CLOSED] TEMP[41] MODE[LTE]")))
	f.clk.Advance(time.Second)
	require.NoError(t, f.srv.Handle(ctx, "10.0.0.1", []byte("BBU HeartBeat v1 CH-04 STATE[ONLINE] TEMP[42] MODE[LTE]")))

	devices, err := f.store.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, models.StateOnline, devices[0].State)
	assert.Equal(t, "42", devices[0].Temp)
	assert.Equal(t, t0.Add(time.Second), devices[0].LastSeen)
}

func TestHandle_DecodeErrorIsDropped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	err := f.srv.Handle(ctx, "10.0.0.1", []byte("HeartBeat TEMP[41]"))
	var de *protocol.DecodeError
	assert.True(t, errors.As(err, &de))

	err = f.srv.Handle(ctx, "10.0.0.1", []byte("garbage"))
	assert.ErrorIs(t, err, protocol.ErrUnknownMessage)

	devices, _ := f.store.ListDevices(ctx)
	assert.Empty(t, devices)
}

func TestHandle_UeInfoUpsertsCrawl(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	crawls := f.events(eventbus.TopicCrawling)

	require.NoError(t, f.srv.Handle(ctx, "10.0.0.1", []byte("BBU HeartBeat v1 CH-04 STATE[ONLINE] TEMP[41] MODE[LTE]")))
	require.NoError(t, f.srv.Handle(ctx, "10.0.0.9", []byte("GPSInfoIndi lat[-6.2] lon[106.8]")))

	started := t0
	c := &models.Campaign{Name: "c", Mode: models.ModeAll, Status: models.CampaignStarted, Duration: time.Minute, StartScan: &started}
	require.NoError(t, f.store.CreateCampaign(ctx, c))

	first := "OneUeInfoIndi rsrp[-90] taType[1] ulCqi[12] ulRssi[100] imsi[510101234567890] imei[12345678901234]"
	second := "OneUeInfoIndi rsrp[-80] taType[2] ulCqi[10] ulRssi[110] imsi[510101234567890]"
	require.NoError(t, f.srv.Handle(ctx, "10.0.0.1", []byte(first)))
	require.NoError(t, f.srv.Handle(ctx, "10.0.0.1", []byte(second)))

	rows, err := f.store.ListCrawls(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, 2, row.Count)
	assert.Equal(t, "-80", row.RSRP)
	assert.Equal(t, -20, row.ULRssi)
	assert.Equal(t, "Telkomsel", row.Provider)
	assert.Equal(t, "CH-04", row.Channel)
	assert.Equal(t, "-6.2", row.Lat)
	assert.Equal(t, "106.8", row.Long)
	assert.Len(t, row.IMEI, 15)

	var ev models.CrawlEvent
	select {
	case p := <-crawls:
		require.NoError(t, json.Unmarshal(p, &ev))
	case <-time.After(2 * time.Second):
		t.Fatal("no crawl event")
	}
	assert.Equal(t, "10.0.0.1", ev.SourceIP)
	assert.Equal(t, "510101234567890", ev.Record.IMSI)
}

func TestHandle_ConfigResponse(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.srv.Handle(ctx, "10.0.0.1", []byte("BBU HeartBeat v1 CH-04 STATE[ONLINE] TEMP[41] MODE[LTE]")))

	doc := `<?xml version="1.0" encoding="utf-8"?><CellPara><mcc>510</mcc><mnc>1</mnc><band>3</band><erfcn>1850</erfcn></CellPara>`
	require.NoError(t, f.srv.Handle(ctx, "10.0.0.1", []byte("GetCellParaRsp "+doc)))

	d, err := f.store.GetDevice(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "510", d.MCC)
	assert.Equal(t, "01", d.MNC)
	assert.Equal(t, "1850", d.ARFCN)

	saved, err := os.ReadFile(filepath.Join(f.xmlDir, "received", "cellpara", "cellpara_10.0.0.1.xml"))
	require.NoError(t, err)
	assert.Equal(t, doc, string(saved))
}

func TestServe_Loopback(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	f := newFixture(t, conn)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx) }()

	client, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte("BBU HeartBeat v1 CH-01 STATE[ONLINE] TEMP[40] MODE[LTE]"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := f.store.GetDevice(context.Background(), "127.0.0.1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
