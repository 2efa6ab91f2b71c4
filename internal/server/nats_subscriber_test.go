package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbu-fleet/bbu-server/internal/campaign"
	"github.com/bbu-fleet/bbu-server/internal/dispatcher"
	"github.com/bbu-fleet/bbu-server/internal/models"
)

type fakeCommands struct {
	started  []campaign.StartRequest
	stopped  []int64
	active   int
	targets  []campaign.TargetRequest
	startErr error
}

func (f *fakeCommands) Start(_ context.Context, req campaign.StartRequest) (*campaign.StartResponse, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req)
	return &campaign.StartResponse{Campaign: &models.Campaign{ID: 1, Name: req.Name}}, nil
}

func (f *fakeCommands) Stop(_ context.Context, id int64) ([]dispatcher.Result, error) {
	f.stopped = append(f.stopped, id)
	return []dispatcher.Result{{IP: "10.0.0.1", Command: "StopCell", Status: dispatcher.StatusSuccess}}, nil
}

func (f *fakeCommands) StopActive(context.Context) ([]dispatcher.Result, error) {
	f.active++
	return nil, campaign.ErrNoActiveCampaign
}

func (f *fakeCommands) AddTarget(_ context.Context, req campaign.TargetRequest) (*models.Target, []dispatcher.Result, error) {
	f.targets = append(f.targets, req)
	return &models.Target{ID: 3, Name: req.Name, IMSI: req.IMSI}, nil, nil
}

func TestSubject(t *testing.T) {
	s := NewNATSSubscriber(nil, &fakeCommands{}, "")
	assert.Equal(t, "bbu.cmd.campaign.start", s.Subject("campaign.start"))

	s = NewNATSSubscriber(nil, &fakeCommands{}, "site1")
	assert.Equal(t, "site1.cmd.target.add", s.Subject("target.add"))
}

func TestHandleCampaignStart(t *testing.T) {
	cmds := &fakeCommands{}
	s := NewNATSSubscriber(nil, cmds, "bbu")
	ctx := context.Background()

	reply := s.handleCampaignStart(ctx, []byte(`{"name":"n","mode":"all","duration":"01:00","imsi":["510101234567890"]}`))
	require.True(t, reply.OK, reply.Error)
	require.Len(t, cmds.started, 1)
	assert.Equal(t, []string{"510101234567890"}, cmds.started[0].IMSIs)

	reply = s.handleCampaignStart(ctx, []byte(`{not json`))
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "invalid request body")

	cmds.startErr = errors.New("boom")
	reply = s.handleCampaignStart(ctx, []byte(`{}`))
	assert.False(t, reply.OK)
	assert.Equal(t, "boom", reply.Error)
}

func TestHandleCampaignStop(t *testing.T) {
	cmds := &fakeCommands{}
	s := NewNATSSubscriber(nil, cmds, "bbu")
	ctx := context.Background()

	reply := s.handleCampaignStop(ctx, []byte(`{"id":5}`))
	assert.True(t, reply.OK)
	assert.Equal(t, []int64{5}, cmds.stopped)

	reply = s.handleCampaignStop(ctx, nil)
	assert.False(t, reply.OK)
	assert.Equal(t, 1, cmds.active)
	assert.Equal(t, campaign.ErrNoActiveCampaign.Error(), reply.Error)
}

func TestHandleTargetAdd(t *testing.T) {
	cmds := &fakeCommands{}
	s := NewNATSSubscriber(nil, cmds, "bbu")

	reply := s.handleTargetAdd(context.Background(), []byte(`{"name":"suspect","imsi":"510101234567890"}`))
	require.True(t, reply.OK)
	require.Len(t, cmds.targets, 1)
	assert.Equal(t, "suspect", cmds.targets[0].Name)
}
