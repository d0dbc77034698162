package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/internal/sessionstore/memory"
	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

type unhealthyGateway struct{}

func (unhealthyGateway) Healthy() bool { return false }

func TestHeartbeatMarksAgentErrorAfterMissedBeats(t *testing.T) {
	store := memory.New()
	_ = store.SaveAgent(context.Background(), models.AgentState{AgentID: "main", Enabled: true, Status: models.AgentIdle})

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewHeartbeatMonitor(store, unhealthyGateway{}, WithHeartbeatNow(func() time.Time { return clock }))

	for i := 0; i < missedBeatThreshold+1; i++ {
		m.sweep(context.Background())
		clock = clock.Add(MainHeartbeatInterval)
	}

	agents, err := store.LoadAgents(context.Background())
	if err != nil {
		t.Fatalf("LoadAgents: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents))
	}
	if agents[0].Status != models.AgentError {
		t.Fatalf("expected agent demoted to error, got %s", agents[0].Status)
	}
}

func TestHeartbeatHealthyResetsMissedCount(t *testing.T) {
	store := memory.New()
	_ = store.SaveAgent(context.Background(), models.AgentState{AgentID: "main", Enabled: true, Status: models.AgentIdle})

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewHeartbeatMonitor(store, nil, WithHeartbeatNow(func() time.Time { return clock }))

	for i := 0; i < 5; i++ {
		m.sweep(context.Background())
		clock = clock.Add(MainHeartbeatInterval)
	}

	agents, _ := store.LoadAgents(context.Background())
	if agents[0].Status != models.AgentIdle {
		t.Fatalf("expected agent to remain idle when gateway healthy, got %s", agents[0].Status)
	}
	if !agents[0].LastActiveAt.Equal(clock.Add(-MainHeartbeatInterval)) {
		t.Fatalf("expected last_active_at updated on the last beat")
	}
}
