package consul

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/testcontainers/testcontainers-go"
	tcconsul "github.com/testcontainers/testcontainers-go/modules/consul"
	"github.com/zoobzio/pulse"
)

func setupConsul(t *testing.T) *api.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcconsul.Run(ctx, "hashicorp/consul:1.15")
	if err != nil {
		t.Fatalf("failed to start consul container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ApiEndpoint(ctx)
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client, err := api.NewClient(&api.Config{Address: endpoint})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func entry(id, status string) *api.ServiceEntry {
	return &api.ServiceEntry{
		Service: &api.AgentService{ID: id, Service: "engine"},
		Checks:  api.HealthChecks{{CheckID: "service:" + id, Status: status}},
	}
}

func TestDiff_ReportsChangesOnly(t *testing.T) {
	known := make(map[pulse.EngineID]pulse.SignalKind)

	got := diff(known, []*api.ServiceEntry{entry("b", api.HealthCritical), entry("a", api.HealthPassing)})
	if len(got) != 2 {
		t.Fatalf("expected 2 signals, got %v", got)
	}
	if got[0].Engine != "a" || got[0].Kind != pulse.KindSuccess {
		t.Errorf("expected a success first, got %+v", got[0])
	}
	if got[1].Engine != "b" || got[1].Kind != pulse.KindFailure {
		t.Errorf("expected b failure, got %+v", got[1])
	}

	if got := diff(known, []*api.ServiceEntry{entry("a", api.HealthPassing), entry("b", api.HealthCritical)}); len(got) != 0 {
		t.Errorf("expected no signals for an unchanged catalog, got %v", got)
	}

	got = diff(known, []*api.ServiceEntry{entry("b", api.HealthPassing)})
	if len(got) != 2 {
		t.Fatalf("expected 2 signals, got %v", got)
	}
	if got[0].Engine != "a" || got[0].Kind != pulse.KindFailure {
		t.Errorf("expected vanished a to fail, got %+v", got[0])
	}
	if got[1].Engine != "b" || got[1].Kind != pulse.KindSuccess {
		t.Errorf("expected b to recover, got %+v", got[1])
	}
	if _, ok := known["a"]; ok {
		t.Error("expected vanished instance to be forgotten")
	}
}

func TestDiff_WarningIsFailure(t *testing.T) {
	got := diff(map[pulse.EngineID]pulse.SignalKind{}, []*api.ServiceEntry{entry("a", api.HealthWarning)})
	if len(got) != 1 || got[0].Kind != pulse.KindFailure {
		t.Errorf("expected warning to count as failure, got %v", got)
	}
}

func TestSource_ReportsServiceHealth(t *testing.T) {
	client := setupConsul(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	err := client.Agent().ServiceRegister(&api.AgentServiceRegistration{
		ID:   "engine-1",
		Name: "engine",
		Check: &api.AgentServiceCheck{
			TTL:    "60s",
			Status: api.HealthPassing,
		},
	})
	if err != nil {
		t.Fatalf("failed to register service: %v", err)
	}

	ch, err := New(client, "engine", WithWaitTime(2*time.Second), WithResync(time.Hour)).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	select {
	case sig := <-ch:
		if sig.Engine != "engine-1" || sig.Kind != pulse.KindSuccess {
			t.Errorf("expected engine-1 success, got %+v", sig)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for initial status")
	}

	if err := client.Agent().UpdateTTL("service:engine-1", "stalled", api.HealthCritical); err != nil {
		t.Fatalf("failed to update check: %v", err)
	}

	select {
	case sig := <-ch:
		if sig.Engine != "engine-1" || sig.Kind != pulse.KindFailure {
			t.Errorf("expected engine-1 failure, got %+v", sig)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for status change")
	}
}
