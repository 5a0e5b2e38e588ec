package etcd

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcetcd "github.com/testcontainers/testcontainers-go/modules/etcd"
	"github.com/zoobzio/pulse"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func setupEtcd(t *testing.T) *clientv3.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcetcd.Run(ctx, "gcr.io/etcd-development/etcd:v3.5.21")
	if err != nil {
		t.Fatalf("failed to start etcd container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ClientEndpoint(ctx)
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return client
}

func expect(t *testing.T, ch <-chan pulse.Signal, id pulse.EngineID, kind pulse.SignalKind) {
	t.Helper()
	select {
	case sig := <-ch:
		if sig.Engine != id || sig.Kind != kind {
			t.Errorf("expected %s %s, got %+v", id, kind, sig)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("timeout waiting for %s %s", id, kind)
	}
}

func TestSource_EngineID(t *testing.T) {
	s := New(nil, "/engines/")
	if id := s.engine([]byte("/engines/engine-1")); id != "engine-1" {
		t.Errorf("expected engine-1, got %q", id)
	}
	if id := s.engine([]byte("/engines/")); id != "" {
		t.Errorf("expected empty id for the prefix itself, got %q", id)
	}
}

func TestSource_ReportsMembership(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := client.Put(ctx, "/engines/engine-1", ""); err != nil {
		t.Fatalf("failed to put: %v", err)
	}

	ch, err := New(client, "/engines/", WithResync(time.Hour)).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	expect(t, ch, "engine-1", pulse.KindSuccess)

	if _, err := client.Put(ctx, "/engines/engine-2", ""); err != nil {
		t.Fatalf("failed to put: %v", err)
	}
	expect(t, ch, "engine-2", pulse.KindSuccess)

	if _, err := client.Delete(ctx, "/engines/engine-1"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	expect(t, ch, "engine-1", pulse.KindFailure)
}

func TestAnnounce_LeaseExpiry(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ch, err := New(client, "/engines/", WithResync(time.Hour)).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	announceCtx, stop := context.WithCancel(ctx)
	lease, err := Announce(announceCtx, client, "/engines/", "engine-3", 2)
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	expect(t, ch, "engine-3", pulse.KindSuccess)

	stop()
	if _, err := client.Revoke(ctx, lease); err != nil {
		t.Fatalf("failed to revoke lease: %v", err)
	}
	expect(t, ch, "engine-3", pulse.KindFailure)
}
