package worker

import (
	"context"
	"testing"
	"time"

	"distributed-quadrature/internal/infra/etcd/etcdtest"
)

func TestRegistryKey(t *testing.T) {
	if got := RegistryKey("default", 3); got != "/quadrature/workers/default/3" {
		t.Errorf("RegistryKey = %q", got)
	}
}

func TestRegisterPublishesLeasedAddress(t *testing.T) {
	client := etcdtest.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := NewRegistry(client, discardLogger())
	if err := r.Register(ctx, "default", 2, "10.0.0.2:50051", 5); err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp, err := client.Get(ctx, RegistryKey("default", 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Kvs) != 1 {
		t.Fatalf("got %d keys, want 1", len(resp.Kvs))
	}
	if got := string(resp.Kvs[0].Value); got != "10.0.0.2:50051" {
		t.Errorf("registered address = %q", got)
	}
	if resp.Kvs[0].Lease == 0 {
		t.Error("registration key is not attached to a lease")
	}

	if err := r.Deregister(ctx); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	resp, err = client.Get(ctx, RegistryKey("default", 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Kvs) != 0 {
		t.Error("registration key survived Deregister")
	}
}
