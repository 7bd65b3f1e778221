package leader

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"distributed-quadrature/internal/infra/etcd/etcdtest"
	"distributed-quadrature/internal/worker"
)

func TestParseRank(t *testing.T) {
	const prefix = "/quadrature/workers/default/"
	tests := []struct {
		key     string
		want    int
		wantErr bool
	}{
		{prefix + "1", 1, false},
		{prefix + "12", 12, false},
		{prefix + "0", 0, true},
		{prefix + "abc", 0, true},
		{prefix, 0, true},
		{"/quadrature/workers/other/3", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRank(prefix, tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRank(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRank(%q) = %d, want %d", tt.key, got, tt.want)
		}
	}
}

func TestAddrsForRanks(t *testing.T) {
	workers := map[int]string{1: "a:1", 2: "b:2", 3: "c:3"}

	addrs, ok := addrsForRanks(workers, 4)
	if !ok {
		t.Fatal("expected all ranks present")
	}
	want := []string{"a:1", "b:2", "c:3"}
	for i := range want {
		if addrs[i] != want[i] {
			t.Errorf("addrs[%d] = %q, want %q", i, addrs[i], want[i])
		}
	}

	if _, ok := addrsForRanks(workers, 5); ok {
		t.Error("rank 4 is missing but addrsForRanks reported ok")
	}

	addrs, ok = addrsForRanks(nil, 1)
	if !ok || len(addrs) != 0 {
		t.Errorf("single process group: got %v, %v", addrs, ok)
	}
}

func TestWaitForRanksUnblocksOnRegistration(t *testing.T) {
	client := etcdtest.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	d := NewWorkerDiscovery(client, "pool-a", discardLogger())
	go d.WatchWorkers(ctx)

	// Rank 2 registers before the leader starts waiting; ranks 1 and 3 only
	// after it is blocked.
	rank2 := worker.NewRegistry(client, discardLogger())
	if err := rank2.Register(ctx, "pool-a", 2, "b:2", 5); err != nil {
		t.Fatal(err)
	}
	// A worker in a different pool must not satisfy rank 1.
	stranger := worker.NewRegistry(client, discardLogger())
	if err := stranger.Register(ctx, "pool-b", 1, "x:1", 5); err != nil {
		t.Fatal(err)
	}

	type waitResult struct {
		addrs []string
		err   error
	}
	done := make(chan waitResult, 1)
	go func() {
		addrs, err := d.WaitForRanks(ctx, 4)
		done <- waitResult{addrs, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("WaitForRanks returned early: %v, %v", r.addrs, r.err)
	case <-time.After(200 * time.Millisecond):
	}

	rank3 := worker.NewRegistry(client, discardLogger())
	if err := rank3.Register(ctx, "pool-a", 3, "c:3", 5); err != nil {
		t.Fatal(err)
	}
	rank1 := worker.NewRegistry(client, discardLogger())
	if err := rank1.Register(ctx, "pool-a", 1, "a:1", 5); err != nil {
		t.Fatal(err)
	}

	var r waitResult
	select {
	case r = <-done:
	case <-ctx.Done():
		t.Fatal("WaitForRanks did not unblock after every rank registered")
	}
	if r.err != nil {
		t.Fatalf("WaitForRanks: %v", r.err)
	}
	want := []string{"a:1", "b:2", "c:3"}
	if fmt.Sprint(r.addrs) != fmt.Sprint(want) {
		t.Errorf("addrs = %v, want %v", r.addrs, want)
	}

	if err := rank2.Deregister(ctx); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := d.Addrs(4); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("rank 2 still listed after Deregister")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWaitForRanksHonoursDeadline(t *testing.T) {
	d := NewWorkerDiscovery(nil, "default", discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := d.WaitForRanks(ctx, 3); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want DeadlineExceeded", err)
	}
}
