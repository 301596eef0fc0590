package proxy

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestPoolCycles(t *testing.T) {
	t.Parallel()

	pool := NewPool([]string{"10.0.0.1:8080", "10.0.0.2:8080"})

	got := []string{pool.Next(), pool.Next(), pool.Next(), pool.Next()}
	want := []string{"10.0.0.1:8080", "10.0.0.2:8080", "10.0.0.1:8080", "10.0.0.2:8080"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Next() sequence = %v, want %v", got, want)
		}
	}
}

func TestEmptyPoolMeansDirect(t *testing.T) {
	t.Parallel()

	pool := NewPool(nil)
	if addr := pool.Next(); addr != "" {
		t.Fatalf("empty pool Next() = %q, want empty", addr)
	}
}

func TestLoadPool(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "proxies.txt")
	body := "# exits\n10.0.0.1:8080\n\n10.0.0.2:3128\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	pool, err := LoadPool(path)
	if err != nil {
		t.Fatalf("LoadPool() error = %v", err)
	}
	if pool.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", pool.Len())
	}
}

func TestLoadPoolRejectsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "proxies.txt")
	if err := os.WriteFile(path, []byte("# nothing here\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPool(path); err == nil {
		t.Fatal("expected error for empty proxies file")
	}
}

func TestPoolConcurrentNext(t *testing.T) {
	t.Parallel()

	pool := NewPool([]string{"a:1", "b:1", "c:1"})
	var wg sync.WaitGroup
	counts := make(chan string, 300)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				counts <- pool.Next()
			}
		}()
	}
	wg.Wait()
	close(counts)

	seen := map[string]int{}
	for addr := range counts {
		seen[addr]++
	}
	// Round-robin under contention still spreads evenly.
	for addr, n := range seen {
		if n != 100 {
			t.Fatalf("address %s handed out %d times, want 100", addr, n)
		}
	}
}
