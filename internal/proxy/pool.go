// Package proxy manages the egress-resource pool: the ordered list of
// host:port exits that attempts are spread across.
package proxy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Pool hands out egress addresses round-robin. It is shared between the
// orchestrator and the solving service's submission path, so allocation is
// serialized.
type Pool struct {
	mu    sync.Mutex
	addrs []string
	next  int
}

// NewPool builds a pool from host:port addresses.
func NewPool(addrs []string) *Pool {
	return &Pool{addrs: addrs}
}

// LoadPool reads a proxies file: one host:port per line, blanks and
// #-comments skipped.
func LoadPool(path string) (*Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open proxies file: %w", err)
	}
	defer f.Close()

	addrs, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no valid proxies in %s", path)
	}
	return NewPool(addrs), nil
}

func parse(r io.Reader) ([]string, error) {
	var addrs []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addrs = append(addrs, line)
	}
	return addrs, scanner.Err()
}

// Next returns the next egress address, cycling through the pool. An empty
// pool returns "" and callers treat that as direct egress.
func (p *Pool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.addrs) == 0 {
		return ""
	}
	addr := p.addrs[p.next%len(p.addrs)]
	p.next++
	return addr
}

// Len returns the number of configured exits.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.addrs)
}
