package probing

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("probing: id not found")
	ErrExist    = errors.New("probing: id already exists")
)

// Prober defines probing operation.
type Prober interface {
	AddHTTP(id string, interval time.Duration, endpoints []string) error

	Remove(id string) error
	RemoveAll()

	Reset(id string) error

	Status(id string) (Status, error)
}

type prober struct {
	mu        sync.Mutex
	transport http.RoundTripper
	statuses  map[string]*status
	cancels   map[string]chan struct{}
}

// NewProber returns a Prober with the given RoundTripper.
// A nil transport uses http.DefaultTransport.
//
// (etcd pkg.probing.NewProber)
func NewProber(transport http.RoundTripper) Prober {
	p := &prober{
		transport: transport,
		statuses:  make(map[string]*status),
		cancels:   make(map[string]chan struct{}),
	}
	if p.transport == nil {
		p.transport = http.DefaultTransport
	}
	return p
}

func (p *prober) AddHTTP(id string, interval time.Duration, endpoints []string) error {
	p.mu.Lock()
	if _, ok := p.statuses[id]; ok {
		p.mu.Unlock()
		return ErrExist
	}
	st := &status{health: true, stopc: make(chan struct{})}
	stop := make(chan struct{})
	p.statuses[id] = st
	p.cancels[id] = stop
	p.mu.Unlock()

	client := &http.Client{Transport: p.transport}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		idx := 0
		for {
			select {
			case <-stop:
				close(st.stopc)
				return
			case <-ticker.C:
				if len(endpoints) == 0 {
					continue
				}
				ep := endpoints[idx%len(endpoints)]
				idx++

				start := time.Now()
				resp, err := client.Get(ep)
				if err != nil {
					st.recordFailure(err)
					continue
				}
				resp.Body.Close()
				st.record(time.Since(start), start)
			}
		}
	}()

	return nil
}

func (p *prober) Remove(id string) error {
	p.mu.Lock()
	stop, ok := p.cancels[id]
	if !ok {
		p.mu.Unlock()
		return ErrNotFound
	}
	delete(p.statuses, id)
	delete(p.cancels, id)
	p.mu.Unlock()

	close(stop)
	return nil
}

func (p *prober) RemoveAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.cancels))
	for id := range p.cancels {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Remove(id)
	}
}

func (p *prober) Reset(id string) error {
	p.mu.Lock()
	st, ok := p.statuses[id]
	p.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	st.reset()
	return nil
}

func (p *prober) Status(id string) (Status, error) {
	p.mu.Lock()
	st, ok := p.statuses[id]
	p.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}
