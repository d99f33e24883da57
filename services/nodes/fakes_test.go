package nodes

import (
	"context"
	"errors"
	"sync"

	"genflow/pkg/clients/assets"
	"genflow/pkg/clients/provider"
	"genflow/services/storage"
)

type fakeStore struct {
	mu       sync.Mutex
	nodes    map[string]storage.Node
	statuses map[string][]storage.NodeStatus
	results  map[string][]storage.NodeResult
	configs  map[string][]map[string]any

	nodeErr   error
	statusErr error
	resultErr error
}

func newFakeStore(nodes ...storage.Node) *fakeStore {
	s := &fakeStore{
		nodes:    make(map[string]storage.Node),
		statuses: make(map[string][]storage.NodeStatus),
		results:  make(map[string][]storage.NodeResult),
		configs:  make(map[string][]map[string]any),
	}
	for _, n := range nodes {
		s.nodes[n.ID] = n.Clone()
	}
	return s
}

func (s *fakeStore) Node(_ context.Context, _, nodeID string) (storage.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nodeErr != nil {
		return storage.Node{}, s.nodeErr
	}
	n, ok := s.nodes[nodeID]
	if !ok {
		return storage.Node{}, errors.New("node not found")
	}
	return n.Clone(), nil
}

func (s *fakeStore) UpdateNodeStatus(_ context.Context, _, nodeID string, status storage.NodeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[nodeID] = append(s.statuses[nodeID], status)
	return s.statusErr
}

func (s *fakeStore) UpdateNodeResult(_ context.Context, _, nodeID string, r storage.NodeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[nodeID] = append(s.results[nodeID], r)
	return s.resultErr
}

func (s *fakeStore) UpdateNodeConfig(_ context.Context, _, nodeID string, partial map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[nodeID] = append(s.configs[nodeID], partial)
	return nil
}

func (s *fakeStore) setConfig(nodeID, key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nodes[nodeID]
	if n.Config == nil {
		n.Config = map[string]any{}
	}
	n.Config[key] = v
	s.nodes[nodeID] = n
}

type fakeProvider struct {
	mu       sync.Mutex
	requests []provider.Request
	resp     *provider.Response
	err      error
}

func (p *fakeProvider) GenerateImage(_ context.Context, req provider.Request) (*provider.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if p.resp != nil {
		return p.resp, nil
	}
	return &provider.Response{Success: true, ImageURL: "https://cdn.test/out.png", AssetRef: "assets/out.png", ExecutionID: "prov-1"}, nil
}

func (p *fakeProvider) calls() []provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Request(nil), p.requests...)
}

type fakeAssets struct {
	assets map[string]*assets.Asset
	err    error
}

func (a *fakeAssets) Fetch(_ context.Context, ref string) (*assets.Asset, error) {
	if a.err != nil {
		return nil, a.err
	}
	asset, ok := a.assets[ref]
	if !ok {
		return nil, errors.New("asset not found")
	}
	return asset, nil
}
