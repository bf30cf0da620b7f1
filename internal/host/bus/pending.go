// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package bus

// pendingSub is a subscribe request parked until its target instance finishes
// loading.
type pendingSub struct {
	name    string
	handler Handler
	limit   int
}

// pendingSet queues subscribe requests keyed by the instance id the loader
// still reports as loading. The bus registers one load-complete callback per
// instance id; when it fires, the whole queue for that id is drained and each
// request is replayed with the resolved binding.
type pendingSet struct {
	byInstance map[string][]pendingSub
}

func newPendingSet() *pendingSet {
	return &pendingSet{byInstance: make(map[string][]pendingSub)}
}

// add queues a request and reports whether it is the first one parked for the
// instance, i.e. whether the caller still needs to register the load-complete
// callback.
func (p *pendingSet) add(instanceID string, sub pendingSub) bool {
	queue, exists := p.byInstance[instanceID]
	p.byInstance[instanceID] = append(queue, sub)
	return !exists
}

// drain removes and returns the queue for an instance, oldest first.
func (p *pendingSet) drain(instanceID string) []pendingSub {
	queue := p.byInstance[instanceID]
	delete(p.byInstance, instanceID)
	return queue
}

func (p *pendingSet) instances() []string {
	ids := make([]string, 0, len(p.byInstance))
	for id := range p.byInstance {
		ids = append(ids, id)
	}
	return ids
}
