package gadget

import "sync"

// gadgetRootLocks holds one mutex per gadget root. Every mutating operation
// of either manager runs under it.
var gadgetRootLocks sync.Map

func lockRoot(root string) func() {
	mu, _ := gadgetRootLocks.LoadOrStore(root, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
