package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSiteLockDroppedAfterLastHolder(t *testing.T) {
	o := &Orchestrator{siteLocks: make(map[string]*siteLock)}

	first := o.acquireSiteLock("site-1")
	second := o.acquireSiteLock("site-1")
	assert.Same(t, first, second, "concurrent holders share one mutex")

	o.releaseSiteLock("site-1")
	assert.Len(t, o.siteLocks, 1, "entry survives while a holder remains")

	o.releaseSiteLock("site-1")
	assert.Empty(t, o.siteLocks, "last release evicts the entry")

	o.acquireSiteLock("site-2")
	o.releaseSiteLock("site-2")
	o.releaseSiteLock("site-2") // extra release is harmless
	assert.Empty(t, o.siteLocks)
}
