package api

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tokenlens/tokenlens/internal/orchestrator"
)

// A subscriber whose buffer overflowed sees a step jump on its channel;
// the retained history must fill the hole before the jumped-to event.
func TestCatchUpReplaysSkippedSteps(t *testing.T) {
	bus := orchestrator.NewBus(time.Minute, nil)
	defer bus.Close()

	bus.Track("scan-1")
	for i := 0; i < 5; i++ {
		bus.Publish(orchestrator.Event{
			Type:    orchestrator.EventProgress,
			ScanID:  "scan-1",
			Phase:   "fetching",
			Message: fmt.Sprintf("fetched chunk %d", i),
		})
	}

	// Step 1 was acknowledged and step 5 arrived next: 2-4 are the gap.
	rec := httptest.NewRecorder()
	catchUp(rec, bus, "scan-1", 1, 5)

	body := rec.Body.String()
	for _, marker := range []string{"id: 2\n", "id: 3\n", "id: 4\n"} {
		assert.Contains(t, body, marker)
	}
	assert.NotContains(t, body, "id: 1\n", "acknowledged steps are not resent")
	assert.NotContains(t, body, "id: 5\n", "the delivered event is written by the caller")
}

func TestCatchUpNoGapWritesNothing(t *testing.T) {
	bus := orchestrator.NewBus(time.Minute, nil)
	defer bus.Close()

	bus.Track("scan-2")
	bus.Publish(orchestrator.Event{Type: orchestrator.EventProgress, ScanID: "scan-2", Phase: "parsing", Message: "parsing"})

	rec := httptest.NewRecorder()
	catchUp(rec, bus, "scan-2", 1, 2)
	assert.Empty(t, rec.Body.String())
}
