package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jemeelsanni/premium-g-backend-sub001/jobs"
)

func TestTriggerRejectsUnknownJob(t *testing.T) {
	jobsCLI, err := NewJobsCLI("127.0.0.1:6379", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobsCLI.Close() })

	_, err = jobsCLI.Trigger(context.Background(), "mail:send")
	require.ErrorContains(t, err, "unsupported job")
}

func TestTriggerRequiresClient(t *testing.T) {
	var jobsCLI *JobsCLI

	_, err := jobsCLI.Trigger(context.Background(), jobs.TaskStockFullAudit)
	require.Error(t, err)

	_, err = jobsCLI.InspectQueue(context.Background())
	require.Error(t, err)
}
