package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	Decisions.WithLabelValues("approve", "changed").Inc()
	DeliveryFailures.WithLabelValues("role", "expected").Inc()
	TicketsOpened.WithLabelValues("opened").Inc()
	TranscriptFlushes.WithLabelValues("ok").Inc()
	TicketsOpen.Set(2)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	for _, name := range []string{
		`gatekeeper_decisions_total{kind="approve",outcome="changed"}`,
		`gatekeeper_delivery_failures_total{class="expected",effect="role"}`,
		`gatekeeper_modmail_open_requests_total{outcome="opened"}`,
		`gatekeeper_modmail_transcript_flushes_total{result="ok"}`,
		`gatekeeper_modmail_open_tickets 2`,
	} {
		assert.Contains(t, string(body), name)
	}
}
