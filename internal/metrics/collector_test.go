package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/MansoorButt/kube-infra/internal/model"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.ConnectionAdmitted()
	c.ConnectionAdmitted()
	c.ConnectionRejected()
	c.SubmissionAccepted(100)
	c.SubmissionAccepted(20)
	c.SubmissionDuplicate()
	c.ArtifactSent(64)
	c.ParticipantRemoved("io")
	c.Broadcast("control")
	c.RoundState(model.Collecting)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.connectionsAdmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsRejected))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.submissions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.duplicateSubmissions))
	assert.Equal(t, 120.0, testutil.ToFloat64(c.payloadBytes.WithLabelValues("received")))
	assert.Equal(t, 64.0, testutil.ToFloat64(c.payloadBytes.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.participantsRemoved.WithLabelValues("io")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.broadcasts.WithLabelValues("control")))
	assert.Equal(t, float64(model.Collecting), testutil.ToFloat64(c.roundState))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.ConnectionRejected()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.connectionsRejected))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.connectionsRejected))
}
