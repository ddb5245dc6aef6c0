package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/blukai/nova/internal/metrics"
	"github.com/matryer/is"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	is := is.New(t)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.Connected()
	m.Connected()
	m.Disconnected("protocol")
	m.Decoded("login")
	m.Decoded("login")
	m.Polled(time.Millisecond, 120, 3)

	expected := `
# HELP nova_net_connections Number of connected clients.
# TYPE nova_net_connections gauge
nova_net_connections 1
# HELP nova_net_disconnects_total Total number of disconnects by reason.
# TYPE nova_net_disconnects_total counter
nova_net_disconnects_total{reason="protocol"} 1
# HELP nova_codec_decoded_packets_total Total number of decoded packets by name.
# TYPE nova_codec_decoded_packets_total counter
nova_codec_decoded_packets_total{packet="login"} 2
# HELP nova_reactor_work_groups_total Total number of work groups submitted to the executor.
# TYPE nova_reactor_work_groups_total counter
nova_reactor_work_groups_total 3
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"nova_net_connections",
		"nova_net_disconnects_total",
		"nova_codec_decoded_packets_total",
		"nova_reactor_work_groups_total",
	)
	is.NoErr(err)
}

func TestNilMetrics(t *testing.T) {
	var m *metrics.Metrics
	m.Connected()
	m.Disconnected("closed")
	m.Read(1)
	m.Written(1)
	m.Decoded("x")
	m.Encoded("x")
	m.ProtocolError("x")
	m.Polled(time.Second, 1, 1)
}
