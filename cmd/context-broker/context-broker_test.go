package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"

	"github.com/diwise/graph-broker/internal/pkg/application/events"
	"github.com/diwise/graph-broker/internal/pkg/application/listeners"
	"github.com/diwise/graph-broker/internal/pkg/infrastructure/metrics"
)

func TestFlagsOverrideEnvironmentAndDefaults(t *testing.T) {
	is := is.New(t)
	t.Setenv("SERVICE_PORT", "9090")
	t.Setenv("POLICY_FILE", "/etc/policies.rego")

	flags, err := parseExternalConfig(context.Background(), defaultFlags(), []string{"-port", "0", "-control", ""})
	is.NoErr(err)

	is.Equal(flags[servicePort], "0")
	is.Equal(flags[controlPort], "")
	is.Equal(flags[opaPath], "/etc/policies.rego")
	is.Equal(flags[logFormat], "json")
}

func TestUnknownFlagIsAnError(t *testing.T) {
	is := is.New(t)

	_, err := parseExternalConfig(context.Background(), defaultFlags(), []string{"-nosuchflag"})
	is.True(err != nil)
}

func TestControlRouterExposesMetrics(t *testing.T) {
	is := is.New(t)

	m := metrics.New()
	m.MessageConsumed("observations", "ack")

	ts := httptest.NewServer(newControlRouter(m.Handler(), func(context.Context) error { return nil }))
	defer ts.Close()

	resp, body := get(is, ts.URL+"/metrics")
	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(strings.Contains(body, `graph_broker_messages_consumed_total{consumer="observations",outcome="ack"} 1`))
}

func TestHealthReportsUnavailableStores(t *testing.T) {
	is := is.New(t)

	healthy := true
	health := func(context.Context) error {
		if !healthy {
			return errors.New("graph store unavailable")
		}
		return nil
	}

	ts := httptest.NewServer(newControlRouter(http.NotFoundHandler(), health))
	defer ts.Close()

	resp, _ := get(is, ts.URL+"/health")
	is.Equal(resp.StatusCode, http.StatusNoContent)

	healthy = false

	resp, _ = get(is, ts.URL+"/health")
	is.Equal(resp.StatusCode, http.StatusServiceUnavailable)
}

func TestInitializeRejectsBrokenConfiguration(t *testing.T) {
	is := is.New(t)

	_, err := initialize(context.Background(), defaultFlags(), strings.NewReader("graph: [unclosed"), strings.NewReader(""))
	is.True(err != nil)
}

func TestMeasuresReachTheGraphOnlyThroughTheMeasureListener(t *testing.T) {
	is := is.New(t)

	svc := &service{
		observations: listeners.NewObservationListener(nil, nil, nil),
		measures:     listeners.NewMeasureListener(nil, nil),
		iam:          listeners.NewIAMListener(nil, nil),
		projection:   listeners.NewTemporalListener(nil, nil),
	}

	consumers := map[string][]string{}
	for _, s := range svc.subscriptions() {
		consumers[s.name] = s.subjects
	}

	is.Equal(consumers["measures"], []string{listeners.MeasureSubject, listeners.AlarmSubject})
	is.Equal(consumers["observations"], []string{listeners.ObservationSubjects, listeners.EquipmentSubjects})

	// nil graph, panics unless the message is skipped
	for _, subject := range []string{listeners.MeasureSubject, listeners.AlarmSubject} {
		msg := &message{subject: subject, data: events.EntityEvent{OperationType: events.AttributeAppend, EntityID: "urn:ngsi-ld:Sensor:01"}.Bytes()}
		is.NoErr(svc.subscriptions()[0].handler(context.Background(), msg))
	}
}

type message struct {
	subject string
	data    []byte
}

func (m *message) Subject() string { return m.subject }
func (m *message) Data() []byte    { return m.data }
func (m *message) Ack() error      { return nil }
func (m *message) Nak() error      { return nil }

func get(is *is.I, url string) (*http.Response, string) {
	resp, err := http.Get(url)
	is.NoErr(err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	is.NoErr(err)

	return resp, string(b)
}
