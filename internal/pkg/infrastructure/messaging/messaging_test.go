package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"
)

func TestConfigDefaults(t *testing.T) {
	is := is.New(t)

	cfg := Config{URL: "nats://bus:4222"}.withDefaults()

	is.Equal(cfg.URL, "nats://bus:4222")
	is.Equal(cfg.Stream, "CIM")
	is.Equal(cfg.Subjects, []string{"cim.>"})
	is.Equal(cfg.BatchSize, 100)
}

func TestNewMessageCarriesKey(t *testing.T) {
	is := is.New(t)

	msg := newMessage("cim.entity.BreedingService", "urn:ngsi-ld:BreedingService:0214", []byte("{}"))

	is.Equal(msg.Subject, "cim.entity.BreedingService")
	is.Equal(msg.Header.Get(KeyHeader), "urn:ngsi-ld:BreedingService:0214")
	is.Equal(string(msg.Data), "{}")
}

func TestSettleAcksOrNaks(t *testing.T) {
	is := is.New(t)
	counter := &fakeCounter{outcomes: map[string]int{}}
	c := &Client{counter: counter}
	ctx := context.Background()

	ok := &fakeMessage{}
	c.settle(ctx, "listener", nil, ok)
	is.True(ok.acked)

	failed := &fakeMessage{}
	c.settle(ctx, "listener", errors.New("failed"), failed)
	is.True(failed.naked)
	is.True(!failed.acked)

	is.Equal(counter.outcomes["ack"], 1)
	is.Equal(counter.outcomes["nak"], 1)
}

type fakeMessage struct {
	acked, naked bool
}

func (m *fakeMessage) Subject() string { return "cim.entity.Test" }
func (m *fakeMessage) Data() []byte    { return nil }
func (m *fakeMessage) Ack() error      { m.acked = true; return nil }
func (m *fakeMessage) Nak() error      { m.naked = true; return nil }

type fakeCounter struct {
	outcomes map[string]int
}

func (f *fakeCounter) MessageConsumed(consumer, outcome string) {
	f.outcomes[outcome]++
}
