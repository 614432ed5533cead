package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/millplan/core/milp"
	coremon "github.com/kilianp07/millplan/core/monitoring"
	"github.com/kilianp07/millplan/core/planning"
)

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// mockClient implements pahoClient for tests
type mockClient struct {
	opts        *paho.ClientOptions
	published   []published
	publishErrs []error
	connectErr  error
	connected   bool
}

func (m *mockClient) IsConnected() bool { return m.connected }
func (m *mockClient) Connect() paho.Token {
	if m.connectErr != nil {
		return &dummyToken{err: m.connectErr}
	}
	m.connected = true
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) { m.connected = false }
func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	b, _ := payload.([]byte)
	m.published = append(m.published, published{topic, qos, retained, b})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type recordMonitor struct {
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) CapturePanic(any)    {}
func (r *recordMonitor) Flush(time.Duration) {}

func withMock(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } })
}

func sampleResult() *planning.Result {
	return &planning.Result{
		RunID:     "run-1",
		Horizon:   2,
		Status:    milp.StatusOptimal,
		Objective: 12,
		StartedAt: time.UnixMilli(1700000000000),
		Schedule: &planning.Schedule{
			Horizon:    2,
			TargetsMet: true,
			Produced:   map[int]map[string]float64{1: {"K1": 20}, 2: {"K1": 10}},
			Resources: []*planning.ResourceSchedule{
				{Resource: "F1", Stage: 1, Slots: []planning.Slot{{Kind: planning.KindCampaign, Campaign: "K1", Tons: 10}, {Kind: planning.KindCampaign, Campaign: "K1", Tons: 10}}},
				{Resource: "M1", Stage: 2, Slots: []planning.Slot{{Kind: planning.KindRepair}, {Kind: planning.KindCampaign, Campaign: "K1", Tons: 10}}},
			},
		},
	}
}

func TestPublishPlan(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	pub, err := NewPlanPublisher(Config{Broker: "tcp://localhost:1883", QoS: 1, Retain: true, LWTTopic: "lwt", LWTPayload: "bye"})
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	if !mc.opts.WillEnabled || mc.opts.WillTopic != "lwt" {
		t.Fatalf("will options incorrect")
	}
	if err := pub.PublishPlan(context.Background(), sampleResult()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(mc.published) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(mc.published))
	}
	sum := mc.published[0]
	if sum.topic != "millplan/plans" || sum.qos != 1 || !sum.retained {
		t.Fatalf("summary options not applied: %+v", sum)
	}
	var msg PlanMessage
	if err := json.Unmarshal(sum.payload, &msg); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if msg.RunID != "run-1" || msg.Status != "optimal" || !msg.TargetsMet || msg.Produced["K1"] != 10 {
		t.Fatalf("unexpected summary %+v", msg)
	}
	if msg.Timestamp != 1700000000000 {
		t.Fatalf("timestamp %d", msg.Timestamp)
	}
	if mc.published[2].topic != "millplan/plans/resources/M1" {
		t.Fatalf("unexpected topic %s", mc.published[2].topic)
	}
	var rm ResourceMessage
	if err := json.Unmarshal(mc.published[2].payload, &rm); err != nil {
		t.Fatalf("decode resource: %v", err)
	}
	if rm.Labels[0] != planning.LabelRepair || rm.Tons[1] != 10 {
		t.Fatalf("unexpected resource message %+v", rm)
	}
	pub.Close()
	if mc.connected {
		t.Fatalf("expected disconnect")
	}
}

func TestPublishPlan_Retry(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail"), nil}}
	withMock(t, mc)
	pub, err := NewPlanPublisher(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1})
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	res := sampleResult()
	res.Schedule = nil
	if err := pub.PublishPlan(context.Background(), res); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(mc.published) != 2 {
		t.Fatalf("expected retry, got %d publishes", len(mc.published))
	}
}

func TestPublishPlan_ErrorCaptured(t *testing.T) {
	fail := fmt.Errorf("net fail")
	mc := &mockClient{publishErrs: []error{fail, fail}}
	withMock(t, mc)
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Reset()

	pub, err := NewPlanPublisher(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1})
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	if err := pub.PublishPlan(context.Background(), sampleResult()); !errors.Is(err, fail) {
		t.Fatalf("expected publish error, got %v", err)
	}
	if mon.err == nil || mon.tags["module"] != "mqtt" || mon.tags["run_id"] != "run-1" {
		t.Fatalf("error not captured: %+v", mon)
	}
}

func TestPublishPlan_Canceled(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail")}}
	withMock(t, mc)
	pub, err := NewPlanPublisher(Config{Broker: "tcp://localhost:1883", MaxRetries: 3, BackoffMS: 1000})
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.PublishPlan(ctx, sampleResult()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestNewPlanPublisher_ConnectError(t *testing.T) {
	withMock(t, &mockClient{connectErr: errors.New("refused")})
	if _, err := NewPlanPublisher(Config{Broker: "tcp://localhost:1883"}); err == nil {
		t.Fatalf("expected connect error")
	}
}
