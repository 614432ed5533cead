package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/millplan/core/monitoring"
	"github.com/kilianp07/millplan/core/planning"
	"github.com/kilianp07/millplan/infra/logger"
)

// ErrPublishTimeout is returned when the broker does not confirm a publish in time.
var ErrPublishTimeout = errors.New("mqtt publish timeout")

// PlanMessage is the retained summary of a plan.
type PlanMessage struct {
	RunID      string             `json:"run_id"`
	Horizon    int                `json:"horizon"`
	Status     string             `json:"status"`
	Objective  float64            `json:"objective"`
	TargetsMet bool               `json:"targets_met"`
	Metrics    *planning.Metrics  `json:"metrics,omitempty"`
	Produced   map[string]float64 `json:"produced,omitempty"`
	Shortfall  map[string]float64 `json:"shortfall,omitempty"`
	Timestamp  int64              `json:"timestamp"`
}

// ResourceMessage carries the labels and tonnage of one resource.
type ResourceMessage struct {
	RunID    string    `json:"run_id"`
	Resource string    `json:"resource"`
	Stage    int       `json:"stage"`
	Labels   []string  `json:"labels"`
	Tons     []float64 `json:"tons"`
}

// PlanPublisher publishes plans to an MQTT broker. The summary goes to the
// configured topic and every resource timeline to <topic>/resources/<id>.
type PlanPublisher struct {
	cli pahoClient
	cfg Config
	log logger.Logger
}

// NewPlanPublisher connects to the MQTT broker.
func NewPlanPublisher(cfg Config) (*PlanPublisher, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_publisher")
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(cfg.timeout()) {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	return &PlanPublisher{cli: c, cfg: cfg, log: log}, nil
}

// NewPlanMessage builds the summary payload of res.
func NewPlanMessage(res *planning.Result) PlanMessage {
	msg := PlanMessage{
		RunID:      res.RunID,
		Horizon:    res.Horizon,
		Status:     res.Status.String(),
		Objective:  res.Objective,
		TargetsMet: res.TargetsMet(),
		Timestamp:  res.StartedAt.UnixMilli(),
	}
	if s := res.Schedule; s != nil {
		m := s.Metrics
		msg.Metrics = &m
		msg.Produced = s.Produced[finalStage(s)]
		msg.Shortfall = s.Shortfall
	}
	return msg
}

func finalStage(s *planning.Schedule) int {
	st := 0
	for _, r := range s.Resources {
		st = max(st, r.Stage)
	}
	return st
}

// PublishPlan publishes the summary of res followed by every resource
// timeline. Each message is retried with exponential backoff.
func (p *PlanPublisher) PublishPlan(ctx context.Context, res *planning.Result) error {
	if res == nil {
		return errors.New("nil plan")
	}
	if err := p.publishJSON(ctx, res.RunID, p.cfg.Topic, NewPlanMessage(res)); err != nil {
		return err
	}
	if res.Schedule == nil {
		return nil
	}
	for _, rs := range res.Schedule.Resources {
		msg := ResourceMessage{RunID: res.RunID, Resource: rs.Resource, Stage: rs.Stage, Labels: rs.Labels(), Tons: make([]float64, len(rs.Slots))}
		for i, sl := range rs.Slots {
			msg.Tons[i] = sl.Tons
		}
		if err := p.publishJSON(ctx, res.RunID, p.cfg.Topic+"/resources/"+rs.Resource, msg); err != nil {
			return err
		}
	}
	p.log.Infof("published plan %s (%d resources) to %s", res.RunID, len(res.Schedule.Resources), p.cfg.Topic)
	return nil
}

func (p *PlanPublisher) publishJSON(ctx context.Context, runID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var publishErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.backoff() * time.Duration(1<<(attempt-1))):
			}
		}
		token := p.cli.Publish(topic, p.cfg.QoS, p.cfg.Retain, payload)
		if !token.WaitTimeout(p.cfg.timeout()) {
			publishErr = ErrPublishTimeout
		} else {
			publishErr = token.Error()
		}
		if publishErr == nil {
			return nil
		}
		p.log.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
	}
	monitoring.CaptureException(publishErr, map[string]string{"module": "mqtt", "topic": topic, "run_id": runID})
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// Close gracefully closes the MQTT connection.
func (p *PlanPublisher) Close() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
