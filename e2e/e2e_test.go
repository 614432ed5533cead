//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/millplan/app"
	"github.com/kilianp07/millplan/config"
	"github.com/kilianp07/millplan/core/factory"
	"github.com/kilianp07/millplan/infra/mqtt"
)

const (
	influxOrg    = "e2e_org"
	influxBucket = "e2e_bucket"
	influxToken  = "e2e-token"
)

// junitReport is a minimal representation of a JUnit XML report. The E2E
// suite writes such a report so CI systems can display the results.
type junitReport struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name    string  `xml:"name,attr"`
	Failure *string `xml:"failure,omitempty"`
	Time    float64 `xml:"time,attr"`
}

func writeJUnit(path string, rep junitReport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	return enc.Encode(rep)
}

// startInflux starts an InfluxDB 2.7 container initialised with the e2e
// organisation, bucket and token.
func startInflux(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "e2e",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "e2e-password",
			"DOCKER_INFLUXDB_INIT_ORG":         influxOrg,
			"DOCKER_INFLUXDB_INIT_BUCKET":      influxBucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": influxToken,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start influx container: %v", err)
	}
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "8086")
	return cont, fmt.Sprintf("http://%s:%s", host, port.Port())
}

// startMosquitto spins up a Mosquitto broker accepting anonymous clients.
func startMosquitto(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start mosquitto: %v", err)
	}
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "1883")
	return cont, fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

func subscribe(t *testing.T, broker, topic string) <-chan mqtt.PlanMessage {
	t.Helper()
	out := make(chan mqtt.PlanMessage, 4)
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("e2e-listener")
	cli := paho.NewClient(opts)
	if tok := cli.Connect(); tok.Wait() && tok.Error() != nil {
		t.Fatalf("listener connect: %v", tok.Error())
	}
	t.Cleanup(func() { cli.Disconnect(100) })
	tok := cli.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		var msg mqtt.PlanMessage
		if err := json.Unmarshal(m.Payload(), &msg); err == nil {
			out <- msg
		}
	})
	if tok.Wait() && tok.Error() != nil {
		t.Fatalf("subscribe: %v", tok.Error())
	}
	return out
}

// Test_E2E_PlanPipeline plans a two-stage plant and checks that the plan
// reaches InfluxDB, the MQTT broker and the run log.
func Test_E2E_PlanPipeline(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not installed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	start := time.Now()

	influxCont, influxURL := startInflux(ctx, t)
	defer influxCont.Terminate(ctx) //nolint:errcheck
	mqttCont, mqttURL := startMosquitto(ctx, t)
	defer mqttCont.Terminate(ctx) //nolint:errcheck
	t.Logf("InfluxDB started at %s", influxURL)
	t.Logf("Mosquitto started at %s", mqttURL)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.RunLog.Backend = "sqlite"
	cfg.RunLog.Path = filepath.Join(dir, "runs.db")
	cfg.Export.Dir = filepath.Join(dir, "out")
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "influx", Conf: map[string]any{
		"url": influxURL, "token": influxToken, "org": influxOrg, "bucket": influxBucket,
	}}}
	cfg.MQTT.Broker = mqttURL
	cfg.MQTT.QoS = 1
	cfg.Plant = &config.PlantSpec{
		Horizon:   4,
		Stages:    [][]string{{"F1"}, {"M1"}},
		Campaigns: []config.CampaignSpec{{Code: "K1", Target: 20}},
		Rates:     map[string]map[string]float64{"F1": {"K1": 10}, "M1": {"K1": 10}},
	}
	plant, err := cfg.LoadPlant()
	if err != nil {
		t.Fatalf("plant: %v", err)
	}
	msgs := subscribe(t, mqttURL, cfg.MQTT.Topic)

	svc, err := app.New(cfg, plant)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	res, err := svc.Plan(ctx, 0)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !res.Feasible() {
		t.Fatalf("plan not feasible: status %s targets met %v", res.Status, res.TargetsMet())
	}
	if _, err := svc.Report(ctx, res); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.RunID != res.RunID || !msg.TargetsMet {
			t.Fatalf("unexpected plan message: %+v", msg)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("no plan message received")
	}

	cli := NewInfluxClient(influxURL, influxOrg, influxBucket, influxToken)
	defer cli.Close()
	for _, m := range []string{"planner_solve", "planner_plan"} {
		n, err := cli.Count(ctx, m)
		if err != nil {
			t.Fatalf("query %s: %v", m, err)
		}
		if n == 0 {
			t.Fatalf("no %s points in Influx", m)
		}
	}

	rep := junitReport{Name: "e2e", Tests: 1, Cases: []junitTestCase{{Name: "Test_E2E_PlanPipeline", Time: time.Since(start).Seconds()}}}
	if err := writeJUnit(filepath.Join(dir, "e2e.xml"), rep); err != nil {
		t.Logf("write junit: %v", err)
	}
}
