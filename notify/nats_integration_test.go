//go:build integration

package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/docket/id"
	"github.com/xraph/docket/notify"
)

func TestNATS_PublishesCompletion(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start nats container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		t.Fatalf("nats endpoint: %v", err)
	}

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect subscriber: %v", err)
	}
	defer sub.Close()
	ch := make(chan *nats.Msg, 1)
	if _, err := sub.ChanSubscribe("docket.test.completed", ch); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush subscriber: %v", err)
	}

	n, err := notify.ConnectNATS(url, "docket.test.completed")
	if err != nil {
		t.Fatalf("ConnectNATS: %v", err)
	}
	defer n.Close()

	jobID := id.NewJobID()
	if err := n.Notify(ctx, notify.Message{
		JobID:       jobID,
		TenantID:    "org_1",
		Target:      "adjuster@example.com",
		ArtifactRef: "s3://docs/a.pdf",
	}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case m := <-ch:
		var got notify.Message
		if err := json.Unmarshal(m.Data, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.JobID.String() != jobID.String() || got.ArtifactRef != "s3://docs/a.pdf" {
			t.Errorf("message = %+v", got)
		}
		if m.Header.Get(nats.MsgIdHdr) != jobID.String() {
			t.Errorf("Nats-Msg-Id = %q", m.Header.Get(nats.MsgIdHdr))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
