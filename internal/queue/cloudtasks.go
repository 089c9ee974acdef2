package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Whole-task execution bound on the worker side; a task still running past
// this is considered lost and redelivered.
const dispatchDeadline = 10 * time.Minute

// Client wraps one Cloud Tasks queue. Retry policy (exponential backoff,
// max attempts) is configured on the queue itself; this client only creates
// tasks.
type Client struct {
	tasks        *cloudtasks.Client
	queuePath    string
	workerURL    string
	serviceEmail string
}

// New connects to the queue. workerBaseURL is the worker service origin the
// queue POSTs to; serviceEmail, when set, makes dispatches carry an OIDC
// token minted for that service account.
func New(ctx context.Context, projectID, location, queueID, workerBaseURL, serviceEmail string) (*Client, error) {
	tc, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: create cloudtasks client: %w", err)
	}
	return &Client{
		tasks:        tc,
		queuePath:    fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, location, queueID),
		workerURL:    strings.TrimRight(workerBaseURL, "/"),
		serviceEmail: serviceEmail,
	}, nil
}

func (c *Client) Close() error {
	return c.tasks.Close()
}

// Enqueue serializes the payload and creates one HTTP task POSTing it to
// the worker route. Delivery is at-least-once; the worker owns idempotency.
func (c *Client) Enqueue(ctx context.Context, route string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal task for %s: %w", route, err)
	}

	httpReq := &taskspb.HttpRequest{
		HttpMethod: taskspb.HttpMethod_POST,
		Url:        c.workerURL + route,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
	if c.serviceEmail != "" {
		httpReq.AuthorizationHeader = &taskspb.HttpRequest_OidcToken{
			OidcToken: &taskspb.OidcToken{
				ServiceAccountEmail: c.serviceEmail,
				Audience:            c.workerURL,
			},
		}
	}

	_, err = c.tasks.CreateTask(ctx, &taskspb.CreateTaskRequest{
		Parent: c.queuePath,
		Task: &taskspb.Task{
			MessageType:      &taskspb.Task_HttpRequest{HttpRequest: httpReq},
			DispatchDeadline: durationpb.New(dispatchDeadline),
		},
	})
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", route, err)
	}
	return nil
}
