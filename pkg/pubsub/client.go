package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

var errNotConnected = errors.New("pubsub client not connected")

// Client owns one Pub/Sub connection and an ordered publisher per topic.
type Client struct {
	conn    *pubsub.Client
	project string
	topics  []string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects to the project and fails unless every topic exists.
// Topics may be short ids or full resource names.
func NewClient(ctx context.Context, gcp config.GCPConfig, topics []string, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errors.New("gcp project id is required")
	}
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		name := topicResourceName(project, t)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, errors.New("no pubsub topics configured")
	}

	conn, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("connect pubsub: %w", err)
	}
	c := &Client{conn: conn, project: project, topics: names, publishers: map[string]*pubsub.Publisher{}}
	if err := c.Ping(ctx); err != nil {
		return nil, multierr.Append(err, conn.Close())
	}
	logg.Info(logg.WithField(ctx, "topics", names), "pubsub topics verified")
	return c, nil
}

// Ping checks all configured topics concurrently.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return errNotConnected
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range c.topics {
		g.Go(func() error {
			_, err := c.conn.TopicAdminClient.GetTopic(gctx, &pubsubpb.GetTopicRequest{Topic: name})
			switch status.Code(err) {
			case codes.OK:
				return nil
			case codes.NotFound:
				return fmt.Errorf("topic %s does not exist", name)
			case codes.PermissionDenied:
				return fmt.Errorf("no permission to read topic %s: %w", name, err)
			}
			return fmt.Errorf("get topic %s: %w", name, err)
		})
	}
	return g.Wait()
}

// Publisher returns the cached publisher for topic with message ordering
// enabled, or nil when the client is not connected.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.conn == nil {
		return nil
	}
	name := topicResourceName(c.project, topic)
	if name == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[name]; ok {
		return p
	}
	p := c.conn.Publisher(name)
	p.EnableMessageOrdering = true
	c.publishers[name] = p
	return p
}

// Close flushes pending messages on every publisher, then drops the
// connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.conn.Close()
}

func topicResourceName(project, topic string) string {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return ""
	case strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/"):
		return topic
	case project == "":
		return ""
	}
	return "projects/" + project + "/topics/" + topic
}
