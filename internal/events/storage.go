package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/apex/log"

	"github.com/franckalain/snapnourish/internal/metrics"
	"github.com/franckalain/snapnourish/internal/models"
	"github.com/franckalain/snapnourish/internal/storageurl"
)

// ErrIgnored is returned for objects that are not nutrition images
var ErrIgnored = errors.New("object is not a nutrition image")

// ObjectEvent is an object-finalized storage notification
type ObjectEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
}

// pushEnvelope is the body of a Pub/Sub push delivery. Data is base64 in
// JSON and decoded by encoding/json.
type pushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		MessageID  string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// ParseObjectEvent decodes either a bare {bucket, name} notification or a
// Pub/Sub push envelope carrying one.
func ParseObjectEvent(body []byte) (ObjectEvent, error) {
	var env struct {
		pushEnvelope
		ObjectEvent
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ObjectEvent{}, fmt.Errorf("%w: invalid event body: %v", models.ErrValidation, err)
	}

	ev := env.ObjectEvent
	if len(env.Message.Data) > 0 {
		ev = ObjectEvent{}
		if err := json.Unmarshal(env.Message.Data, &ev); err != nil {
			return ObjectEvent{}, fmt.Errorf("%w: invalid pubsub message data: %v", models.ErrValidation, err)
		}
	} else if ev.Bucket == "" && env.Message.Attributes != nil {
		// notifications sent with payload format NONE only carry attributes
		ev.Bucket = env.Message.Attributes["bucketId"]
		ev.Name = env.Message.Attributes["objectId"]
	}

	if ev.Bucket == "" || ev.Name == "" {
		return ObjectEvent{}, fmt.Errorf("%w: event needs bucket and name", models.ErrValidation)
	}
	return ev, nil
}

// UserIDFromObject extracts {uid} from users/{uid}/nutrition/images/<file>
func UserIDFromObject(name string) (string, bool) {
	parts := strings.Split(name, "/")
	if len(parts) < 5 || parts[0] != "users" || parts[2] != "nutrition" || parts[3] != "images" {
		return "", false
	}
	if parts[1] == "" || parts[len(parts)-1] == "" {
		return "", false
	}
	return parts[1], true
}

// Analyzer runs one analysis request
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResponse, error)
}

// Dispatcher turns upload notifications into analysis requests
type Dispatcher struct {
	analyzer Analyzer
	host     string
}

// NewDispatcher creates a dispatcher that addresses images through the
// first non-empty entry of hosts, storage.googleapis.com when there is none.
// Pass the resolver's generic hosts so the built URLs always resolve.
func NewDispatcher(analyzer Analyzer, hosts ...string) *Dispatcher {
	host := storageurl.DefaultGenericHost
	for _, h := range hosts {
		if h != "" {
			host = h
			break
		}
	}
	return &Dispatcher{analyzer: analyzer, host: host}
}

// Request builds the analysis request for ev, or returns ErrIgnored
func (d *Dispatcher) Request(ev ObjectEvent) (models.AnalysisRequest, error) {
	uid, ok := UserIDFromObject(ev.Name)
	if !ok {
		return models.AnalysisRequest{}, fmt.Errorf("%w: %s", ErrIgnored, ev.Name)
	}
	return models.AnalysisRequest{
		UserID:   uid,
		ImageURL: storageurl.GenericURL(d.host, ev.Bucket, ev.Name),
	}, nil
}

// Dispatch parses body and analyzes the uploaded image. source labels
// metrics and logs ("http" or "amqp").
func (d *Dispatcher) Dispatch(ctx context.Context, source string, body []byte) (*models.AnalysisResponse, error) {
	ev, err := ParseObjectEvent(body)
	if err != nil {
		metrics.EventsTotal.WithLabelValues(source, "malformed").Inc()
		return nil, err
	}

	req, err := d.Request(ev)
	if err != nil {
		metrics.EventsTotal.WithLabelValues(source, "ignored").Inc()
		log.WithFields(log.Fields{
			"source": source,
			"bucket": ev.Bucket,
			"name":   ev.Name,
		}).Debug("ignoring upload event")
		return nil, err
	}

	resp, err := d.analyzer.Analyze(ctx, req)
	if err != nil {
		metrics.EventsTotal.WithLabelValues(source, "failed").Inc()
		return nil, err
	}
	metrics.EventsTotal.WithLabelValues(source, "analyzed").Inc()
	return resp, nil
}
