// Package worker provides a NATS worker that starts lecture jobs from request/reply messages.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/lecture-service/internal/lecture"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	handleMessageTimeout = 30 * time.Second
	anonymousClientKey   = "nats:anonymous"
)

var (
	// ErrSubjectEmpty indicates that the intake subject is empty.
	ErrSubjectEmpty = errors.New("intake subject cannot be empty")
	// ErrSubmitterNil indicates that no submitter was provided.
	ErrSubmitterNil = errors.New("submitter cannot be nil")
)

// Submitter starts lecture jobs.
type Submitter interface {
	Submit(ctx context.Context, clientKey string, req lecture.GenerateRequest) (*lecture.Submission, error)
}

// GenerateLectureEvent is the request body on the intake subject.
type GenerateLectureEvent struct {
	Header events.EventHeader `json:"header"`
	lecture.GenerateRequest
}

// LectureAcceptedEvent is the reply to a GenerateLectureEvent. Error is set when the job was not started.
type LectureAcceptedEvent struct {
	Header               events.EventHeader `json:"header"`
	JobID                string             `json:"jobId,omitempty"`
	EstimatedTimeSeconds int                `json:"estimatedTimeSeconds,omitempty"`
	Error                string             `json:"error,omitempty"`
}

// NatsWorker listens for lecture requests on a NATS subject and submits them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	queueGroup     string
	submitter      Submitter
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. An empty queueGroup subscribes without one.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	queueGroup string,
	submitter Submitter,
	log *logger.Logger,
) (*NatsWorker, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	if submitter == nil {
		return nil, ErrSubmitterNil
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		queueGroup:     queueGroup,
		submitter:      submitter,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages. It drains the subscription once ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.queueGroup == "" {
		sub, err = w.natsConnection.Subscribe(w.subject, w.handleMessage)
	} else {
		sub, err = w.natsConnection.QueueSubscribe(w.subject, w.queueGroup, w.handleMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for lecture requests on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse lecture request: %v", err)
		w.reply(msg, &LectureAcceptedEvent{Header: replyHeader(events.EventHeader{}), Error: err.Error()})

		return
	}

	reply := &LectureAcceptedEvent{Header: replyHeader(event.Header)}

	submission, err := w.submitter.Submit(ctx, clientKey(event.Header), event.GenerateRequest)
	if err != nil {
		w.log.Warn("Rejected lecture request for workflow %s: %v", event.Header.WorkflowID, err)
		reply.Error = err.Error()
	} else {
		reply.JobID = submission.Job.ID
		reply.EstimatedTimeSeconds = submission.Estimate.Seconds
	}

	w.reply(msg, reply)
}

// reply responds when the sender asked for one. Fire-and-forget publishes are accepted silently.
func (w *NatsWorker) reply(msg *nats.Msg, reply *LectureAcceptedEvent) {
	if msg.Reply == "" {
		return
	}

	err := publishReplyEvent(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

// publishReplyEvent marshals and responds with the LectureAcceptedEvent.
func publishReplyEvent(msg *nats.Msg, replyEvent *LectureAcceptedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*GenerateLectureEvent, error) {
	var event GenerateLectureEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}

// replyHeader keeps the workflow and tenant of the request and stamps a new event id.
func replyHeader(request events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: request.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     request.UserID,
		TenantID:   request.TenantID,
	}
}

func clientKey(header events.EventHeader) string {
	if header.UserID == "" {
		return anonymousClientKey
	}

	return "nats:" + header.UserID
}
