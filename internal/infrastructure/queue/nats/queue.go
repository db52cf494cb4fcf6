package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
)

const workerQueueGroup = "qa-workers"

// Queue carries questions from API replicas to workers over NATS
// request/reply. Replies use the same JSON envelopes as the HTTP API.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("knowledge-qa"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// askMessage is the request body on the question subject.
type askMessage struct {
	Question  string    `json:"question"`
	RequestID string    `json:"requestId,omitempty"`
	CallerID  string    `json:"callerId,omitempty"`
	SentAt    time.Time `json:"sentAt"`
}

// replyMessage is either a success envelope or an error envelope.
type replyMessage struct {
	Data  *domain.AnswerData   `json:"data,omitempty"`
	Meta  *domain.ResponseMeta `json:"meta,omitempty"`
	Error *domain.ErrorBody    `json:"error,omitempty"`
}

// Ask implements ports.QuestionAnswerer by forwarding to a worker.
func (q *Queue) Ask(ctx context.Context, req domain.QARequest) (*domain.QAResponse, error) {
	body, err := json.Marshal(askMessage{
		Question:  req.Question,
		RequestID: req.RequestID,
		CallerID:  req.CallerID,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ask message: %w", err)
	}

	msg, err := resilience.Do(ctx, q.executor, "nats.request", classifyNATSError, func(ctx context.Context) (*nats.Msg, error) {
		msg, err := q.conn.RequestWithContext(ctx, q.subject, body)
		if err != nil {
			return nil, fmt.Errorf("nats request: %w", err)
		}
		return msg, nil
	})
	if err != nil {
		return nil, wrapTemporaryIfNeeded(err)
	}
	return decodeReply(msg.Data)
}

func decodeReply(data []byte) (*domain.QAResponse, error) {
	var reply replyMessage
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, domain.WrapError(domain.ErrUpstream, "decode worker reply", err)
	}
	if reply.Error != nil {
		remote := errors.New(reply.Error.Message)
		if kind := domain.KindForCode(reply.Error.Code); kind != nil {
			return nil, domain.WrapError(kind, "worker", remote)
		}
		return nil, fmt.Errorf("worker: %w", remote)
	}
	if reply.Data == nil || reply.Meta == nil {
		return nil, domain.WrapError(domain.ErrUpstream, "decode worker reply", errors.New("reply has neither data nor error"))
	}
	return &domain.QAResponse{Data: *reply.Data, Meta: *reply.Meta}, nil
}

// WorkerHooks lets the worker binary observe message handling.
type WorkerHooks struct {
	Start    func()
	Finish   func(duration time.Duration, err error)
	QueueLag func(lag time.Duration)
}

// Serve answers questions from the shared queue group until ctx is done,
// then drains in-flight messages. Drained messages are still answered.
func (q *Queue) Serve(ctx context.Context, answerer ports.QuestionAnswerer, timeout time.Duration, hooks WorkerHooks) error {
	handlerCtx := context.WithoutCancel(ctx)
	sub, err := q.conn.QueueSubscribe(q.subject, workerQueueGroup, func(msg *nats.Msg) {
		reply := q.handle(handlerCtx, msg.Data, answerer, timeout, hooks)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			q.logger.Warn("nats_respond_failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) handle(
	ctx context.Context,
	data []byte,
	answerer ports.QuestionAnswerer,
	timeout time.Duration,
	hooks WorkerHooks,
) []byte {
	start := time.Now()
	if hooks.Start != nil {
		hooks.Start()
	}

	resp, err := answerMessage(ctx, data, answerer, timeout, hooks)
	if hooks.Finish != nil {
		hooks.Finish(time.Since(start), err)
	}
	if err != nil {
		q.logger.Warn("worker_question_failed", "error", err, "failure", domain.ClassifyFailure(err))
		return encodeError(err, requestIDOf(data))
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return encodeError(err, resp.Meta.RequestID)
	}
	return out
}

func answerMessage(
	ctx context.Context,
	data []byte,
	answerer ports.QuestionAnswerer,
	timeout time.Duration,
	hooks WorkerHooks,
) (*domain.QAResponse, error) {
	var in askMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode ask message", err)
	}
	if hooks.QueueLag != nil && !in.SentAt.IsZero() {
		hooks.QueueLag(time.Since(in.SentAt))
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return answerer.Ask(ctx, domain.QARequest{
		Question:  in.Question,
		RequestID: in.RequestID,
		CallerID:  in.CallerID,
	})
}

func encodeError(err error, requestID string) []byte {
	out, _ := json.Marshal(domain.ErrorEnvelope{Error: domain.ErrorBody{
		Code:      domain.ErrorCode(err),
		Message:   err.Error(),
		RequestID: requestID,
	}})
	return out
}

func requestIDOf(data []byte) string {
	var in askMessage
	_ = json.Unmarshal(data, &in)
	return in.RequestID
}
