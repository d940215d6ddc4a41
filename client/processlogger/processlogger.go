// Package processlogger implements the Process Logger / Template façade:
// a thin layer over asynclogger that stamps persistent defaults and
// one-shot per-step overrides onto outgoing events so callers don't
// repeat boilerplate on every emit.
package processlogger

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/processlog/eventlog/client/asynclogger"
	"github.com/processlog/eventlog/pkg/models"
)

// sink is the subset of asynclogger.AsyncLogger the template needs.
type sink interface {
	Log(event *models.EventInput) bool
}

// Config seeds the persistent fields of a new ProcessLogger. CorrelationID
// and TraceID are resolved with explicit > ambient context > auto-generated
// priority: pass a non-empty value here to pin it explicitly, otherwise
// supply AmbientCorrelationID/AmbientTraceID from a host context
// collaborator, and the logger auto-generates one if both are empty.
type Config struct {
	ApplicationID     string
	OriginatingSystem string
	TargetSystem      string
	ProcessName       string

	CorrelationID string
	TraceID       string

	AmbientCorrelationID func() string
	AmbientTraceID       func() string

	AccountID *string
	BatchID   *string
}

// ProcessLogger holds shared defaults across a process's lifetime and
// emits fully-formed events through an AsyncLogger.
type ProcessLogger struct {
	logger sink

	mu sync.Mutex

	applicationID     string
	originatingSystem string
	targetSystem      string
	processName       string
	correlationID     string
	traceID           string
	accountID         *string
	batchID           *string

	identifiers map[string]string
	metadata    map[string]any

	lastSpanID   string
	rootSpanID   string
	stepSequence int

	// one-shot fields, cleared after the next emit
	oneShot oneShotFields
}

type oneShotFields struct {
	targetSystem    *string
	endpoint        *string
	httpMethod      *models.HTTPMethod
	httpStatusCode  *int
	executionTimeMs *int64
	requestPayload  *string
	responsePayload *string
	spanLinks       []string
	errorCode       *string
	errorMessage    *string
	idempotencyKey  *string
}

// New creates a ProcessLogger bound to the given AsyncLogger, resolving
// correlation/trace ids per the documented priority.
func New(logger *asynclogger.AsyncLogger, cfg Config) *ProcessLogger {
	return newWithSink(logger, cfg)
}

func newWithSink(logger sink, cfg Config) *ProcessLogger {
	corr := cfg.CorrelationID
	if corr == "" && cfg.AmbientCorrelationID != nil {
		corr = cfg.AmbientCorrelationID()
	}
	if corr == "" {
		corr = newID()
	}

	trace := cfg.TraceID
	if trace == "" && cfg.AmbientTraceID != nil {
		trace = cfg.AmbientTraceID()
	}
	if trace == "" {
		trace = newID()
	}

	return &ProcessLogger{
		logger:            logger,
		applicationID:     cfg.ApplicationID,
		originatingSystem: cfg.OriginatingSystem,
		targetSystem:      cfg.TargetSystem,
		processName:       cfg.ProcessName,
		correlationID:     corr,
		traceID:           trace,
		accountID:         cfg.AccountID,
		batchID:           cfg.BatchID,
		identifiers:       map[string]string{},
		metadata:          map[string]any{},
	}
}

// AddIdentifier stacks forward: visible on this emit and every subsequent
// one, never retroactively on earlier events.
func (p *ProcessLogger) AddIdentifier(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identifiers[key] = value
}

// AddMetadata stacks forward like AddIdentifier.
func (p *ProcessLogger) AddMetadata(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metadata[key] = value
}

// SetAccountID updates the persistent account id.
func (p *ProcessLogger) SetAccountID(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accountID = &accountID
}

// WithTargetSystem sets a one-shot override for the next emit only.
func (p *ProcessLogger) WithTargetSystem(system string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oneShot.targetSystem = &system
	return p
}

// WithHTTP sets one-shot HTTP-transaction fields for the next emit.
func (p *ProcessLogger) WithHTTP(endpoint string, method models.HTTPMethod, statusCode int) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oneShot.endpoint = &endpoint
	p.oneShot.httpMethod = &method
	p.oneShot.httpStatusCode = &statusCode
	return p
}

// WithPayloads sets one-shot request/response payload fields.
func (p *ProcessLogger) WithPayloads(request, response string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oneShot.requestPayload = &request
	p.oneShot.responsePayload = &response
	return p
}

// WithExecutionTime sets a one-shot execution-time field.
func (p *ProcessLogger) WithExecutionTime(ms int64) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oneShot.executionTimeMs = &ms
	return p
}

// WithIdempotencyKey sets a one-shot idempotency key for the next emit.
func (p *ProcessLogger) WithIdempotencyKey(key string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oneShot.idempotencyKey = &key
	return p
}

// WithSpanLinks sets one-shot span links (fork-join) for the next emit.
func (p *ProcessLogger) WithSpanLinks(spanIDs ...string) *ProcessLogger {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oneShot.spanLinks = spanIDs
	return p
}

// ProcessStart emits the process-start event and records its span id as
// the root, for use as the parent of terminal events.
func (p *ProcessLogger) ProcessStart(summary string, result *string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	event := p.buildLocked(models.EventTypeProcessStart, models.EventStatusSuccess, 0, nil, summary, result)
	p.rootSpanID = event.SpanID
	return p.logger.Log(event)
}

// LogStep emits one step event in sequence.
func (p *ProcessLogger) LogStep(seq int, name string, status models.EventStatus, summary string, result *string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	event := p.buildLocked(models.EventTypeStep, status, seq, &name, summary, result)
	return p.logger.Log(event)
}

// ProcessEnd emits the terminal process event, parented to the root
// process-start's span id.
func (p *ProcessLogger) ProcessEnd(seq int, status models.EventStatus, summary string, result *string, totalMs *int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if totalMs != nil {
		p.oneShot.executionTimeMs = totalMs
	}
	event := p.buildLocked(models.EventTypeProcessEnd, status, seq, nil, summary, result)
	event.ParentSpanID = rootParent(p.rootSpanID)
	return p.logger.Log(event)
}

// Error emits an error event, parented to the root process-start's span
// id like other terminal events.
func (p *ProcessLogger) Error(code, message string, summary *string, result *string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oneShot.errorCode = &code
	p.oneShot.errorMessage = &message
	sum := message
	if summary != nil {
		sum = *summary
	}
	event := p.buildLocked(models.EventTypeError, models.EventStatusFailure, p.stepSequence, nil, sum, result)
	event.ParentSpanID = rootParent(p.rootSpanID)
	return p.logger.Log(event)
}

func rootParent(root string) *string {
	if root == "" {
		return nil
	}
	r := root
	return &r
}

// buildLocked constructs an EventInput from persistent state plus
// whatever one-shot fields are currently set, then clears the one-shots.
// Callers must hold p.mu.
func (p *ProcessLogger) buildLocked(eventType models.EventType, status models.EventStatus, seq int, stepName *string, summary string, result *string) *models.EventInput {
	targetSystem := p.targetSystem
	if p.oneShot.targetSystem != nil {
		targetSystem = *p.oneShot.targetSystem
	}

	spanID := newSpanID()
	parent := p.lastSpanID
	p.lastSpanID = spanID
	p.stepSequence = seq

	ids := make(map[string]string, len(p.identifiers))
	for k, v := range p.identifiers {
		ids[k] = v
	}
	meta := make(map[string]any, len(p.metadata))
	for k, v := range p.metadata {
		meta[k] = v
	}

	event := &models.EventInput{
		CorrelationID:     p.correlationID,
		TraceID:           p.traceID,
		SpanID:            spanID,
		SpanLinks:         p.oneShot.spanLinks,
		AccountID:         p.accountID,
		BatchID:           p.batchID,
		ApplicationID:     p.applicationID,
		OriginatingSystem: p.originatingSystem,
		TargetSystem:      targetSystem,
		ProcessName:       p.processName,
		StepSequence:      seq,
		StepName:          stepName,
		EventType:         eventType,
		EventStatus:       status,
		Identifiers:       ids,
		Metadata:          meta,
		Summary:           summary,
		Result:            result,
		EventTimestamp:    time.Now().UTC(),
		Endpoint:          p.oneShot.endpoint,
		HTTPMethod:        p.oneShot.httpMethod,
		HTTPStatusCode:    p.oneShot.httpStatusCode,
		RequestPayload:    p.oneShot.requestPayload,
		ResponsePayload:   p.oneShot.responsePayload,
		ErrorCode:         p.oneShot.errorCode,
		ErrorMessage:      p.oneShot.errorMessage,
		ExecutionTimeMs:   p.oneShot.executionTimeMs,
		IdempotencyKey:    p.oneShot.idempotencyKey,
	}
	if parent != "" {
		parentCopy := parent
		event.ParentSpanID = &parentCopy
	}

	p.oneShot = oneShotFields{}
	return event
}

func newSpanID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func newID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
