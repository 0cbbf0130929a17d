package idx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"idx-pipeline/events"
	"idx-pipeline/models"
	"idx-pipeline/storage"
	"idx-pipeline/utils"
)

// EventPropertyDataReady is the name every broadcast channel uses.
const EventPropertyDataReady = events.TypePropertyDataReady

// Broadcaster publishes a successfully extracted record.
type Broadcaster interface {
	Broadcast(ctx context.Context, session string, rec *models.PropertyRecord) error
}

// BroadcastFunc adapts a function to Broadcaster.
type BroadcastFunc func(ctx context.Context, session string, rec *models.PropertyRecord) error

func (f BroadcastFunc) Broadcast(ctx context.Context, session string, rec *models.PropertyRecord) error {
	return f(ctx, session, rec)
}

type namedSink struct {
	name string
	sink Broadcaster
}

// Fanout delivers a record to every sink. A failing sink is logged and the
// remaining sinks still run.
type Fanout struct {
	sinks  []namedSink
	logger *utils.Logger
}

func NewFanout(logger *utils.Logger) *Fanout {
	return &Fanout{logger: logger}
}

// Add registers a sink under a name used in logs. Nil sinks are ignored.
func (f *Fanout) Add(name string, b Broadcaster) *Fanout {
	if b != nil {
		f.sinks = append(f.sinks, namedSink{name: name, sink: b})
	}
	return f
}

func (f *Fanout) Broadcast(ctx context.Context, session string, rec *models.PropertyRecord) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.sink.Broadcast(ctx, session, rec); err != nil {
			f.logger.Warn("[broadcast] sink %s failed: %v", s.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		f.logger.Debug("[broadcast] sink %s delivered %s", s.name, session)
	}
	return errors.Join(errs...)
}

// RecordHolder is the well-known place a host reads the latest record from.
type RecordHolder struct {
	p atomic.Pointer[models.PropertyRecord]
}

func (h *RecordHolder) Broadcast(_ context.Context, _ string, rec *models.PropertyRecord) error {
	h.p.Store(rec)
	return nil
}

func (h *RecordHolder) Load() *models.PropertyRecord {
	return h.p.Load()
}

// SessionSink stores the JSON record in a session-scoped store.
type SessionSink struct {
	Store *storage.SessionStore
}

func (s SessionSink) Broadcast(_ context.Context, session string, rec *models.PropertyRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session sink: encode: %w", err)
	}
	s.Store.Put(storage.SessionKey(session), b)
	return nil
}

// HubSink publishes the application-wide propertyDataReady event.
type HubSink struct {
	Hub *events.Hub
}

func (h HubSink) Broadcast(_ context.Context, session string, rec *models.PropertyRecord) error {
	h.Hub.Emit(session, EventPropertyDataReady, rec)
	return nil
}

// ParentMessage is the payload posted to an embedding context.
type ParentMessage struct {
	Type string                 `json:"type"`
	Data *models.PropertyRecord `json:"data"`
}

// ParentSink hands the record to the embedding host as a ParentMessage.
type ParentSink func(ParentMessage) error

func (p ParentSink) Broadcast(_ context.Context, _ string, rec *models.PropertyRecord) error {
	return p(ParentMessage{Type: EventPropertyDataReady, Data: rec})
}

// LogSink appends the record to an extraction log.
type LogSink struct {
	Writer storage.RecordWriter
}

func (l LogSink) Broadcast(_ context.Context, _ string, rec *models.PropertyRecord) error {
	return l.Writer.WriteRecords([]*models.PropertyRecord{rec})
}
