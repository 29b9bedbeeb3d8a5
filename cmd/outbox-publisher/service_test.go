package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/jem-cart/pkg/config"
	"github.com/angelmondragon/jem-cart/pkg/db/models"
	"github.com/angelmondragon/jem-cart/pkg/enums"
	"github.com/angelmondragon/jem-cart/pkg/logger"
	"github.com/angelmondragon/jem-cart/pkg/outbox"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			cartEvent(t, "owner-1", 0),
			cartEvent(t, "owner-2", 0),
		},
	}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	recorder := &fakeRecorder{}
	service := newTestService(t, repo, pub, recorder, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("unexpected failed rows %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.events[1].ID {
		t.Fatalf("unexpected published rows %v", repo.published)
	}
	if recorder.published != 1 || recorder.retryable != 1 || recorder.batches != 1 {
		t.Fatalf("unexpected metrics %+v", recorder)
	}
}

func TestServicePublishesAttributes(t *testing.T) {
	event := cartEvent(t, "owner-7", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	service := newTestService(t, repo, pub, nil, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	attrs := pub.messages[0].Attributes
	if attrs["event_type"] != string(enums.EventCartUpdated) || attrs["aggregate_id"] != "owner-7" || attrs["aggregate_type"] != string(enums.AggregateCart) {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	if attrs["event_id"] == "" || attrs["occurred_at"] == "" {
		t.Fatalf("expected envelope attributes, got %v", attrs)
	}
	if string(pub.messages[0].Data) != string(event.Payload) {
		t.Fatalf("expected payload forwarded unchanged")
	}
}

func TestServiceMarksTerminalAfterMaxAttempts(t *testing.T) {
	event := cartEvent(t, "owner-1", 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("transient")}}}
	recorder := &fakeRecorder{}
	service := newTestService(t, repo, pub, recorder, &config.OutboxConfig{BatchSize: 10, PollIntervalMS: 10, MaxAttempts: 2})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("expected terminal row, got %v", repo.terminal)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("terminal rows must not also be marked failed")
	}
	if recorder.terminal != 1 {
		t.Fatalf("expected terminal metric, got %+v", recorder)
	}
}

func TestServiceParksMalformedEnvelope(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventCartDeleted,
		AggregateType: enums.AggregateCart,
		AggregateID:   "owner-1",
		Payload:       datatypes.JSON(`{"version":1}`),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{}
	service := newTestService(t, repo, pub, nil, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected malformed envelope to be parked")
	}
	if !errors.Is(repo.terminalErr, outbox.ErrMalformedEnvelope) {
		t.Fatalf("expected malformed envelope error, got %v", repo.terminalErr)
	}
	if len(pub.messages) != 0 {
		t.Fatalf("malformed rows must not be published")
	}
}

func TestServiceEmptyBatchIsNotProcessed(t *testing.T) {
	recorder := &fakeRecorder{}
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, recorder, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil || processed {
		t.Fatalf("expected idle batch, got processed=%v err=%v", processed, err)
	}
	if recorder.batches != 0 {
		t.Fatalf("idle polls should not be observed")
	}
}

func TestServiceFetchErrorSurfaces(t *testing.T) {
	service := newTestService(t, &fakeRepo{fetchErr: errors.New("db down")}, &fakePublisher{}, nil, nil)
	if _, err := service.processBatch(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestFailureBackoffGrowsAndCaps(t *testing.T) {
	b := failureBackoff(time.Second)

	first, stop := b.Next()
	if stop {
		t.Fatal("failure backoff must never stop")
	}
	if first < time.Second-jitterWindow || first > time.Second+jitterWindow {
		t.Fatalf("first wait %v outside base window", first)
	}

	var last time.Duration
	for i := 0; i < 10; i++ {
		last, _ = b.Next()
		if last > maxBackoff+jitterWindow {
			t.Fatalf("wait %v exceeds cap", last)
		}
	}
	if last < maxBackoff-jitterWindow {
		t.Fatalf("expected backoff to reach the cap, got %v", last)
	}
}

func TestRunRefusesUnreachableDependency(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, nil, nil)
	service.pubsub = &fakePubSubClient{err: errors.New("permission denied")}

	if err := service.Run(context.Background()); err == nil {
		t.Fatal("expected pubsub ping failure")
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatal("expected config error")
	}
	cfg := &config.Config{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	if _, err := NewService(ServiceParams{Config: cfg, Logger: logg, DB: &fakeDB{}, PubSub: &fakePubSubClient{}, Repository: &fakeRepo{}}); err == nil {
		t.Fatal("expected publisher error")
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, recorder outboxRecorder, outboxCfg *config.OutboxConfig) *Service {
	t.Helper()
	cfg := &config.Config{
		PubSub: config.PubSubConfig{CartTopic: "jem-cart-events"},
		Outbox: config.OutboxConfig{BatchSize: 10, PollIntervalMS: 10, MaxAttempts: 5},
	}
	if outboxCfg != nil {
		cfg.Outbox = *outboxCfg
	}
	params := ServiceParams{
		Config:     cfg,
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:         &fakeDB{},
		PubSub:     &fakePubSubClient{},
		Repository: repo,
		Publisher:  pub,
	}
	if recorder != nil {
		params.Metrics = recorder
	}
	service, err := NewService(params)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func cartEvent(tb testing.TB, ownerID string, attempts int) models.OutboxEvent {
	tb.Helper()
	data, err := json.Marshal(map[string]any{"ownerId": ownerID, "version": 1})
	if err != nil {
		tb.Fatalf("marshal data: %v", err)
	}
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventCartUpdated,
		AggregateType: enums.AggregateCart,
		AggregateID:   ownerID,
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

type fakeRepo struct {
	events      []models.OutboxEvent
	fetchErr    error
	published   []uuid.UUID
	failed      []uuid.UUID
	terminal    []uuid.UUID
	terminalErr error
}

func (f *fakeRepo) ClaimBatch(tx *gorm.DB, limit int) ([]models.OutboxEvent, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.events, nil
}

func (f *fakeRepo) MarkPublished(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error, terminal bool) error {
	if terminal {
		f.terminal = append(f.terminal, id)
		f.terminalErr = cause
		return nil
	}
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) CountPending(context.Context) (int64, error) {
	return int64(len(f.events)), nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct {
	err error
}

func (f *fakePubSubClient) Ping(context.Context) error {
	return f.err
}

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return fakePublishResult{}
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "server-id", nil
}

type fakeRecorder struct {
	batches   int
	published int
	retryable int
	terminal  int
}

func (f *fakeRecorder) ObserveBatch(time.Duration) { f.batches++ }
func (f *fakeRecorder) IncPublished()              { f.published++ }
func (f *fakeRecorder) IncFailed(terminal bool) {
	if terminal {
		f.terminal++
		return
	}
	f.retryable++
}
