package event

import (
	"context"
	"testing"
	"time"
)

func newTestService() *Service {
	return NewService(NewMemoryStore())
}

func TestRecordEventValidation(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	tests := []struct {
		name string
		in   RecordInput
	}{
		{"unknown type", RecordInput{Type: "clicked", LeadID: "L1", MessageID: "M1"}},
		{"missing lead", RecordInput{Type: TypeOpen, MessageID: "M1"}},
		{"missing message", RecordInput{Type: TypeOpen, LeadID: "L1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.RecordEvent(ctx, tt.in); err == nil {
				t.Error("invalid input accepted")
			}
		})
	}
}

func TestRecordEventAssignsIDAndTimestamp(t *testing.T) {
	s := newTestService()

	e, err := s.RecordEvent(context.Background(), RecordInput{
		Type: TypeSent, LeadID: "L1", MessageID: "M1",
	})
	if err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	if e.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("no id assigned")
	}
	if e.Timestamp.IsZero() {
		t.Error("no timestamp assigned")
	}
}

func TestRecordEventParsesUserAgent(t *testing.T) {
	s := newTestService()

	e, err := s.RecordEvent(context.Background(), RecordInput{
		Type: TypeOpen, LeadID: "L1", MessageID: "M1",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile",
	})
	if err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	if e.Device.DeviceType != "mobile" {
		t.Errorf("device type = %q, want mobile", e.Device.DeviceType)
	}
	if e.Device.OS != "ios" {
		t.Errorf("os = %q, want ios", e.Device.OS)
	}

	// Unparseable agent must not fail the record
	e2, err := s.RecordEvent(context.Background(), RecordInput{
		Type: TypeOpen, LeadID: "L1", MessageID: "M2",
	})
	if err != nil {
		t.Fatalf("RecordEvent() without UA error = %v", err)
	}
	if e2.Device.DeviceType != "unknown" {
		t.Errorf("empty UA device type = %q, want unknown", e2.Device.DeviceType)
	}
}

func TestRecordOpenFirstOpenFlag(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	first, err := s.RecordOpen(ctx, RecordInput{LeadID: "L1", MessageID: "M1"})
	if err != nil {
		t.Fatalf("RecordOpen() error = %v", err)
	}
	if !first.Data.IsFirstOpen {
		t.Error("first open not flagged")
	}

	second, err := s.RecordOpen(ctx, RecordInput{LeadID: "L1", MessageID: "M1"})
	if err != nil {
		t.Fatalf("RecordOpen() error = %v", err)
	}
	if second.Data.IsFirstOpen {
		t.Error("repeat open flagged as first")
	}

	// Different message is a fresh first open
	other, err := s.RecordOpen(ctx, RecordInput{LeadID: "L1", MessageID: "M2"})
	if err != nil {
		t.Fatalf("RecordOpen() error = %v", err)
	}
	if !other.Data.IsFirstOpen {
		t.Error("open of a different message not flagged as first")
	}
}

func TestRecordClickFirstClickPerLink(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	a, _ := s.RecordClick(ctx, RecordInput{LeadID: "L1", MessageID: "M1", Data: EventData{LinkID: "link-1"}})
	if !a.Data.IsFirstClick {
		t.Error("first click on link-1 not flagged")
	}

	b, _ := s.RecordClick(ctx, RecordInput{LeadID: "L1", MessageID: "M1", Data: EventData{LinkID: "link-1"}})
	if b.Data.IsFirstClick {
		t.Error("repeat click on link-1 flagged as first")
	}

	c, _ := s.RecordClick(ctx, RecordInput{LeadID: "L1", MessageID: "M1", Data: EventData{LinkID: "link-2"}})
	if !c.Data.IsFirstClick {
		t.Error("first click on link-2 not flagged")
	}
}

func TestRecordConversionTimeToConversion(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	sentAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return sentAt }
	if _, err := s.RecordEvent(ctx, RecordInput{Type: TypeSent, LeadID: "L1", MessageID: "M1"}); err != nil {
		t.Fatalf("record sent: %v", err)
	}

	s.now = func() time.Time { return sentAt.Add(90 * time.Minute) }
	conv, err := s.RecordConversion(ctx, RecordInput{
		LeadID: "L1", MessageID: "M1",
		Data: EventData{ConversionType: "purchase", ConversionValue: 49.99},
	})
	if err != nil {
		t.Fatalf("RecordConversion() error = %v", err)
	}
	if got, want := conv.Data.TimeToConversionSecs, int64(90*60); got != want {
		t.Errorf("TimeToConversionSecs = %d, want %d", got, want)
	}

	// No sent event: conversion still records, with no latency
	orphan, err := s.RecordConversion(ctx, RecordInput{LeadID: "L2", MessageID: "M9"})
	if err != nil {
		t.Fatalf("RecordConversion() without sent error = %v", err)
	}
	if orphan.Data.TimeToConversionSecs != 0 {
		t.Errorf("orphan TimeToConversionSecs = %d, want 0", orphan.Data.TimeToConversionSecs)
	}
}

func TestListFilterSortPaginate(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return ts }
		typ := TypeSent
		if i%5 == 0 {
			typ = TypeOpen
		}
		if _, err := s.RecordEvent(ctx, RecordInput{
			Type: typ, LeadID: "L1", MessageID: "M1", CampaignID: "C1",
		}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	// Conjunctive filter
	res, err := s.List(ctx, Filter{Types: []Type{TypeOpen}, CampaignID: "C1"}, Sort{}, Page{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 5 {
		t.Errorf("filtered total = %d, want 5", res.Total)
	}

	// Pagination, 1-indexed
	res, err = s.List(ctx, Filter{}, Sort{}, Page{Number: 2, Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 25 || res.TotalPages != 3 || len(res.Events) != 10 {
		t.Errorf("page 2 = {total:%d pages:%d len:%d}, want {25 3 10}", res.Total, res.TotalPages, len(res.Events))
	}

	// Page past the end is empty, not an error
	res, err = s.List(ctx, Filter{}, Sort{}, Page{Number: 9, Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(res.Events) != 0 {
		t.Errorf("page past end has %d events", len(res.Events))
	}

	// Descending timestamp sort
	res, err = s.List(ctx, Filter{}, Sort{Field: "timestamp", Desc: true}, Page{Limit: 5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	for i := 1; i < len(res.Events); i++ {
		if res.Events[i].Timestamp.After(res.Events[i-1].Timestamp) {
			t.Fatal("descending sort violated")
		}
	}
}

func TestDateRangeFilter(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		s.now = func() time.Time { return ts }
		s.RecordEvent(ctx, RecordInput{Type: TypeSent, LeadID: "L1", MessageID: "M1"})
	}

	from := base.Add(3 * time.Hour)
	to := base.Add(6 * time.Hour)
	res, err := s.List(ctx, Filter{From: &from, To: &to}, Sort{}, Page{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 4 {
		t.Errorf("date range total = %d, want 4 (bounds inclusive)", res.Total)
	}
}
