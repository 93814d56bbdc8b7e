package feed

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestKeyPath(t *testing.T) {
	if got := BookKey("u1", "b1").Path(); got != "users/u1/books/b1" {
		t.Fatalf("BookKey path = %q", got)
	}
	if got := AssessmentKey("u1", "b1").Path(); got != "users/u1/condition_assessments/b1" {
		t.Fatalf("AssessmentKey path = %q", got)
	}
}

func TestKeyValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{"valid", BookKey("u1", "b1"), false},
		{"missing owner", BookKey("", "b1"), true},
		{"missing tracking id", BookKey("u1", " "), true},
		{"slash in id", BookKey("u1", "b1/x"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.key.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStopped(t *testing.T) {
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	if !stopped(live, iterator.Done) {
		t.Fatal("iterator.Done should count as stopped")
	}
	if stopped(live, status.Error(codes.Canceled, "stream cancelled by server")) {
		t.Fatal("Canceled status on a live context should be reported as a failure")
	}
	if !stopped(cancelled, status.Error(codes.Canceled, "listener cancelled")) {
		t.Fatal("Canceled status after our own cancel should count as stopped")
	}
	if !stopped(cancelled, errors.New("anything")) {
		t.Fatal("errors after cancellation should count as stopped")
	}
	if stopped(live, status.Error(codes.Unavailable, "stream reset")) {
		t.Fatal("Unavailable should be reported as a failure")
	}
}

func TestFirestoreFeedRejectsInvalidKey(t *testing.T) {
	f := NewFirestoreFeed(nil, nil)
	if _, err := f.Subscribe(context.Background(), BookKey("", "b1")); err == nil {
		t.Fatal("expected error for invalid key")
	}
}
