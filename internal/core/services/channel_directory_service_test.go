package services

import (
	"context"
	"testing"

	"rillnet/internal/infrastructure/repositories/memory"
)

func TestChannelDirectoryService_GetOrCreateChannelCreatesOnce(t *testing.T) {
	repo := memory.NewMemoryChannelDirectory()
	svc := NewChannelDirectoryService(repo)
	ctx := context.Background()

	created, err := svc.GetOrCreateChannel(ctx, "general", 50)
	if err != nil {
		t.Fatalf("GetOrCreateChannel() error = %v", err)
	}
	if created.MaxUsers != 50 || !created.Active {
		t.Errorf("unexpected channel state: %+v", created)
	}

	again, err := svc.GetOrCreateChannel(ctx, "general", 999)
	if err != nil {
		t.Fatalf("second GetOrCreateChannel() error = %v", err)
	}
	if again.MaxUsers != 50 {
		t.Errorf("expected existing channel's MaxUsers to be preserved, got %d", again.MaxUsers)
	}
}

func TestChannelDirectoryService_GetChannelNotFound(t *testing.T) {
	repo := memory.NewMemoryChannelDirectory()
	svc := NewChannelDirectoryService(repo)

	if _, err := svc.GetChannel(context.Background(), "missing"); err == nil {
		t.Error("expected an error for a channel that was never created")
	}
}

func TestChannelDirectoryService_ListChannels(t *testing.T) {
	repo := memory.NewMemoryChannelDirectory()
	svc := NewChannelDirectoryService(repo)
	ctx := context.Background()

	svc.GetOrCreateChannel(ctx, "general", 50)
	svc.GetOrCreateChannel(ctx, "voice", 10)

	channels, err := svc.ListChannels(ctx)
	if err != nil {
		t.Fatalf("ListChannels() error = %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("expected 2 active channels, got %d", len(channels))
	}
}
