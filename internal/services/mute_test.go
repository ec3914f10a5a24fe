package services

import (
	"context"
	"testing"

	"castfeed/internal/models"
)

func TestGetMuteList(t *testing.T) {
	setupTestDB(t)
	s := NewMuteService(newTestStore(t))

	mustCreate(t, &models.Mute{ViewerFid: 9, Kind: models.MuteFid, Value: "66"})
	mustCreate(t, &models.Mute{ViewerFid: 9, Kind: models.MuteChannel, Value: "https://example.com/ch/noisy"})
	mustCreate(t, &models.Mute{ViewerFid: 9, Kind: models.MuteWord, Value: "spam"})
	mustCreate(t, &models.Mute{ViewerFid: 10, Kind: models.MuteWord, Value: "other viewer"})

	list, err := s.GetMuteList(context.Background(), 9)
	if err != nil {
		t.Fatalf("GetMuteList: %v", err)
	}
	if len(list.Fids) != 1 || list.Fids[0] != 66 {
		t.Errorf("fids = %v", list.Fids)
	}
	if len(list.ChannelURLs) != 1 || list.ChannelURLs[0] != "https://example.com/ch/noisy" {
		t.Errorf("channels = %v", list.ChannelURLs)
	}
	if len(list.Words) != 1 || list.Words[0] != "spam" {
		t.Errorf("words = %v", list.Words)
	}
	if list.Empty() {
		t.Error("list should not be empty")
	}
}

func TestGetMuteListAnonymousViewer(t *testing.T) {
	setupTestDB(t)
	s := NewMuteService(newTestStore(t))

	list, err := s.GetMuteList(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetMuteList: %v", err)
	}
	if !list.Empty() {
		t.Errorf("expected empty list for anonymous viewer, got %+v", list)
	}
}
