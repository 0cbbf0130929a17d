package idx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"idx-pipeline/events"
	"idx-pipeline/models"
	"idx-pipeline/storage"
	"idx-pipeline/utils"
)

func TestFanoutPopulatesEveryChannel(t *testing.T) {
	clock := utils.NewFakeClock(testNow)
	sessions := storage.NewSessionStore(time.Minute, clock)
	hub := events.NewHub()
	sub := hub.Subscribe()
	defer sub.Close()

	holder := &RecordHolder{}
	var parent []ParentMessage

	f := NewFanout(utils.NewLoggerTo(io.Discard, utils.LevelError)).
		Add("holder", holder).
		Add("session", SessionSink{Store: sessions}).
		Add("broken", BroadcastFunc(func(context.Context, string, *models.PropertyRecord) error {
			return errors.New("disk full")
		})).
		Add("hub", HubSink{Hub: hub}).
		Add("parent", ParentSink(func(m ParentMessage) error {
			parent = append(parent, m)
			return nil
		})).
		Add("nil", nil)

	rec := &models.PropertyRecord{Address: "123 Main Street, Roseville", Price: "450000", Images: []string{}}
	err := f.Broadcast(context.Background(), "s1", rec)

	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("err = %v; want the broken sink reported", err)
	}
	if holder.Load() != rec {
		t.Error("holder not populated")
	}

	raw, ok := sessions.Get(storage.SessionKey("s1"))
	if !ok {
		t.Fatal("session store not populated")
	}
	var stored models.PropertyRecord
	if err := json.Unmarshal(raw, &stored); err != nil || stored.Address != rec.Address {
		t.Errorf("session value = %s (%v)", raw, err)
	}

	select {
	case msg := <-sub.C:
		e, err := events.ParseEvent(msg)
		if err != nil || e.Type != EventPropertyDataReady || e.RequestID != "s1" {
			t.Errorf("hub event = %+v (%v)", e, err)
		}
	default:
		t.Error("no hub event published")
	}

	if len(parent) != 1 || parent[0].Type != "propertyDataReady" || parent[0].Data != rec {
		t.Errorf("parent messages = %+v", parent)
	}
	b, _ := json.Marshal(parent[0])
	if !strings.HasPrefix(string(b), `{"type":"propertyDataReady","data":{"address":`) {
		t.Errorf("parent payload = %s", b)
	}
}
