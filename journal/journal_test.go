package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "events.db"), "127.0.0.1:7505")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func intPtr(v int) *int { return &v }

func connectEvent(cid int, cn string) *events.ClientEvent {
	return &events.ClientEvent{
		Type:     events.ClientConnect,
		ClientID: cid,
		KeyID:    intPtr(0),
		Environment: map[string]string{
			"common_name":  cn,
			"untrusted_ip": "203.0.113.7",
		},
	}
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	j.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	first, err := j.Record(ctx, connectEvent(1, "alice"))
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if first.Address != "203.0.113.7" || first.CommonName != "alice" {
		t.Errorf("Record() = %+v, want address from untrusted_ip and cn alice", first)
	}

	addr := &events.ClientEvent{Type: events.ClientAddress, ClientID: 1, Address: "10.8.0.6", Primary: intPtr(1)}
	if _, err := j.Record(ctx, addr); err != nil {
		t.Fatalf("Record(ADDRESS) error = %v", err)
	}
	if _, err := j.Record(ctx, connectEvent(2, "bob")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(got))
	}
	if got[0].CommonName != "bob" || got[1].Type != events.ClientAddress {
		t.Errorf("Recent() order = %s/%s, want bob then ADDRESS", got[0].CommonName, got[1].Type)
	}
	if got[1].Address != "10.8.0.6" || got[1].KeyID != nil {
		t.Errorf("ADDRESS entry = %+v", got[1])
	}
	if got[0].KeyID == nil || *got[0].KeyID != 0 {
		t.Errorf("KeyID = %v, want 0", got[0].KeyID)
	}
	if got[0].Environment["untrusted_ip"] != "203.0.113.7" {
		t.Errorf("Environment = %v", got[0].Environment)
	}
	if got[0].Server != "127.0.0.1:7505" {
		t.Errorf("Server = %q", got[0].Server)
	}

	byName, err := j.ByCommonName(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ByCommonName() error = %v", err)
	}
	if len(byName) != 1 || byName[0].ID != first.ID {
		t.Errorf("ByCommonName(alice) = %+v, want the first entry", byName)
	}
	if !byName[0].Time.Equal(first.Time) {
		t.Errorf("Time = %v, want %v", byName[0].Time, first.Time)
	}
}

func TestJournal_Get(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	entry, err := j.Record(ctx, connectEvent(5, "carol"))
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := j.Get(ctx, entry.ID)
	if err != nil || got.ClientID != 5 {
		t.Errorf("Get() = %+v, %v", got, err)
	}
	if _, err := j.Get(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := j.Get(ctx, "nope"); !errors.Is(err, common.ErrInvalidConfig) {
		t.Errorf("Get(nope) error = %v, want ErrInvalidConfig", err)
	}
}

func TestJournal_HandleEvent(t *testing.T) {
	j := openTestJournal(t)

	if err := j.HandleEvent(&events.Notification{Prefix: "LOG", Message: "x"}); err != nil {
		t.Errorf("HandleEvent(notification) error = %v", err)
	}
	if err := j.HandleEvent(connectEvent(3, "dave")); err != nil {
		t.Errorf("HandleEvent(client) error = %v", err)
	}

	got, err := j.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 || got[0].CommonName != "dave" {
		t.Errorf("Recent() = %+v, want only dave", got)
	}
}

func TestJournal_Prune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now.Add(-48 * time.Hour) }
	if _, err := j.Record(ctx, connectEvent(1, "old")); err != nil {
		t.Fatal(err)
	}
	j.now = func() time.Time { return now }
	if _, err := j.Record(ctx, connectEvent(2, "new")); err != nil {
		t.Fatal(err)
	}

	if n, err := j.Prune(ctx, 0); err != nil || n != 0 {
		t.Errorf("Prune(0) = %d, %v, want 0", n, err)
	}
	n, err := j.Prune(ctx, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("Prune(24h) = %d, %v, want 1", n, err)
	}

	got, _ := j.Recent(ctx, 10)
	if len(got) != 1 || got[0].CommonName != "new" {
		t.Errorf("Recent() after prune = %+v", got)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.db")
	ctx := context.Background()

	j, err := Open(ctx, path, "a")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := j.Record(ctx, connectEvent(1, "alice")); err != nil {
		t.Fatal(err)
	}
	j.Close()

	again, err := Open(ctx, path, "a")
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer again.Close()
	got, err := again.Recent(ctx, 10)
	if err != nil || len(got) != 1 {
		t.Errorf("Recent() after reopen = %d entries, %v", len(got), err)
	}
}
