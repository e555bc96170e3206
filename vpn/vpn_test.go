package vpn

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/events"
	"github.com/yllada/ovpn-mgmt/mgmt"
)

const versionReply = "OpenVPN Version: OpenVPN 2.4.4 x86_64-pc-linux-gnu [SSL (OpenSSL)] [LZO] [LZ4] [EPOLL] [PKCS11] [MH/PKTINFO] [AEAD] built on Sep  5 2018\nManagement Version: 1\nEND\n"

func TestNew_InvalidAddress(t *testing.T) {
	_, err := New(mgmt.Address{Host: "localhost", Port: 1234, Socket: "file.sock"})
	if !errors.Is(err, common.ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestNew_AddressTypes(t *testing.T) {
	v, err := New(mgmt.IPAddress("localhost", 1234))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if v.Address().Type() != mgmt.AddressIP || v.Address().String() != "localhost:1234" {
		t.Errorf("Address() = %s (%s), want localhost:1234 (ip)", v.Address(), v.Address().Type())
	}
	if v.IsConnected() || v.ConnectionStatus() != StatusDisconnected {
		t.Errorf("new VPN status = %v, want Disconnected", v.ConnectionStatus())
	}

	s, err := New(mgmt.SocketAddress("file.sock"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Address().Type() != mgmt.AddressUnixSocket || s.Address().String() != "file.sock" {
		t.Errorf("Address() = %s (%s), want file.sock (socket)", s.Address(), s.Address().Type())
	}
}

func TestVPN_ReleaseIsCached(t *testing.T) {
	fs := newFakeSession()
	fs.replies["version"] = versionReply
	v := NewWithSession(fs)
	ctx := context.Background()

	want := "OpenVPN 2.4.4 x86_64-pc-linux-gnu [SSL (OpenSSL)] [LZO] [LZ4] [EPOLL] [PKCS11] [MH/PKTINFO] [AEAD] built on Sep  5 2018"
	for i := 0; i < 2; i++ {
		got, err := v.Release(ctx)
		if err != nil || got != want {
			t.Fatalf("Release() = %q, %v, want %q", got, err, want)
		}
	}
	if got := len(fs.commands()); got != 1 {
		t.Errorf("version sent %d times, want 1", got)
	}

	if got, err := v.Version(ctx); err != nil || got != "2.4.4" {
		t.Errorf("Version() = %q, %v, want 2.4.4", got, err)
	}

	v.ClearCache()
	if err := v.CacheData(ctx); err != nil {
		t.Fatalf("CacheData() error = %v", err)
	}
	if got := len(fs.commands()); got != 2 {
		t.Errorf("version sent %d times after ClearCache, want 2", got)
	}
}

func TestVPN_ReleaseParseError(t *testing.T) {
	fs := newFakeSession()
	fs.replies["version"] = "Management Version: 1\nEND\n"
	v := NewWithSession(fs)

	if _, err := v.Release(context.Background()); !errors.Is(err, common.ErrParse) {
		t.Errorf("Release() error = %v, want ErrParse", err)
	}
}

func TestVPN_Queries(t *testing.T) {
	fs := newFakeSession()
	fs.replies["state"] = "1560719601,CONNECTED,SUCCESS,10.0.0.1,,,1.2.3.4,1194\nEND\n"
	fs.replies["load-stats"] = "SUCCESS: nclients=3,bytesin=129822996,bytesout=126946564\n"
	fs.replies["status 1"] = "OpenVPN CLIENT LIST\nUpdated,Thu Jun 18 08:12:15 2015\n" +
		"Common Name,Real Address,Bytes Received,Bytes Sent,Connected Since\n" +
		"alice,10.10.10.10:49502,334948,1973012,Thu Jun 18 04:23:03 2015\n" +
		"ROUTING TABLE\nVirtual Address,Common Name,Real Address,Last Ref\n" +
		"GLOBAL STATS\nMax bcast/mcast queue length,0\nEND\n"
	v := NewWithSession(fs)
	ctx := context.Background()

	state, err := v.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Name != "CONNECTED" || state.Mode() != "server" {
		t.Errorf("GetState() = %s/%s, want CONNECTED/server", state.Name, state.Mode())
	}

	stats, err := v.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.ClientCount != 3 || stats.BytesIn != 129822996 || stats.BytesOut != 126946564 {
		t.Errorf("GetStats() = %+v", stats)
	}

	status, err := v.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if _, ok := status.Client("alice"); !ok {
		t.Error("GetStatus() missing client alice")
	}

	want := []string{"state", "load-stats", "status 1"}
	if got := fs.commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestVPN_GetStatsEmpty(t *testing.T) {
	fs := newFakeSession()
	fs.replies["load-stats"] = ""
	v := NewWithSession(fs)

	if _, err := v.GetStats(context.Background()); !errors.Is(err, common.ErrParse) {
		t.Errorf("GetStats() error = %v, want ErrParse", err)
	}
}

func TestVPN_SendSigterm(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		fs := newFakeSession()
		fs.replies["signal SIGTERM"] = "SUCCESS: signal SIGTERM thrown\n"
		v := NewWithSession(fs)

		if err := v.SendSigterm(context.Background()); err != nil {
			t.Fatalf("SendSigterm() error = %v", err)
		}
		if !reflect.DeepEqual(fs.quits, []bool{false}) {
			t.Errorf("Disconnect calls = %v, want [false]", fs.quits)
		}
	})

	t.Run("unexpected reply", func(t *testing.T) {
		fs := newFakeSession()
		fs.replies["signal SIGTERM"] = "ERROR: nope\n"
		v := NewWithSession(fs)

		if err := v.SendSigterm(context.Background()); !errors.Is(err, common.ErrParse) {
			t.Errorf("SendSigterm() error = %v, want ErrParse", err)
		}
		if len(fs.quits) != 0 {
			t.Errorf("Disconnect called %d times, want 0", len(fs.quits))
		}
	})
}

func TestVPN_Kill(t *testing.T) {
	fs := newFakeSession()
	fs.errs["kill bob"] = &common.CommandError{Command: "kill bob", Reply: "ERROR: common name 'bob' not found"}
	v := NewWithSession(fs)
	ctx := context.Background()

	if err := v.KillClient(ctx, 12); err != nil {
		t.Errorf("KillClient() error = %v", err)
	}
	if err := v.Kill(ctx, "bob"); !errors.Is(err, common.ErrCommandFailed) {
		t.Errorf("Kill(bob) error = %v, want ErrCommandFailed", err)
	}
	if err := v.Kill(ctx, " "); !errors.Is(err, common.ErrInvalidConfig) {
		t.Errorf("Kill(blank) error = %v, want ErrInvalidConfig", err)
	}
	for _, target := range []string{"x\nsignal SIGTERM", "x\r\nversion", "alice bob"} {
		if err := v.Kill(ctx, target); !errors.Is(err, common.ErrInvalidConfig) {
			t.Errorf("Kill(%q) error = %v, want ErrInvalidConfig", target, err)
		}
	}

	want := []string{"client-kill 12", "kill bob"}
	if got := fs.commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestVPN_WithConnection(t *testing.T) {
	fs := newFakeSession()
	fs.connected = false
	v := NewWithSession(fs)

	ran := false
	err := v.WithConnection(context.Background(), func() error {
		ran = true
		if !v.IsConnected() {
			t.Error("not connected inside WithConnection")
		}
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("WithConnection() = %v, ran %v", err, ran)
	}
	if v.IsConnected() {
		t.Error("still connected after WithConnection")
	}
	if !reflect.DeepEqual(fs.quits, []bool{true}) {
		t.Errorf("Disconnect calls = %v, want [true]", fs.quits)
	}
}

func TestVPN_OnClientEvent(t *testing.T) {
	fs := newFakeSession()
	v := NewWithSession(fs)

	var got []*events.ClientEvent
	v.OnClientEvent(func(ev *events.ClientEvent) { got = append(got, ev) })

	ce := &events.ClientEvent{Type: events.ClientEstablished, ClientID: 4}
	for _, h := range fs.handlers {
		h.HandleEvent(&events.Notification{Prefix: "LOG", Message: "x"})
		h.HandleEvent(ce)
	}
	if len(got) != 1 || got[0] != ce {
		t.Errorf("OnClientEvent delivered %v, want only the client event", got)
	}
}

func TestVPN_ConnectionLostClearsCache(t *testing.T) {
	fs := newFakeSession()
	fs.replies["version"] = versionReply
	v := NewWithSession(fs)

	if _, err := v.Release(context.Background()); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	var lost error
	v.OnConnectionLost(func(err error) { lost = err })
	fs.lose(common.ErrConnectionFailed)

	if !errors.Is(lost, common.ErrConnectionFailed) {
		t.Errorf("OnConnectionLost got %v, want ErrConnectionFailed", lost)
	}
	v.mu.RLock()
	cached := v.release
	v.mu.RUnlock()
	if cached != "" {
		t.Errorf("release cache = %q after loss, want empty", cached)
	}
}
