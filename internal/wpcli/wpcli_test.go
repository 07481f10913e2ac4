package wpcli

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ivan2020J/nozier/internal/update"
)

type reply struct {
	out string
	err error
}

// fakeRunner answers commands from a script keyed by the joined arguments.
// A key may hold several replies, consumed in order; the last one repeats.
type fakeRunner struct {
	mu      sync.Mutex
	script  map[string][]reply
	history []string
}

func newFakeRunner(script map[string][]reply) *fakeRunner {
	return &fakeRunner{script: script}
}

func (f *fakeRunner) Run(_ context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.Join(args, " ")
	f.history = append(f.history, key)
	replies, ok := f.script[key]
	if !ok || len(replies) == 0 {
		return nil, errors.New("unexpected command: wp " + key)
	}
	r := replies[0]
	if len(replies) > 1 {
		f.script[key] = replies[1:]
	}
	return []byte(r.out), r.err
}

func (f *fakeRunner) ran(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.history {
		if h == key {
			return true
		}
	}
	return false
}

func newTestClient(r Runner, cfg Config) *Client {
	c := NewClient(r, cfg, zap.NewNop())
	c.writable = func(string) error { return nil }
	return c
}

const (
	cmdCoreVersion = "core version"
	cmdCoreCheck   = "core check-update --format=json"
	cmdPluginList  = "plugin list --update=available --fields=name,title,version,update_version --format=json"
	cmdThemeList   = "theme list --update=available --fields=name,title,version,update_version --format=json"
	cmdConfigList  = "config list --fields=name,value,type --format=json"
)

func TestVersions(t *testing.T) {
	r := newFakeRunner(map[string][]reply{
		"cli info --format=json":                         {{out: `{"php_binary_path":"/usr/bin/php","php_version":"8.2.12","wp_cli_version":"2.10.0"}`}},
		"db query SELECT VERSION() --skip-column-names": {{out: "10.11.6-MariaDB\n"}},
		cmdCoreVersion: {{out: "6.4.3\n"}},
	})
	c := newTestClient(r, Config{})

	got, err := c.Versions(context.Background())
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	want := update.Versions{Language: "8.2.12", Database: "10.11.6-MariaDB", Platform: "6.4.3"}
	if got != want {
		t.Errorf("Versions() = %+v, want %+v", got, want)
	}
}

func TestVersions_CommandError(t *testing.T) {
	r := newFakeRunner(map[string][]reply{
		"cli info --format=json": {{err: errors.New("exit status 1")}},
	})
	if _, err := newTestClient(r, Config{}).Versions(context.Background()); err == nil {
		t.Fatal("expected error when wp-cli fails")
	}
}

func TestListUpdates(t *testing.T) {
	r := newFakeRunner(map[string][]reply{
		cmdPluginList: {{out: `[
			{"name":"akismet","title":"Akismet Anti-spam","version":"5.3","update_version":"5.3.1"},
			{"name":"hello","title":"Hello Dolly","version":"1.7.2","update_version":"1.7.2"},
			{"name":"legacy","title":"Legacy","version":"2.0.0","update_version":"1.9.0"}
		]`}},
		cmdThemeList: {{out: "Checking for updates...\n" +
			`[{"name":"twentytwentyfour","title":"Twenty Twenty-Four","version":"1.0","update_version":"1.1"}]`}},
		cmdCoreVersion: {{out: "6.4.3\n"}},
		cmdCoreCheck:   {{out: `[{"version":"6.5.2","update_type":"major","package_url":"https://example.org/wp.zip"}]`}},
	})
	c := newTestClient(r, Config{})

	got, err := c.ListUpdates(context.Background())
	if err != nil {
		t.Fatalf("ListUpdates: %v", err)
	}
	want := []update.Descriptor{
		{ID: "plugin-akismet", Name: "Akismet Anti-spam", Current: "5.3", Available: "5.3.1"},
		{ID: "theme-twentytwentyfour", Name: "Twenty Twenty-Four", Current: "1.0", Available: "1.1"},
		{ID: "core-wordpress", Name: "WordPress", Current: "6.4.3", Available: "6.5.2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListUpdates() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestListUpdates_NothingPending(t *testing.T) {
	r := newFakeRunner(map[string][]reply{
		cmdPluginList:  {{out: "[]"}},
		cmdThemeList:   {{out: ""}},
		cmdCoreVersion: {{out: "6.5.2"}},
		cmdCoreCheck:   {{out: "Success: WordPress is at the latest version.\n"}},
	})
	got, err := newTestClient(r, Config{}).ListUpdates(context.Background())
	if err != nil {
		t.Fatalf("ListUpdates: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListUpdates() = %+v, want none", got)
	}
}

func TestUpdateCore(t *testing.T) {
	t.Run("updated", func(t *testing.T) {
		r := newFakeRunner(map[string][]reply{
			cmdCoreCheck:     {{out: `[{"version":"6.5.2"}]`}},
			"core update":    {{out: "Success: WordPress updated successfully."}},
			"core update-db": {{out: "Success: WordPress database upgraded."}},
			cmdCoreVersion:   {{out: "6.5.2\n"}},
		})
		got, err := newTestClient(r, Config{}).UpdateCore(context.Background())
		if err != nil {
			t.Fatalf("UpdateCore: %v", err)
		}
		if got != (update.CoreResult{Updated: true, Version: "6.5.2"}) {
			t.Errorf("UpdateCore() = %+v", got)
		}
		if !r.ran("core update-db") {
			t.Error("database migration was not run")
		}
	})

	t.Run("no update", func(t *testing.T) {
		r := newFakeRunner(map[string][]reply{
			cmdCoreCheck: {{out: "Success: WordPress is at the latest version."}},
		})
		got, err := newTestClient(r, Config{}).UpdateCore(context.Background())
		if err != nil {
			t.Fatalf("UpdateCore: %v", err)
		}
		if got.Updated || got.Reason != update.ReasonNoUpdateAvailable {
			t.Errorf("UpdateCore() = %+v", got)
		}
		if r.ran("core update") {
			t.Error("core update ran with nothing to install")
		}
	})

	t.Run("not writable", func(t *testing.T) {
		r := newFakeRunner(nil)
		c := newTestClient(r, Config{Path: "/var/www/html"})
		c.writable = func(string) error { return errors.New("permission denied") }

		got, err := c.UpdateCore(context.Background())
		if err != nil {
			t.Fatalf("UpdateCore: %v", err)
		}
		if got.Reason != update.ReasonFilesystemNotWritable {
			t.Errorf("Reason = %q, want %q", got.Reason, update.ReasonFilesystemNotWritable)
		}
		if len(r.history) != 0 {
			t.Errorf("ran %v before the writable check passed", r.history)
		}
	})

	t.Run("update fails", func(t *testing.T) {
		r := newFakeRunner(map[string][]reply{
			cmdCoreCheck:  {{out: `[{"version":"6.5.2"}]`}},
			"core update": {{err: errors.New("exit status 1")}},
		})
		if _, err := newTestClient(r, Config{}).UpdateCore(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestFileModsAllowed(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		out      string
		err      error
		want     bool
		wantErr  bool
		noRunner bool
	}{
		{name: "constant absent", out: `[{"name":"WP_DEBUG","value":"false","type":"constant"}]`, want: true},
		{name: "constant true", out: `[{"name":"DISALLOW_FILE_MODS","value":"1","type":"constant"}]`, want: false},
		{name: "constant bool", out: `[{"name":"DISALLOW_FILE_MODS","value":true,"type":"constant"}]`, want: false},
		{name: "constant false", out: `[{"name":"DISALLOW_FILE_MODS","value":"false","type":"constant"}]`, want: true},
		{name: "variable ignored", out: `[{"name":"DISALLOW_FILE_MODS","value":"1","type":"variable"}]`, want: true},
		{name: "static config", cfg: Config{DisallowFileMods: true}, want: false, noRunner: true},
		{name: "command error", err: errors.New("exit status 1"), want: false, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner(map[string][]reply{cmdConfigList: {{out: tt.out, err: tt.err}}})
			got, err := newTestClient(r, tt.cfg).FileModsAllowed(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("FileModsAllowed() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FileModsAllowed() = %v, want %v", got, tt.want)
			}
			if tt.noRunner && len(r.history) != 0 {
				t.Errorf("ran %v", r.history)
			}
		})
	}
}

func TestUpdatePlugin_Reactivates(t *testing.T) {
	r := newFakeRunner(map[string][]reply{
		"plugin get akismet --field=status": {{out: "active\n"}, {out: "inactive\n"}},
		"plugin update akismet --format=json": {{out: "Downloading update from https://downloads.wordpress.org/plugin/akismet.5.3.1.zip...\n" +
			`[{"name":"akismet","old_version":"5.3","new_version":"5.3.1","status":"Updated"}]`}},
		"plugin activate akismet": {{out: "Plugin 'akismet' activated."}},
	})
	ups := newTestClient(r, Config{}).Upgraders()

	ok, err := ups[update.KindPlugin].Update(context.Background(), "akismet/akismet.php")
	if err != nil || !ok {
		t.Fatalf("Update() = %v, %v", ok, err)
	}
	if !r.ran("plugin activate akismet") {
		t.Errorf("plugin was not re-activated, history %v", r.history)
	}
}

func TestUpdatePlugin_ReactivationFailureKeepsUpgrade(t *testing.T) {
	tests := []struct {
		name    string
		script  map[string][]reply
		wantMsg string
	}{
		{
			name: "activate fails",
			script: map[string][]reply{
				"plugin get akismet --field=status":   {{out: "active"}, {out: "inactive"}},
				"plugin update akismet --format=json": {{out: `[{"name":"akismet","status":"Updated"}]`}},
				"plugin activate akismet":             {{err: errors.New("exit status 1")}},
			},
			wantMsg: "plugin updated but could not be re-activated",
		},
		{
			name: "status after update unreadable",
			script: map[string][]reply{
				"plugin get akismet --field=status":   {{out: "active"}, {err: errors.New("exit status 1")}},
				"plugin update akismet --format=json": {{out: `[{"name":"akismet","status":"Updated"}]`}},
			},
			wantMsg: "plugin updated but its status could not be read",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.ErrorLevel)
			c := NewClient(newFakeRunner(tt.script), Config{}, zap.New(core))
			c.writable = func(string) error { return nil }

			ok, err := c.Upgraders()[update.KindPlugin].Update(context.Background(), "akismet/akismet.php")
			if err != nil || !ok {
				t.Fatalf("Update() = %v, %v, want true, nil", ok, err)
			}
			entries := logs.FilterMessage(tt.wantMsg).All()
			if len(entries) != 1 {
				t.Fatalf("logged %d %q entries, want 1", len(entries), tt.wantMsg)
			}
			if got := entries[0].ContextMap()["plugin"]; got != "akismet" {
				t.Errorf("plugin field = %v, want akismet", got)
			}
		})
	}
}

func TestUpdatePlugin_NetworkActive(t *testing.T) {
	r := newFakeRunner(map[string][]reply{
		"plugin get hello --field=status":   {{out: "active-network"}, {out: "inactive"}},
		"plugin update hello --format=json": {{out: `[{"name":"hello","status":"Updated"}]`}},
		"plugin activate hello --network":   {{out: "ok"}},
	})
	ok, err := newTestClient(r, Config{}).Upgraders()[update.KindPlugin].Update(context.Background(), "hello.php")
	if err != nil || !ok {
		t.Fatalf("Update() = %v, %v", ok, err)
	}
	if !r.ran("plugin activate hello --network") {
		t.Errorf("history %v", r.history)
	}
}

func TestUpdatePlugin_InactiveStaysInactive(t *testing.T) {
	r := newFakeRunner(map[string][]reply{
		"plugin get hello --field=status":   {{out: "inactive"}},
		"plugin update hello --format=json": {{out: `[{"name":"hello","status":"Updated"}]`}},
	})
	ok, err := newTestClient(r, Config{}).Upgraders()[update.KindPlugin].Update(context.Background(), "hello")
	if err != nil || !ok {
		t.Fatalf("Update() = %v, %v", ok, err)
	}
	for _, h := range r.history {
		if strings.HasPrefix(h, "plugin activate") {
			t.Errorf("inactive plugin was activated: %v", r.history)
		}
	}
}

func TestUpdateTheme(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want bool
	}{
		{name: "updated", out: `[{"name":"twentytwentyfour","status":"Updated"}]`, want: true},
		{name: "already current", out: `[{"name":"twentytwentyfour","status":"Already updated"}]`, want: false},
		{name: "no json", out: "Success: Theme already updated.", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner(map[string][]reply{
				"theme update twentytwentyfour --format=json": {{out: tt.out}},
			})
			got, err := newTestClient(r, Config{}).Upgraders()[update.KindTheme].Update(context.Background(), "twentytwentyfour")
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if got != tt.want {
				t.Errorf("Update() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewer(t *testing.T) {
	tests := []struct {
		available, current string
		want               bool
	}{
		{"5.3.1", "5.3", true},
		{"6.5", "6.4.3", true},
		{"1.0.0", "1.0.0", false},
		{"1.9.0", "2.0.0", false},
		{"2024.01.02", "2023.12.30", true},
		{"", "1.0", false},
	}
	for _, tt := range tests {
		if got := newer(tt.available, tt.current); got != tt.want {
			t.Errorf("newer(%q, %q) = %v, want %v", tt.available, tt.current, got, tt.want)
		}
	}
}

func TestPluginSlug(t *testing.T) {
	tests := map[string]string{
		"akismet":             "akismet",
		"akismet/akismet.php": "akismet",
		"hello.php":           "hello",
	}
	for in, want := range tests {
		if got := pluginSlug(in); got != want {
			t.Errorf("pluginSlug(%q) = %q, want %q", in, got, want)
		}
	}
}
