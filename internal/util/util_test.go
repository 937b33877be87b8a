package util

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sourcequery-project/sourcequery/internal/protocol"
)

func TestPlatformFor(t *testing.T) {
	tests := []struct {
		goos string
		want Platform
	}{
		{"linux", PlatformLinux},
		{"windows", PlatformWindows},
		{"darwin", PlatformMac},
		{"freebsd", PlatformUnknown},
	}
	for _, tt := range tests {
		if got := platformFor(tt.goos); got != tt.want {
			t.Errorf("platformFor(%q) = %q, want %q", tt.goos, got, tt.want)
		}
	}
}

func TestEnvironmentByte_Override(t *testing.T) {
	tests := []struct {
		override string
		want     byte
	}{
		{"linux", protocol.EnvLinux},
		{"windows", protocol.EnvWindows},
		{"WINDOWS", protocol.EnvWindows},
		{"mac", protocol.EnvMac},
		{"plan9", protocol.EnvLinux},
	}
	for _, tt := range tests {
		if got := EnvironmentByte(tt.override); got != tt.want {
			t.Errorf("EnvironmentByte(%q) = %q, want %q", tt.override, got, tt.want)
		}
	}
}

func TestEnvironmentByte_Detected(t *testing.T) {
	got := EnvironmentByte("")
	if got != protocol.EnvLinux && got != protocol.EnvWindows && got != protocol.EnvMac {
		t.Fatalf("unexpected environment byte %q", got)
	}
}

func TestHostDiagnostics_Rules(t *testing.T) {
	d := HostDiagnostics{
		System:      SystemInfo{OS: "ubuntu 24.04", Architecture: "amd64", CPUCores: 8, TotalMemory: 16000},
		CPUPercent:  12.345,
		MemPercent:  50,
		DiskPercent: 99.99,
	}
	got := map[string]string{}
	for _, r := range d.Rules() {
		got[r.Name] = r.Value
	}
	want := map[string]string{
		"host_os":             "ubuntu 24.04",
		"host_arch":           "amd64",
		"host_cpu_cores":      "8",
		"host_memory_mb":      "16000",
		"host_cpu_percent":    "12.3",
		"host_memory_percent": "50.0",
		"host_disk_percent":   "100.0",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"sourcequery_2026-01-01.log",
		"sourcequery_2026-01-03.log",
		"sourcequery_2026-01-02.log",
		"sourcequery_2026-01-04.log",
		"other.log",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	removed := cleanOldLogs(dir, 2)
	if len(removed) != 2 || removed[0] != "sourcequery_2026-01-01.log" || removed[1] != "sourcequery_2026-01-02.log" {
		t.Fatalf("removed = %v", removed)
	}
	for _, keep := range []string{"sourcequery_2026-01-03.log", "sourcequery_2026-01-04.log", "other.log"} {
		if !FileExists(filepath.Join(dir, keep)) {
			t.Errorf("%s should be kept", keep)
		}
	}
}

func TestLogFileName(t *testing.T) {
	got := logFileName(time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC))
	if got != "sourcequery_2026-03-09.log" {
		t.Fatalf("logFileName = %q", got)
	}
}

func releaseServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), AppName+"/") {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUpdater_CheckForUpdate(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		body      string
		available bool
	}{
		{"same version", "1.2.0", `{"tag_name":"v1.2.0"}`, false},
		{"current has prefix", "v1.2.0", `{"tag_name":"1.2.0"}`, false},
		{"newer", "1.2.0", `{"tag_name":"v1.3.0","html_url":"https://example.com/r"}`, true},
		{"older counts as different", "1.3.0", `{"tag_name":"v1.2.0"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := releaseServer(t, http.StatusOK, tt.body)
			u := NewUpdater(srv.URL, tt.current)
			available, rel, err := u.CheckForUpdate(context.Background())
			if err != nil {
				t.Fatalf("CheckForUpdate: %v", err)
			}
			if available != tt.available {
				t.Errorf("available = %v, want %v (latest %q)", available, tt.available, rel.Version())
			}
		})
	}
}

func TestUpdater_Failures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := releaseServer(t, http.StatusNotFound, `{}`)
		if _, _, err := NewUpdater(srv.URL, "1.0.0").CheckForUpdate(context.Background()); err == nil {
			t.Fatal("expected error for 404")
		}
	})
	t.Run("bad json", func(t *testing.T) {
		srv := releaseServer(t, http.StatusOK, `not json`)
		if _, _, err := NewUpdater(srv.URL, "1.0.0").CheckForUpdate(context.Background()); err == nil {
			t.Fatal("expected decode error")
		}
	})
	t.Run("empty tag", func(t *testing.T) {
		srv := releaseServer(t, http.StatusOK, `{"tag_name":""}`)
		_, _, err := NewUpdater(srv.URL, "1.0.0").CheckForUpdate(context.Background())
		if !errors.Is(err, ErrNoRelease) {
			t.Fatalf("err = %v, want ErrNoRelease", err)
		}
	})
}

func TestEnsureTLSCert(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "tls", "api.crt")
	key := filepath.Join(dir, "tls", "api.key")

	created, err := EnsureTLSCert(cert, key)
	if err != nil || !created {
		t.Fatalf("first EnsureTLSCert = %v, %v", created, err)
	}
	data, err := os.ReadFile(cert)
	if err != nil || !strings.Contains(string(data), "BEGIN CERTIFICATE") {
		t.Fatalf("certificate not written: %v", err)
	}

	created, err = EnsureTLSCert(cert, key)
	if err != nil || created {
		t.Fatalf("second EnsureTLSCert = %v, %v", created, err)
	}
}
