package notify

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/types"
)

func testSolution() *types.FinderSolution {
	return &types.FinderSolution{
		EventID:       "20230206_0000008",
		FinderEventID: "23",
		Event: types.FinderEvent{
			OriginTimeEpoch: 1675646254,
			Latitude:        37.22,
			Longitude:       37.02,
			DepthKm:         20,
			Magnitude:       7.8,
		},
	}
}

func enabledConfig() Config {
	return Config{
		Host:       "smtp.example.org",
		Port:       587,
		From:       "finderd@example.org",
		Recipients: []string{"duty@example.org"},
	}
}

func TestEnabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Fatal("empty config reports enabled")
	}
	if !enabledConfig().Enabled() {
		t.Fatal("full config reports disabled")
	}
	c := enabledConfig()
	c.Recipients = nil
	if c.Enabled() {
		t.Fatal("config without recipients reports enabled")
	}
}

func TestDisabledMailerIsNoop(t *testing.T) {
	m := New(Config{}, zap.NewNop())
	m.send = func(*mail.Msg) error {
		t.Fatal("disabled mailer tried to send")
		return nil
	}
	if err := m.NotifySuccess(testSolution(), 60, ""); err != nil {
		t.Fatalf("disabled success notify: %v", err)
	}
	if err := m.NotifyFailure("ev1", 60, errors.New("boom"), ""); err != nil {
		t.Fatalf("disabled failure notify: %v", err)
	}
}

func TestNotifySuccessMessage(t *testing.T) {
	var sent *mail.Msg
	m := New(enabledConfig(), zap.NewNop())
	m.send = func(msg *mail.Msg) error {
		sent = msg
		return nil
	}

	jpg := filepath.Join(t.TempDir(), "intensity.jpg")
	if err := os.WriteFile(jpg, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.NotifySuccess(testSolution(), 60, jpg); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if sent == nil {
		t.Fatal("nothing sent")
	}

	subject := sent.GetGenHeader(mail.HeaderSubject)
	if len(subject) == 0 || !strings.Contains(subject[0], "20230206_0000008") {
		t.Errorf("subject = %v", subject)
	}
	if !strings.Contains(subject[0], "t+60") {
		t.Errorf("subject missing stage: %v", subject)
	}
	if len(sent.GetAttachments()) != 1 {
		t.Errorf("attachments = %d, want intensity image", len(sent.GetAttachments()))
	}
}

func TestNotifySuccessMissingImageStillSends(t *testing.T) {
	var sent *mail.Msg
	m := New(enabledConfig(), zap.NewNop())
	m.send = func(msg *mail.Msg) error {
		sent = msg
		return nil
	}
	if err := m.NotifySuccess(testSolution(), 0, "/nonexistent/intensity.jpg"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if sent == nil {
		t.Fatal("nothing sent")
	}
	if len(sent.GetAttachments()) != 0 {
		t.Fatal("missing image was attached anyway")
	}
}

func TestNotifyFailureMessage(t *testing.T) {
	var sent *mail.Msg
	m := New(enabledConfig(), zap.NewNop())
	m.send = func(msg *mail.Msg) error {
		sent = msg
		return nil
	}

	logPath := filepath.Join(t.TempDir(), "run.log")
	if err := os.WriteFile(logPath, []byte("engine exited 1"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.NotifyFailure("ev1", 2880, errors.New("engine exited 1"), logPath); err != nil {
		t.Fatalf("notify: %v", err)
	}
	subject := sent.GetGenHeader(mail.HeaderSubject)
	if len(subject) == 0 || !strings.Contains(subject[0], "FAILED") {
		t.Errorf("subject = %v", subject)
	}
	if len(sent.GetAttachments()) != 1 {
		t.Errorf("attachments = %d, want run log", len(sent.GetAttachments()))
	}
}

func TestSuccessBodyContents(t *testing.T) {
	body := successBody(testSolution(), 60)
	for _, want := range []string{"M", "7.8", "37.22", "20230206_0000008", "2023-02-06T01:17:34Z"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}
