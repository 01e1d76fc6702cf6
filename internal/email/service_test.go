package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "boards@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "boards@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "boards@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestSendInvitation(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "boards@example.com"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	svc.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err := svc.SendInvitation("dana@example.com", InvitationData{
		BoardName: "Roadmap",
		Inviter:   "usr_1",
		Role:      "writer",
		AcceptURL: "https://boards.example.com/invitations/accept?token=abc123",
		ExpiresAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("SendInvitation failed: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "dana@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	for _, want := range []string{
		"Subject: You're invited to Roadmap on Taskboard",
		"From: Taskboard <boards@example.com>",
		"https://boards.example.com/invitations/accept?token=abc123",
		"1 Mar 2026 12:00 UTC",
		"<strong>writer</strong>",
	} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message should contain %q", want)
		}
	}
}

func TestSendWithoutConfig(t *testing.T) {
	svc := NewService(Config{})
	err := svc.SendInvitation("dana@example.com", InvitationData{BoardName: "Roadmap"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
