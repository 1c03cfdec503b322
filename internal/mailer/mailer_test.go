package mailer

import (
	"strings"
	"testing"
)

func TestMessageBuild(t *testing.T) {
	msg := &Message{
		From:      "news@example.com",
		FromName:  "Newsletter HQ",
		To:        "alice@example.com",
		Subject:   "Weekly digest",
		Body:      "Hello Alice",
		Preheader: "This week in short",
	}

	data := string(msg.Build())

	for _, want := range []string{
		"From: ",
		"news@example.com",
		"To: alice@example.com\r\n",
		"Subject: ",
		"MIME-Version: 1.0\r\n",
		"Content-Type: text/plain; charset=utf-8\r\n",
		"Hello Alice",
	} {
		if !strings.Contains(data, want) {
			t.Errorf("message missing %q", want)
		}
	}

	headers, _, found := strings.Cut(data, "\r\n\r\n")
	if !found {
		t.Fatal("no header/body separator")
	}
	if strings.Contains(headers, "Hello Alice") {
		t.Error("body leaked into headers")
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"valid", Message{From: "a@x.com", To: "b@y.com", Subject: "s", Body: "b"}, false},
		{"missing from", Message{To: "b@y.com", Subject: "s", Body: "b"}, true},
		{"missing to", Message{From: "a@x.com", Subject: "s", Body: "b"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeliveryErrorTemporary(t *testing.T) {
	perm := &DeliveryError{Temporary: false, Message: "550 no such user"}
	if perm.Temporary {
		t.Error("permanent error marked temporary")
	}
	if perm.Error() != "550 no such user" {
		t.Errorf("Error() = %q", perm.Error())
	}
}
