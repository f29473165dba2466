package service_test

import (
	"testing"

	"github.com/textpulse/sms-marketing-backend/internal/model"
	"github.com/textpulse/sms-marketing-backend/internal/service"
)

func TestRenderTemplate(t *testing.T) {
	got := service.RenderTemplate("Hello {first_name}, your code is {code}", map[string]string{
		"first_name": "Amina",
		"code":       "1234",
	})
	want := "Hello Amina, your code is 1234"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRenderForContact(t *testing.T) {
	c := model.Contact{FirstName: "Amina", LastName: "Odhiambo", Phone: "+254700000001"}

	got := service.RenderForContact("Hi {first_name} {last_name}", c)
	if got != "Hi Amina Odhiambo" {
		t.Errorf("unexpected render: %q", got)
	}

	// Unknown placeholders pass through untouched.
	got = service.RenderForContact("Hi {nickname}", c)
	if got != "Hi {nickname}" {
		t.Errorf("unknown placeholder should be preserved, got %q", got)
	}
}
