package versioncmd

import (
	"testing"

	"github.com/stratumhq/stratum/pkg/component"
	"github.com/stratumhq/stratum/pkg/factory"
)

func TestPlugin_CommandInfo(t *testing.T) {
	p := New("1.2.3")
	fn := p.CommandInfoFunc().(func() (*component.CommandInfo, error))

	info, err := fn()
	if err != nil {
		t.Fatalf("CommandInfoFunc: %v", err)
	}
	if info.Name != Name {
		t.Errorf("info.Name = %q, want %q", info.Name, Name)
	}
}

func TestPlugin_SetRequestMetadataRoundTrips(t *testing.T) {
	p := New("1.2.3")
	p.SetRequestMetadata("request-id", "abc-123")

	if got := p.Metadata()["request-id"]; got != "abc-123" {
		t.Errorf("Metadata()[request-id] = %q, want %q", got, "abc-123")
	}
}

func TestRegister(t *testing.T) {
	reg := factory.New()
	Register(reg, "9.9.9")

	names := reg.Names(component.KindCommand)
	found := false
	for _, n := range names {
		if n == Name {
			found = true
		}
	}
	if !found {
		t.Fatalf("Names(KindCommand) = %v, want to contain %q", names, Name)
	}
}
