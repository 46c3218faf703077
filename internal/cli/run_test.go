package cli

import (
	"testing"

	"github.com/hollowvale/skillharness/internal/sandbox"
)

func TestEffectiveMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flag    string
		image   string
		want    sandbox.Mode
		wantErr bool
	}{
		{name: "no flag no image stays local", flag: "", image: "", want: sandbox.ModeLocal},
		{name: "configured image upgrades to container", flag: "", image: "harness-sandbox:1", want: sandbox.ModeContainer},
		{name: "explicit local wins over image", flag: "local", image: "harness-sandbox:1", want: sandbox.ModeLocal},
		{name: "explicit container", flag: "container", image: "", want: sandbox.ModeContainer},
		{name: "unknown mode", flag: "chroot", image: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := effectiveMode(tt.flag, tt.image)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("got %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("effectiveMode: %v", err)
			}
			if got != tt.want {
				t.Errorf("mode = %q, want %q", got, tt.want)
			}
		})
	}
}
