package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		goos     string
		wsl      bool
		url      string
		wantCmd  string
		wantArgs []string
	}{
		{
			name:     "linux",
			goos:     "linux",
			url:      "https://example.com/authorize?a=1&b=2",
			wantCmd:  "xdg-open",
			wantArgs: []string{"https://example.com/authorize?a=1&b=2"},
		},
		{
			name:     "darwin",
			goos:     "darwin",
			url:      "https://example.com",
			wantCmd:  "open",
			wantArgs: []string{"https://example.com"},
		},
		{
			name:     "windows-escapes-ampersands",
			goos:     "windows",
			url:      "https://example.com/authorize?a=1&b=2",
			wantCmd:  "cmd.exe",
			wantArgs: []string{"/c", "start", "https://example.com/authorize?a=1^&b=2"},
		},
		{
			name:     "wsl-uses-windows-launcher",
			goos:     "linux",
			wsl:      true,
			url:      "https://example.com",
			wantCmd:  "cmd.exe",
			wantArgs: []string{"/c", "start", "https://example.com"},
		},
		{
			name:     "bsd-falls-back-to-xdg-open",
			goos:     "openbsd",
			url:      "https://example.com",
			wantCmd:  "xdg-open",
			wantArgs: []string{"https://example.com"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			cmd, args := openCommand(tt.goos, tt.wsl, tt.url)
			assert.Equal(tt.wantCmd, cmd)
			assert.Equal(tt.wantArgs, args)
		})
	}
}
