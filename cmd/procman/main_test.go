package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionString(t *testing.T) {
	origVersion, origCommit := version, commit
	t.Cleanup(func() { version, commit = origVersion, origCommit })

	for _, tc := range []struct{ version, commit, want string }{
		{"", "", "dev"},
		{"0.4.0", "unknown", "0.4.0"},
		{"v0.4.0", "9f1c2e", "v0.4.0+9f1c2e"},
		{"v0.4.0-3-g9f1c2e", "9f1c2e", "v0.4.0-3-g9f1c2e"},
		{" 0.4 ", " 9f ", "0.4+9f"},
	} {
		version, commit = tc.version, tc.commit
		assert.Equal(t, tc.want, versionString(), "version=%q commit=%q", tc.version, tc.commit)
	}
}
