package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObjectPath(t *testing.T) {
	uploaded := time.Date(2026, time.August, 29, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		scope    string
		filename string
		want     string
	}{
		{
			name:     "plain names",
			scope:    "acme",
			filename: "report.pdf",
			want:     "scopes/acme/2026/08/report.pdf",
		},
		{
			name:     "month is zero padded",
			scope:    "acme",
			filename: "report.pdf",
			want:     "scopes/acme/2026/08/report.pdf",
		},
		{
			name:     "separators in scope are neutralized",
			scope:    "acme/evil",
			filename: "report.pdf",
			want:     "scopes/acme_evil/2026/08/report.pdf",
		},
		{
			name:     "traversal in filename is neutralized",
			scope:    "acme",
			filename: "../../etc/passwd",
			want:     "scopes/acme/2026/08/___etc_passwd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ObjectPath(tt.scope, tt.filename, uploaded)
			assert.Equal(t, tt.want, got)

			// The result must always survive path validation.
			_, err := CleanPath(got)
			assert.NoError(t, err)
		})
	}
}

func TestObjectPathJanuary(t *testing.T) {
	uploaded := time.Date(2027, time.January, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "scopes/acme/2027/01/a.txt", ObjectPath("acme", "a.txt", uploaded))
}
