package evaluation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScaffold(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    Scaffold
		wantErr string
	}{
		{
			name:    "block scalar",
			content: "name: eliminate\npre_prompt: |\n  Rule out wrong options first.\n  Then answer.\n",
			want:    Scaffold{Name: "eliminate", PrePrompt: "Rule out wrong options first.\nThen answer."},
		},
		{
			name:    "missing pre-prompt",
			content: "name: empty\n",
			wantErr: "has no pre_prompt",
		},
		{
			name:    "invalid yaml",
			content: "pre_prompt: [unterminated\n",
			wantErr: "failed to parse scaffold file",
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "scaffold"+string(rune('a'+i))+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			got, err := LoadScaffold(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}

	_, err := LoadScaffold(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
