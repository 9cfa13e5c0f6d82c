package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMissionFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mission.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMissionFile(t *testing.T) {
	path := writeMissionFile(t, `{
		"objective": "build the parser",
		"project_id": "parser",
		"version": "0.1.0",
		"known_imports": ["parser/"],
		"tasks": [
			{"id": "lexer", "description": "tokenize input", "target_path": "core/lexer.go"},
			{"id": "ast", "description": "build the tree", "dependencies": ["lexer"], "max_retries": 5}
		]
	}`)

	mf, err := loadMissionFile(path)
	require.NoError(t, err)
	assert.Equal(t, "build the parser", mf.Objective)
	require.Len(t, mf.Tasks, 2)
	assert.Equal(t, []string{"lexer"}, mf.Tasks[1].Dependencies)
	assert.Equal(t, 5, mf.Tasks[1].MaxRetries)
}

func TestLoadMissionFileRejectsBadDefinitions(t *testing.T) {
	cases := map[string]string{
		"no objective": `{"tasks": [{"id": "a"}]}`,
		"no tasks":     `{"objective": "x"}`,
		"missing id":   `{"objective": "x", "tasks": [{"description": "y"}]}`,
		"duplicate id": `{"objective": "x", "tasks": [{"id": "a"}, {"id": "a"}]}`,
		"not json":     `objective: x`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadMissionFile(writeMissionFile(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissionFileMissing(t *testing.T) {
	_, err := loadMissionFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
