package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"twcrawl/internal/jobs"
	"twcrawl/pkg/config"
)

func TestEveryJobHasACommand(t *testing.T) {
	for _, name := range jobs.Names {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestRunValidatesJobNames(t *testing.T) {
	err := runCmd.RunE(runCmd, []string{"users", "retweets"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job")

	err = runCmd.RunE(runCmd, []string{"users", "users"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twice")
}

func TestResolveTokenPrefersConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Twitter.BearerToken = "from-config"

	token, err := resolveToken(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "from-config", token)
}

func TestExitError(t *testing.T) {
	err := &exitError{code: 2}
	assert.Equal(t, "exit status 2", err.Error())
}
