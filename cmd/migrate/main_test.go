package main

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shoporder/internal/storage/postgres"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		want    options
		wantErr string
	}{
		{
			name: "defaults with env dsn",
			env:  map[string]string{envPostgresDSN: " postgres://env "},
			want: options{direction: "up", dsn: "postgres://env"},
		},
		{
			name: "flag dsn wins",
			args: []string{"-dsn", "postgres://flag", "-direction", "STATUS"},
			env:  map[string]string{envPostgresDSN: "postgres://env"},
			want: options{direction: "status", dsn: "postgres://flag"},
		},
		{
			name: "down defaults to one step",
			args: []string{"-direction", "down", "-dsn", "postgres://flag"},
			want: options{direction: "down", steps: 1, dsn: "postgres://flag"},
		},
		{
			name:    "missing dsn",
			wantErr: envPostgresDSN,
		},
		{
			name:    "bad direction",
			args:    []string{"-direction", "sideways", "-dsn", "x"},
			wantErr: "unsupported direction",
		},
		{
			name:    "negative steps",
			args:    []string{"-steps", "-2", "-dsn", "x"},
			wantErr: "steps must be >= 0",
		},
		{
			name:    "unknown flag",
			args:    []string{"-force"},
			wantErr: "flag provided but not defined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptions(tt.args, lookupFrom(tt.env))
			if tt.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestPrintState(t *testing.T) {
	var buf bytes.Buffer
	printState(&buf, "status", postgres.MigrationState{Version: 1, Applied: 1, Pending: []string{"0002_outbox_idempotency"}})
	require.Equal(t, "migrate status ok: version=1 applied=1\n  pending: 0002_outbox_idempotency\n", buf.String())
}

func TestRun_Lifecycle(t *testing.T) {
	dsn := os.Getenv("SHOP_TEST_POSTGRES_DSN")
	if dsn == "" || testing.Short() {
		t.Skip("SHOP_TEST_POSTGRES_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var buf bytes.Buffer
	require.NoError(t, run(ctx, options{direction: "up", dsn: dsn}, &buf))
	require.Contains(t, buf.String(), "migrate up ok: version=3 applied=3")

	buf.Reset()
	require.NoError(t, run(ctx, options{direction: "down", steps: 1, dsn: dsn}, &buf))
	require.Contains(t, buf.String(), "pending: 0003_user_spend_recalculated")

	buf.Reset()
	require.NoError(t, run(ctx, options{direction: "up", dsn: dsn}, &buf))
	require.Contains(t, buf.String(), "version=3")
}
