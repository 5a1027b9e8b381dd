package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"document-gateway/auth"
	"document-gateway/internal/config"
	"document-gateway/internal/domain"
	"document-gateway/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cmd-secret")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--subject", "alice", "--scopes", auth.ScopeRead, "--ttl", "1h"})
	require.NoError(t, rootCmd.Execute())

	claims, err := auth.NewAuthenticator("cmd-secret").Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.True(t, claims.HasScope(auth.ScopeRead))
	assert.False(t, claims.HasScope(auth.ScopeWrite))
}

func TestOpenBackend_BadgerFeedsSource(t *testing.T) {
	cfg := config.Config{StoreBackend: "badger", FeedRetention: 16}
	be, err := openBackend(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer be.close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := be.source.Open(ctx, domain.Filter{Repo: "r", Branch: "main"})
	require.NoError(t, err)
	defer stream.Close()

	key := domain.IdentityKey{Repo: "r", Branch: "main", Path: "f"}
	_, err = be.store.Write(ctx, store.WriteRequest{Key: key, Blob: []byte("a"), Author: "alice"})
	require.NoError(t, err)

	rec, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, rec.Key)
	assert.Equal(t, domain.ChangeCreated, rec.Kind)
}
