package utils

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFromDBURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"postgresql://user:pw@dbhost:5433/lapcounter", "dbhost:5433"},
		{"postgresql://user:pw@dbhost/lapcounter", "dbhost:5432"},
		{"postgres://dbhost/lapcounter?sslmode=disable", "dbhost:5432"},
		{"postgresql://user@10.0.0.1:6000/db", "10.0.0.1:6000"},
		{"host=localhost dbname=x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFromDBURL(tt.url))
		})
	}
}

func TestExtractFromNatsURL(t *testing.T) {
	assert.Equal(t, "nats:4222", ExtractFromNatsURL("nats://nats"))
	assert.Equal(t, "localhost:4333", ExtractFromNatsURL("nats://user:pw@localhost:4333"))
	assert.Equal(t, "", ExtractFromNatsURL("tls://localhost:4222"))
}

func TestWaitForTCP(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	assert.NoError(t, WaitForTCP(context.Background(), addr, time.Second))

	lis.Close()
	assert.Error(t, WaitForTCP(context.Background(), addr, 300*time.Millisecond))
}
