package server_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zh-yjie/ya-dns/internal/appconfig"
	"github.com/zh-yjie/ya-dns/internal/handler"
	"github.com/zh-yjie/ya-dns/internal/server"
)

func TestNew_BuildsBothListeners(t *testing.T) {
	h := handler.New(&appconfig.AppConfig{}, nil, 0, nil)
	s := server.New("127.0.0.1:0", h)
	require.NotNil(t, s)
}
