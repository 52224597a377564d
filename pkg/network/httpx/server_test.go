package httpx

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"testing"

	"github.com/worldhost/worldhost/pkg/logger"
)

func TestServerPrefixMux(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", func(*Server) Handler {
		return NewServeMux("/api").HandleFunc("/ok", func(w ResponseWriter, _ *Request) {
			_, _ = w.Write([]byte("ok"))
		})
	}, WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv.Run()
	defer func() { _ = srv.Shutdown(context.Background()) }()

	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(srv.GetPort()) + "/api/ok")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("unexpected response %v %q", resp.StatusCode, body)
	}
}
