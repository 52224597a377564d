package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/worldhost/worldhost/pkg/logger"
)

func TestConfigEnv(t *testing.T) {
	var out HostConfig

	t.Setenv("WORLDHOST_HOST_QUEUESIZE", "7")
	t.Setenv("WORLDHOST_HOST_CAPACITY_DEFAULT", "3")

	if _, err := LoadConfig(&out, ""); err != nil {
		t.Fatal(err)
	}
	if out.Host.QueueSize != 7 {
		t.Errorf("expected queue size 7, got %v", out.Host.QueueSize)
	}
	if out.Host.Capacity.Default != 3 {
		t.Errorf("expected capacity 3, got %v", out.Host.Capacity.Default)
	}
	if out.Host.JoinTimeout != 10*time.Second {
		t.Errorf("expected the default join timeout, got %v", out.Host.JoinTimeout)
	}
}

func TestFlagsOverride(t *testing.T) {
	t.Setenv("WORLDHOST_HOST_SERVER_ADDRESS", ":9001")
	conf, err := NewHostConfig([]string{"--capacity", "5", "--grace", "1m", "--env", "missing.env"})
	if err != nil {
		t.Fatal(err)
	}
	if conf.Host.Server.Address != ":9001" {
		t.Errorf("expected the env address, got %v", conf.Host.Server.Address)
	}
	if conf.Host.Capacity.Default != 5 {
		t.Errorf("expected capacity 5 from flags, got %v", conf.Host.Capacity.Default)
	}
	if conf.Host.GracePeriod != time.Minute {
		t.Errorf("expected 1m grace, got %v", conf.Host.GracePeriod)
	}
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, "test.env")
	if err := os.WriteFile(env, []byte("WORLDHOST_HOST_MAXVIOLATIONS=2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("WORLDHOST_HOST_MAXVIOLATIONS") })

	conf, err := NewHostConfig([]string{"--env", env})
	if err != nil {
		t.Fatal(err)
	}
	if conf.Host.MaxViolations != 2 {
		t.Errorf("expected 2 violations from .env, got %v", conf.Host.MaxViolations)
	}
}

func TestCapacityFor(t *testing.T) {
	c := Capacity{Default: 10, Worlds: map[string]int{"small": 2, "open": 0}}
	tests := []struct {
		world string
		want  int
	}{
		{"small", 2},
		{"open", 0},
		{"other", 10},
	}
	for _, test := range tests {
		if got := c.For(test.world); got != test.want {
			t.Errorf("%v: expected %v, got %v", test.world, test.want, got)
		}
	}
}

func TestIceIps(t *testing.T) {
	w := Webrtc{IceIpMap: " 1.1.1.1, ,2.2.2.2"}
	ips := w.IceIps()
	if len(ips) != 2 || ips[0] != "1.1.1.1" || ips[1] != "2.2.2.2" {
		t.Errorf("unexpected ips %v", ips)
	}
}

func TestCapacityWatcher(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, FileName)
	if err := os.WriteFile(file, []byte("host:\n  capacity:\n    default: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	changes := make(chan Capacity, 4)
	w, err := NewCapacityWatcher(file, func(c Capacity) { changes <- c }, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	w.Run()
	defer func() { _ = w.Shutdown(context.Background()) }()

	data := []byte("host:\n  capacity:\n    default: 9\n    worlds:\n      lobby: 2\n")
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if c.Default != 9 || c.For("lobby") != 2 {
			t.Errorf("unexpected capacity %+v", c)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload")
	}
}
