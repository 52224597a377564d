package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type HostConfig struct {
	Host       Host
	Webrtc     Webrtc
	Monitoring Monitoring

	// the path of a loaded config file
	path string
}

type Host struct {
	Server Server
	Debug  bool
	// JoinTimeout limits how long a fresh connection may stay silent before its join.
	JoinTimeout time.Duration `default:"10s"`
	// GracePeriod is how long an empty room stays alive.
	GracePeriod   time.Duration `default:"30s"`
	QueueSize     int           `default:"256"`
	MaxViolations int           `default:"16"`
	Limits        Limits
	Capacity      Capacity
	WatchConfig   bool
	LockFile      string
}

type Server struct {
	Address string `default:":8000"`
	Https   bool
	Tls     struct {
		Address   string `default:":443"`
		Domain    string
		HttpsKey  string
		HttpsCert string
	}
}

type Limits struct {
	Nickname int     `default:"32"`
	Chat     int     `default:"512"`
	Uri      int     `default:"1024"`
	WorldId  int     `default:"128"`
	Position float64 `default:"1000000"`
}

// Capacity is the max number of players per world.
// Worlds without their own value use Default, zero means unlimited.
type Capacity struct {
	Default int `default:"64"`
	Worlds  map[string]int
}

func (c Capacity) For(worldId string) int {
	if v, ok := c.Worlds[worldId]; ok {
		return v
	}
	return c.Default
}

type Webrtc struct {
	DisableDefaultInterceptors bool
	DtlsRole                   byte
	IceServers                 []IceServer
	IcePorts                   struct {
		Min uint16
		Max uint16
	}
	IceIpMap   string
	IceLite    bool
	SinglePort int
	LogLevel   int `default:"3"`
}

type IceServer struct {
	Urls       string `json:"urls,omitempty"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

func (w *Webrtc) HasDtlsRole() bool   { return w.DtlsRole > 0 }
func (w *Webrtc) HasPortRange() bool  { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }
func (w *Webrtc) HasSinglePort() bool { return w.SinglePort > 0 }
func (w *Webrtc) HasIceIpMap() bool   { return w.IceIpMap != "" }

// IceIps splits the 1:1 NAT map into separate addresses.
func (w *Webrtc) IceIps() []string {
	var ips []string
	for _, ip := range strings.Split(w.IceIpMap, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

type Monitoring struct {
	Port             int    `default:"6601"`
	URLPrefix        string `default:"/host"`
	MetricEnabled    bool   `json:"metric_enabled"`
	ProfilingEnabled bool   `json:"profiling_enabled"`
}

func (c *Monitoring) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }

// NewHostConfig loads the config from a .env file, a config file, the env and
// the command line, each one overriding the previous.
func NewHostConfig(args []string) (conf HostConfig, err error) {
	pre := pflag.NewFlagSet("host", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	path, dotenv := bootFlags(pre)
	if err = pre.Parse(args); err != nil {
		return
	}
	if err = LoadDotEnv(*dotenv); err != nil {
		return
	}
	if conf.path, err = LoadConfig(&conf, *path); err != nil {
		return
	}
	fs := pflag.NewFlagSet("host", pflag.ContinueOnError)
	bootFlags(fs)
	conf.WithFlags(fs)
	err = fs.Parse(args)
	return
}

func bootFlags(fs *pflag.FlagSet) (path *string, dotenv *string) {
	path = fs.StringP("conf", "c", "", "a custom config directory")
	dotenv = fs.String("env", ".env", "a .env file with WORLDHOST_ variables")
	return
}

// WithFlags binds the command line overrides over loaded values.
func (c *HostConfig) WithFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Host.Server.Address, "address", "a", c.Host.Server.Address, "HTTP server address (host:port)")
	fs.BoolVar(&c.Host.Server.Https, "https", c.Host.Server.Https, "serve HTTPS")
	fs.BoolVarP(&c.Host.Debug, "debug", "d", c.Host.Debug, "debug logs")
	fs.IntVar(&c.Host.Capacity.Default, "capacity", c.Host.Capacity.Default, "default max players per world (0 unlimited)")
	fs.DurationVar(&c.Host.GracePeriod, "grace", c.Host.GracePeriod, "empty room lifetime")
	fs.BoolVar(&c.Host.WatchConfig, "watch", c.Host.WatchConfig, "reload capacities on config file changes")
	fs.StringVar(&c.Host.LockFile, "lock", c.Host.LockFile, "single instance lock file")
	fs.StringVar(&c.Webrtc.IceIpMap, "ice-ip", c.Webrtc.IceIpMap, "1:1 NAT IPs for ICE candidates")
	fs.IntVar(&c.Webrtc.SinglePort, "ice-port", c.Webrtc.SinglePort, "single UDP port for ICE")
	fs.Uint16Var(&c.Webrtc.IcePorts.Min, "ice-port-min", c.Webrtc.IcePorts.Min, "ICE port range start")
	fs.Uint16Var(&c.Webrtc.IcePorts.Max, "ice-port-max", c.Webrtc.IcePorts.Max, "ICE port range end")
	fs.BoolVar(&c.Webrtc.IceLite, "ice-lite", c.Webrtc.IceLite, "ICE lite mode")
}

// Path returns the config file that was loaded, if any.
func (c *HostConfig) Path() string { return c.path }
