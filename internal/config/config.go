// Package config loads the softphone configuration from command line
// flags with environment variable overrides.
package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the softphone configuration
type Config struct {
	// SIP account settings
	Username    string
	DisplayName string
	Realm       string // SIP domain used in our identity
	ServerAddr  string // registrar/proxy host:port
	Register    bool
	Expiry      time.Duration

	// SIP listener settings
	Port      int
	BindAddr  string
	Transport string

	LogLevel string

	// Call history storage: "file", "redis", or "memory"
	StoreBackend string
	StorePath    string
	RedisAddr    string
	RedisPass    string
	RedisDB      int
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{
		Expiry: 10 * time.Minute,
	}

	flag.StringVar(&cfg.Username, "user", "softphone", "SIP account username")
	flag.StringVar(&cfg.DisplayName, "name", "", "Display name sent with outbound calls")
	flag.StringVar(&cfg.Realm, "realm", "", "SIP domain (defaults to the server host)")
	flag.StringVar(&cfg.ServerAddr, "server", "", "SIP server host:port (registration disabled if empty)")
	flag.IntVar(&cfg.Port, "port", 5060, "SIP listening port")
	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "SIP bind address")
	flag.StringVar(&cfg.Transport, "transport", "udp", "SIP transport (udp, tcp)")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.StoreBackend, "store", "file", "Call history backend (file, redis, memory)")
	flag.StringVar(&cfg.StorePath, "storepath", defaultStorePath(), "Call history file path (file backend)")
	flag.StringVar(&cfg.RedisAddr, "redis", "localhost:6379", "Redis address (redis backend)")

	var expiry int
	flag.IntVar(&expiry, "expiry", 600, "Registration expiry in seconds")

	flag.Parse()
	cfg.Expiry = time.Duration(expiry) * time.Second

	// Override with environment variables if set
	if user := os.Getenv("SIP_USER"); user != "" {
		cfg.Username = user
	}
	if name := os.Getenv("SIP_DISPLAY_NAME"); name != "" {
		cfg.DisplayName = name
	}
	if realm := os.Getenv("SIP_REALM"); realm != "" {
		cfg.Realm = realm
	}
	if server := os.Getenv("SIP_SERVER"); server != "" {
		cfg.ServerAddr = server
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if bind := os.Getenv("BIND"); bind != "" {
		cfg.BindAddr = bind
	}
	if transport := os.Getenv("SIP_TRANSPORT"); transport != "" {
		cfg.Transport = strings.ToLower(transport)
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}
	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		cfg.StoreBackend = strings.ToLower(backend)
	}
	if path := os.Getenv("STORE_PATH"); path != "" {
		cfg.StorePath = path
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		cfg.RedisPass = pass
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.RedisDB = n
		}
	}

	cfg.Register = cfg.ServerAddr != ""
	if cfg.Realm == "" {
		cfg.Realm = realmFromServer(cfg.ServerAddr)
	}

	return cfg
}

// realmFromServer derives the SIP domain from the server address,
// falling back to the primary interface IP for serverless setups.
func realmFromServer(serverAddr string) string {
	if serverAddr != "" {
		if host, _, err := net.SplitHostPort(serverAddr); err == nil {
			return host
		}
		return serverAddr
	}
	return getPrimaryInterfaceIP()
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "softphone-calls.json"
	}
	return home + "/.softphone/calls.json"
}

// getPrimaryInterfaceIP detects the primary network interface IP address
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
