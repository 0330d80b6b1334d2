// Package config provides configuration management and the trust store for
// transwacom (base spec §4.2). Unlike the teacher's JSON config, the
// persisted format here is YAML per base spec §4.2/§6, written atomically
// (temp file + rename) so a crash mid-write never corrupts the on-disk
// config.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"

	"transwacom/internal/faults"
)

const logPrefix = "Config"

// TrustedHost is a Consumer-side policy entry for a known Host peer.
type TrustedHost struct {
	HostID     string `yaml:"host_id"`
	AutoAccept bool   `yaml:"auto_accept"`
}

// TrustedConsumer is a Host-side policy entry for a known Consumer peer.
type TrustedConsumer struct {
	ConsumerID     string   `yaml:"consumer_id"`
	AutoAccept     bool     `yaml:"auto_accept"`
	AllowedDevices []string `yaml:"allowed_devices,omitempty"`
}

// GeneralConfig holds the MachineIdentity (base spec §3): generated once,
// never mutated by the protocol.
type GeneralConfig struct {
	MachineName string `yaml:"machine_name"`
	MachineID   string `yaml:"machine_id"`
}

// NetworkConfig is the Consumer's listen configuration.
type NetworkConfig struct {
	Port     int    `yaml:"port"`
	MDNSName string `yaml:"mdns_name"`
}

// DevicesGate is the per-kind accept gate on the Consumer side.
type DevicesGate struct {
	TabletEnabled   bool `yaml:"tablet_enabled"`
	JoystickEnabled bool `yaml:"joystick_enabled"`
}

// ConsumerConfig groups all Consumer-role settings.
type ConsumerConfig struct {
	Network      NetworkConfig          `yaml:"network"`
	Devices      DevicesGate            `yaml:"devices"`
	TrustedHosts map[string]TrustedHost `yaml:"trusted_hosts"`
}

// HostConfig groups all Host-role settings.
type HostConfig struct {
	RelativeMode     bool                       `yaml:"relative_mode"`
	DisableLocal     bool                       `yaml:"disable_local"`
	TrustedConsumers map[string]TrustedConsumer `yaml:"trusted_consumers"`
}

// Config is the full on-disk schema (base spec §4.2).
type Config struct {
	General  GeneralConfig  `yaml:"general"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Host     HostConfig     `yaml:"host"`
}

const defaultPort = 3333

// DefaultConfig returns sane defaults plus a freshly generated machine identity.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			MachineName: hostnameOrFallback(),
			MachineID:   generateMachineID(),
		},
		Consumer: ConsumerConfig{
			Network: NetworkConfig{
				Port:     defaultPort,
				MDNSName: hostnameOrFallback(),
			},
			Devices: DevicesGate{
				TabletEnabled:   true,
				JoystickEnabled: true,
			},
			TrustedHosts: map[string]TrustedHost{},
		},
		Host: HostConfig{
			RelativeMode:     false,
			DisableLocal:     true,
			TrustedConsumers: map[string]TrustedConsumer{},
		},
	}
}

func hostnameOrFallback() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "transwacom-host"
}

// generateMachineID produces a stable-once, 128-bit-entropy fingerprint
// (base spec §3: "128+ bits of entropy, generated once and stored").
func generateMachineID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the OS entropy source is broken; there
		// is no safe fallback that still satisfies the entropy requirement.
		panic(fmt.Sprintf("config: cannot generate machine_id: %v", err))
	}
	return hex.EncodeToString(buf)
}

// Manager owns the single in-memory Config plus its on-disk YAML file. It
// is the only writer (base spec §5); readers call Get for a snapshot.
type Manager struct {
	mu       sync.Mutex
	path     string
	cfg      *Config
	onWarn   func(msg string)
	onChange func()
}

// defaultConfigPath returns ~/.config/<app>/config.yml (base spec §6),
// following the teacher's per-OS config-dir resolution.
func defaultConfigPath() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support", "transwacom")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		dir = filepath.Join(appData, "transwacom")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config", "transwacom")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// NewManager creates a Manager backed by the default per-OS config path.
func NewManager() (*Manager, error) {
	path, err := defaultConfigPath()
	if err != nil {
		return nil, faults.New(faults.Config, "config.NewManager", err)
	}
	return NewManagerAt(path), nil
}

// NewManagerAt creates a Manager backed by an explicit path, primarily for tests.
func NewManagerAt(path string) *Manager {
	return &Manager{path: path, cfg: DefaultConfig()}
}

// OnWarn registers a callback used to surface non-fatal config problems
// (base spec §7, Config kind: "warning surfaced, no crash").
func (m *Manager) OnWarn(fn func(msg string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWarn = fn
}

// OnChange registers a callback invoked after Load replaces the config.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Manager) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if m.onWarn != nil {
		m.onWarn(msg)
	}
}

// Load reads the on-disk config. A missing file is not an error: the
// default config (with a newly generated identity) is written and used. A
// malformed file never crashes the process: the in-memory default holds
// and a warning is surfaced (base spec §7).
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return m.saveLocked()
	}
	if err != nil {
		m.warn("%s: cannot read %s: %v (using in-memory defaults)", logPrefix, m.path, err)
		return faults.New(faults.Config, "config.Load", err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		m.warn("%s: malformed config %s: %v (using in-memory defaults)", logPrefix, m.path, err)
		return faults.New(faults.Config, "config.Load", err)
	}
	if loaded.General.MachineID == "" {
		loaded.General.MachineID = m.cfg.General.MachineID
	}
	if loaded.Consumer.TrustedHosts == nil {
		loaded.Consumer.TrustedHosts = map[string]TrustedHost{}
	}
	if loaded.Host.TrustedConsumers == nil {
		loaded.Host.TrustedConsumers = map[string]TrustedConsumer{}
	}
	m.cfg = &loaded
	if m.onChange != nil {
		m.onChange()
	}
	return nil
}

// Save writes the current config atomically: write-temp then rename, so a
// crash mid-write leaves the previous file intact (base spec §4.2/§6).
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	data, err := yaml.Marshal(m.cfg)
	if err != nil {
		return faults.New(faults.Config, "config.Save", err)
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".config-*.yml.tmp")
	if err != nil {
		return faults.New(faults.Config, "config.Save", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return faults.New(faults.Config, "config.Save", err)
	}
	if err := tmp.Close(); err != nil {
		return faults.New(faults.Config, "config.Save", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		return faults.New(faults.Config, "config.Save", err)
	}
	return nil
}

// Get returns a snapshot of the current config. The snapshot is a shallow
// copy of the struct plus fresh copies of its maps, so callers cannot
// mutate the Manager's live state through it (base spec §5: readers get a
// snapshot).
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshot(m.cfg)
}

func snapshot(c *Config) *Config {
	cp := *c
	cp.Consumer.TrustedHosts = make(map[string]TrustedHost, len(c.Consumer.TrustedHosts))
	for k, v := range c.Consumer.TrustedHosts {
		cp.Consumer.TrustedHosts[k] = v
	}
	cp.Host.TrustedConsumers = make(map[string]TrustedConsumer, len(c.Host.TrustedConsumers))
	for k, v := range c.Host.TrustedConsumers {
		v2 := v
		v2.AllowedDevices = append([]string(nil), v.AllowedDevices...)
		cp.Host.TrustedConsumers[k] = v2
	}
	return &cp
}

// Identity returns the local MachineIdentity (base spec §3).
func (m *Manager) Identity() (name, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.General.MachineName, m.cfg.General.MachineID
}

// SetMachineName updates the user-editable machine label; machine_id is
// never mutated after first generation (base spec §3 / I4).
func (m *Manager) SetMachineName(name string) error {
	m.mu.Lock()
	m.cfg.General.MachineName = name
	m.mu.Unlock()
	return m.Save()
}

// DeviceKindEnabled implements the Consumer-side per-kind accept gate
// (consumer.devices.{tablet,joystick}_enabled).
func (m *Manager) DeviceKindEnabled(kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case "tablet":
		return m.cfg.Consumer.Devices.TabletEnabled
	case "joystick":
		return m.cfg.Consumer.Devices.JoystickEnabled
	default:
		return false
	}
}

// IsTrustedHost reports whether (name,id) has a Consumer-side trust entry.
func (m *Manager) IsTrustedHost(name, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.cfg.Consumer.TrustedHosts[name]
	return ok && h.HostID == id
}

// ShouldAutoAcceptHost implements should_auto_accept(peer) for the
// Consumer's AwaitingAuth decision (base spec §4.7).
func (m *Manager) ShouldAutoAcceptHost(name, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.cfg.Consumer.TrustedHosts[name]
	return ok && h.HostID == id && h.AutoAccept
}

// TrustHost records or updates a Consumer-side trust entry for a Host peer.
func (m *Manager) TrustHost(name, id string, autoAccept bool) error {
	m.mu.Lock()
	m.cfg.Consumer.TrustedHosts[name] = TrustedHost{HostID: id, AutoAccept: autoAccept}
	m.mu.Unlock()
	return m.Save()
}

// UntrustHost removes a Consumer-side trust entry.
func (m *Manager) UntrustHost(name string) error {
	m.mu.Lock()
	delete(m.cfg.Consumer.TrustedHosts, name)
	m.mu.Unlock()
	return m.Save()
}

// IsTrustedConsumer reports whether (name,id) has a Host-side trust entry.
func (m *Manager) IsTrustedConsumer(name, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cfg.Host.TrustedConsumers[name]
	return ok && c.ConsumerID == id
}

// ShouldAutoAcceptConsumer mirrors ShouldAutoAcceptHost for the Host role.
func (m *Manager) ShouldAutoAcceptConsumer(name, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cfg.Host.TrustedConsumers[name]
	return ok && c.ConsumerID == id && c.AutoAccept
}

// AllowedForConsumer implements allowed_for(peer, kind) for the Host's
// per-peer device-kind allowlist.
func (m *Manager) AllowedForConsumer(name, id, kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cfg.Host.TrustedConsumers[name]
	if !ok || c.ConsumerID != id {
		return false
	}
	if len(c.AllowedDevices) == 0 {
		return true // no explicit allowlist means all kinds are permitted
	}
	for _, k := range c.AllowedDevices {
		if k == kind {
			return true
		}
	}
	return false
}

// TrustConsumer records or updates a Host-side trust entry for a Consumer peer.
func (m *Manager) TrustConsumer(name, id string, autoAccept bool, allowedKinds []string) error {
	m.mu.Lock()
	m.cfg.Host.TrustedConsumers[name] = TrustedConsumer{
		ConsumerID:     id,
		AutoAccept:     autoAccept,
		AllowedDevices: allowedKinds,
	}
	m.mu.Unlock()
	return m.Save()
}

// UntrustConsumer removes a Host-side trust entry.
func (m *Manager) UntrustConsumer(name string) error {
	m.mu.Lock()
	delete(m.cfg.Host.TrustedConsumers, name)
	m.mu.Unlock()
	return m.Save()
}

// RelativeModeEnabled reports the host.relative_mode toggle.
func (m *Manager) RelativeModeEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Host.RelativeMode
}

// DisableLocalEnabled reports the host.disable_local toggle.
func (m *Manager) DisableLocalEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Host.DisableLocal
}

// ListenPort returns the configured Consumer TCP listen port.
func (m *Manager) ListenPort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.Consumer.Network.Port == 0 {
		return defaultPort
	}
	return m.cfg.Consumer.Network.Port
}

// MDNSName returns the mDNS service-instance label.
func (m *Manager) MDNSName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.Consumer.Network.MDNSName != "" {
		return m.cfg.Consumer.Network.MDNSName
	}
	return m.cfg.General.MachineName
}
