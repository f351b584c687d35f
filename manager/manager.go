// Package manager builds the safety rules of a validator from its configuration.
package manager

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/crypto"
	"github.com/relab/safetyrules/internal/config"
	"github.com/relab/safetyrules/logging"
	"github.com/relab/safetyrules/metrics"
	"github.com/relab/safetyrules/rules"
	"github.com/relab/safetyrules/serializer"
	"github.com/relab/safetyrules/service"
	"github.com/relab/safetyrules/storage"
	"go.uber.org/multierr"
)

type options struct {
	configPath string
	logger     logging.Logger
	registry   *prometheus.Registry
}

// Option configures a Manager.
type Option func(*options)

// WithConfigPath sets the configuration file that a spawned process reads.
// Without it, the configuration is written to a temporary file.
func WithConfigPath(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// WithLogger sets the logger of the manager.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry registers the metrics of the engine with registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.New("manager")
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	return o
}

// Manager owns the safety rules of a validator in the configured topology.
type Manager struct {
	client  safetyrules.SafetyRules
	closers []func() error
	logger  logging.Logger
}

// ExtractServiceInputs returns the identity of the validator and its storage.
// Backends that are in-memory or marked as default are seeded with the test consensus key.
func ExtractServiceInputs(cfg *config.NodeConfig, logger logging.Logger) (safetyrules.Author, *storage.PersistentStorage, error) {
	author, err := safetyrules.ParseAuthor(cfg.Author)
	if err != nil {
		return author, nil, fmt.Errorf("%w: %v", safetyrules.ErrConfiguration, err)
	}
	opts := cfg.StorageOptions()
	opts.Logger = logger
	store, err := storage.Open(opts)
	if err != nil {
		return author, nil, err
	}
	if !cfg.SeedsKey() {
		return author, storage.New(store), nil
	}

	key, err := crypto.ReadPrivateKeyFile(cfg.Test.ConsensusKey)
	if err != nil {
		err = fmt.Errorf("%w: failed to read test consensus key: %v", safetyrules.ErrConfiguration, err)
		return author, nil, multierr.Append(err, store.Close())
	}
	ps, err := storage.Initialize(store, key)
	if err != nil {
		return author, nil, multierr.Append(err, store.Close())
	}
	return author, ps, nil
}

func newEngine(cfg *config.NodeConfig, o *options) (*rules.SafetyRules, *storage.PersistentStorage, error) {
	author, ps, err := ExtractServiceInputs(cfg, o.logger)
	if err != nil {
		return nil, nil, err
	}
	engine := rules.New(author, ps,
		rules.WithLogger(logging.New("rules")),
		rules.WithMetrics(metrics.NewCollector(o.registry)),
	)
	return engine, ps, nil
}

// New validates cfg and starts the configured topology.
func New(cfg *config.NodeConfig, opts ...Option) (m *Manager, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	m = &Manager{logger: o.logger}
	defer func() {
		if err != nil {
			err = multierr.Append(err, m.Close())
			m = nil
		}
	}()

	serviceType := cfg.SafetyRules.Service.Type
	if serviceType == config.ServiceSpawnedProcess {
		if err := m.spawn(cfg, o); err != nil {
			return m, err
		}
		m.logger.Infof("Started safety rules for %s: service %s", cfg.Author, serviceType)
		return m, nil
	}

	engine, ps, err := newEngine(cfg, o)
	if err != nil {
		return m, err
	}
	m.closers = append(m.closers, ps.Close)

	switch serviceType {
	case config.ServiceLocal:
		m.client = service.NewLocalClient(engine)
	case config.ServiceSerializer:
		m.client = serializer.NewSerializerClient(serializer.NewLocalService(engine))
	case config.ServiceThread:
		thread := service.NewThreadService(engine)
		m.closers = append(m.closers, thread.Close)
		m.client = serializer.NewSerializerClient(thread)
	default:
		return m, fmt.Errorf("%w: unknown service type '%s'", safetyrules.ErrConfiguration, serviceType)
	}

	if addr := cfg.SafetyRules.MetricsListen; addr != "" {
		m.serveMetrics(addr, o)
	}
	m.logger.Infof("Started safety rules for %s: service %s, backend %s", cfg.Author, serviceType, cfg.SafetyRules.Backend.Type)
	return m, nil
}

// spawn starts the child process. The parent never opens the storage.
func (m *Manager) spawn(cfg *config.NodeConfig, o *options) error {
	path := o.configPath
	if path == "" {
		dir, err := os.MkdirTemp("", "safetyrules")
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		m.closers = append(m.closers, func() error { return os.RemoveAll(dir) })
		path = filepath.Join(dir, "safetyrules.yaml")
		if err := config.Save(cfg, path); err != nil {
			return err
		}
	}

	s := cfg.SafetyRules.Service
	p, err := service.StartSpawnedProcess(service.ProcessOptions{
		Executable:      s.Executable,
		Args:            s.Args,
		ConfigPath:      path,
		Timeout:         s.Timeout,
		RestartInterval: s.RestartInterval,
		Logger:          logging.New("process"),
	})
	if err != nil {
		return err
	}
	m.closers = append(m.closers, p.Close)
	m.client = serializer.NewSerializerClient(p)
	return nil
}

func (m *Manager) serveMetrics(addr string, o *options) {
	srv := metrics.Serve(addr, o.registry, m.logger)
	m.closers = append(m.closers, srv.Close)
	m.logger.Infof("Serving metrics on %s", addr)
}

// Client returns the client that consensus uses to reach the engine.
func (m *Manager) Client() safetyrules.SafetyRules {
	return m.client
}

// Close stops the topology and closes the storage, in the reverse order of creation.
func (m *Manager) Close() (err error) {
	for i := len(m.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, m.closers[i]())
	}
	m.closers = nil
	return err
}

// RunProcess serves the engine described by cfg on in and out until in is closed.
// It is run by the child of the spawned-process service.
func RunProcess(cfg *config.NodeConfig, in io.Reader, out io.Writer, opts ...Option) (err error) {
	if err := cfg.Validate(); err != nil {
		return err
	}
	o := newOptions(opts)
	engine, ps, err := newEngine(cfg, o)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, ps.Close()) }()

	if addr := cfg.SafetyRules.MetricsListen; addr != "" {
		srv := metrics.Serve(addr, o.registry, o.logger)
		defer func() { err = multierr.Append(err, srv.Close()) }()
	}

	o.logger.Infof("Serving safety rules for %s on stdio", cfg.Author)
	return service.Serve(serializer.NewSerializerService(engine), in, out, o.logger)
}
