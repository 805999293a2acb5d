package fixtures

import (
	"github.com/sirupsen/logrus"

	"github.com/terraskye/pipeline"
	"github.com/terraskye/pipeline/eventbus"
	"github.com/terraskye/pipeline/logging"
	"github.com/terraskye/pipeline/store"
	"github.com/terraskye/pipeline/uow"
	"github.com/terraskye/pipeline/validation"
)

// Module is the order domain wired through the full behavior chain.
type Module struct {
	Store       store.Store
	Bus         *eventbus.Bus
	Rules       *validation.Registry
	Coordinator *uow.Coordinator
	Handlers    *Handlers
	Registry    *pipeline.Registry
	Dispatcher  *pipeline.Dispatcher
}

type moduleConfig struct {
	logger     *logrus.Entry
	uowOpts    []uow.Option
	busOpts    []eventbus.Option
	register   []func(*pipeline.Registry) error
	dispatcher []pipeline.Option
}

type ModuleOption func(*moduleConfig)

func WithLogger(l *logrus.Entry) ModuleOption {
	return func(c *moduleConfig) { c.logger = l }
}

func WithCoordinatorOptions(opts ...uow.Option) ModuleOption {
	return func(c *moduleConfig) { c.uowOpts = append(c.uowOpts, opts...) }
}

func WithBusOptions(opts ...eventbus.Option) ModuleOption {
	return func(c *moduleConfig) { c.busOpts = append(c.busOpts, opts...) }
}

// WithExtraHandlers registers additional handlers before the registry is
// sealed.
func WithExtraHandlers(fn func(*pipeline.Registry) error) ModuleOption {
	return func(c *moduleConfig) { c.register = append(c.register, fn) }
}

func WithDispatcherOptions(opts ...pipeline.Option) ModuleOption {
	return func(c *moduleConfig) { c.dispatcher = append(c.dispatcher, opts...) }
}

// NewModule wires the order handlers over st.
func NewModule(st store.Store, opts ...ModuleOption) (*Module, error) {
	cfg := moduleConfig{logger: logrus.NewEntry(logrus.StandardLogger())}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Module{
		Store:    st,
		Bus:      eventbus.New(cfg.busOpts...),
		Rules:    validation.NewRegistry(),
		Handlers: NewHandlers(st),
		Registry: pipeline.NewRegistry(),
	}
	AddRules(m.Rules)

	m.Coordinator = uow.NewCoordinator(st, m.Bus, append([]uow.Option{uow.WithLogger(cfg.logger)}, cfg.uowOpts...)...)

	if err := m.Handlers.Register(m.Registry); err != nil {
		return nil, err
	}
	for _, fn := range cfg.register {
		if err := fn(m.Registry); err != nil {
			return nil, err
		}
	}

	chain := pipeline.NewChain().
		Transaction(m.Coordinator.Behavior()).
		Logging(logging.Behavior(cfg.logger)).
		Validation(validation.Behavior(m.Rules))

	m.Dispatcher = pipeline.NewDispatcher(m.Registry, chain, cfg.dispatcher...)
	return m, nil
}
