// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/skillrunner/internal/config"
	"github.com/xkilldash9x/skillrunner/internal/events"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// NewMockConfig returns a mock whose getters answer with the sections of cfg.
// Individual expectations can still be overridden by the caller.
func NewMockConfig(cfg *config.Config) *MockConfig {
	m := new(MockConfig)
	m.On("Logger").Return(cfg.LoggerCfg).Maybe()
	m.On("Browser").Return(cfg.BrowserCfg).Maybe()
	m.On("Network").Return(cfg.NetworkCfg).Maybe()
	m.On("App").Return(cfg.AppCfg).Maybe()
	m.On("Auth").Return(cfg.AuthCfg).Maybe()
	m.On("State").Return(cfg.StateCfg).Maybe()
	m.On("Engine").Return(cfg.EngineCfg).Maybe()
	m.On("Events").Return(cfg.EventsCfg).Maybe()
	m.On("Database").Return(cfg.DatabaseCfg).Maybe()
	return m
}

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Network() config.NetworkConfig {
	args := m.Called()
	return args.Get(0).(config.NetworkConfig)
}

func (m *MockConfig) App() config.AppConfig {
	args := m.Called()
	return args.Get(0).(config.AppConfig)
}

func (m *MockConfig) Auth() config.AuthConfig {
	args := m.Called()
	return args.Get(0).(config.AuthConfig)
}

func (m *MockConfig) State() config.StateConfig {
	args := m.Called()
	return args.Get(0).(config.StateConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Events() config.EventsConfig {
	args := m.Called()
	return args.Get(0).(config.EventsConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

// -- Event Sink Mock --

// MockSink mocks the events.Sink interface.
type MockSink struct {
	mock.Mock
}

var _ events.Sink = (*MockSink)(nil)

// Emit records the event and returns the configured result.
func (m *MockSink) Emit(ctx context.Context, ev events.Event) events.Result {
	args := m.Called(ctx, ev)
	return args.Get(0).(events.Result)
}

// Close provides a mock function for closing the sink.
func (m *MockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

// EmittedTypes returns the Type of every event passed to Emit, in call order.
func (m *MockSink) EmittedTypes() []string {
	var types []string
	for _, call := range m.Calls {
		if call.Method != "Emit" {
			continue
		}
		types = append(types, call.Arguments.Get(1).(events.Event).Type)
	}
	return types
}
