package logger

import (
	"github.com/stretchr/testify/mock"
)

var logMethods = []string{"Debug", "Info", "Warn", "Error", "Fatal"}

// MockLogger is a testify mock of Logger for asserting log calls in tests.
type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// AllowAll registers permissive expectations for every log method and returns m.
// With returns m itself so child loggers are observed by the same mock.
func (m *MockLogger) AllowAll() *MockLogger {
	for _, method := range logMethods {
		m.On(method, mock.Anything, mock.Anything).Return().Maybe()
	}
	m.On("With", mock.Anything).Return(m).Maybe()
	m.On("With", mock.Anything, mock.Anything).Return(m).Maybe()
	m.On("SetLevel", mock.Anything).Return().Maybe()
	m.On("Level").Return(DebugLevel).Maybe()

	return m
}

// Messages returns the messages logged through method ("Warn", "Error", ...) so far.
// Call it after the code under test has stopped logging.
func (m *MockLogger) Messages(method string) []string {
	var msgs []string
	for _, c := range m.Calls {
		if c.Method != method || len(c.Arguments) == 0 {
			continue
		}
		if msg, ok := c.Arguments.Get(0).(string); ok {
			msgs = append(msgs, msg)
		}
	}

	return msgs
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }

func (m *MockLogger) Info(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }

func (m *MockLogger) Warn(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }

func (m *MockLogger) Error(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }

// Fatal records the call; unlike SlogLogger it does not exit.
func (m *MockLogger) Fatal(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }

func (m *MockLogger) SetLevel(level Level) { m.Called(level) }

func (m *MockLogger) Level() Level {
	args := m.Called()
	return args.Get(0).(Level)
}

func (m *MockLogger) With(keyValues ...any) Logger {
	args := m.Called(keyValues...)
	return args.Get(0).(Logger)
}
