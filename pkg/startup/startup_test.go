package startup_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/startup"
)

func logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestStartup_OrderAndReverseStop(t *testing.T) {
	var events []string
	dep := func(name string, requires ...string) *startup.Dependency {
		return &startup.Dependency{
			Name:     name,
			Requires: requires,
			StartFn:  func(context.Context) error { events = append(events, "start "+name); return nil },
			StopFn:   func(context.Context) error { events = append(events, "stop "+name); return nil },
		}
	}

	s := startup.NewStartup(logger(), 1)
	s.AddDependency(dep("server", "store", "tracing"))
	s.AddDependency(dep("store", "database"))
	s.AddDependency(dep("database"))
	s.AddDependency(dep("tracing"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start database", "start store", "start tracing", "start server"}, events)
	assert.Equal(t, startup.StartupStatusStarted, s.Status("server"))

	events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop server", "stop tracing", "stop store", "stop database"}, events)
	assert.Equal(t, startup.StartupStatusStopped, s.Status("database"))
}

func TestStartup_RetriesWithBackoff(t *testing.T) {
	attempts := 0
	s := startup.NewStartup(logger(), 3).WithBackoffUnit(time.Millisecond)
	s.AddDependency(&startup.Dependency{
		Name: "database",
		StartFn: func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, attempts)
}

func TestStartup_GivesUp(t *testing.T) {
	s := startup.NewStartup(logger(), 2).WithBackoffUnit(time.Millisecond)
	s.AddDependency(&startup.Dependency{
		Name:    "database",
		StartFn: func(context.Context) error { return errors.New("connection refused") },
	})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup failed after 2 attempts")
	assert.Equal(t, startup.StartupStatusFailed, s.Status("database"))
}

func TestStartup_UnknownAndCyclicDependencies(t *testing.T) {
	s := startup.NewStartup(logger(), 1)
	s.AddDependency(&startup.Dependency{Name: "server", Requires: []string{"missing"}})
	assert.ErrorContains(t, s.Start(context.Background()), "not registered")

	s = startup.NewStartup(logger(), 1)
	s.AddDependency(&startup.Dependency{Name: "a", Requires: []string{"b"}})
	s.AddDependency(&startup.Dependency{Name: "b", Requires: []string{"a"}})
	assert.ErrorContains(t, s.Start(context.Background()), "cycle")
}
