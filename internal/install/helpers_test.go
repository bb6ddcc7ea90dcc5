package install

import (
	"context"
)

// recordedCall is a single command observed by the fake runner.
type recordedCall struct {
	name string
	args []string
}

// fakeRunner records invocations, replays scripted results and lets a test
// observe state (e.g. temporary answer files) while the command "runs".
type fakeRunner struct {
	calls    []recordedCall
	exitCode int
	output   string
	err      error
	onRun    func(name string, args []string)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (int, string, error) {
	f.calls = append(f.calls, recordedCall{name: name, args: args})

	if f.onRun != nil {
		f.onRun(name, args)
	}

	return f.exitCode, f.output, f.err
}

// fakeConfigurator records SystemConfigurator calls.
type fakeConfigurator struct {
	envVars     map[string]string
	services    []string
	queryErr    error
	stopErr     error
	stopped     []string
	exclusions  []string
	regFlags    map[string]uint32
	envErr      error
	registryErr error
}

func newFakeConfigurator() *fakeConfigurator {
	return &fakeConfigurator{
		envVars:  make(map[string]string),
		regFlags: make(map[string]uint32),
	}
}

func (f *fakeConfigurator) SetEnvironmentVariable(_ context.Context, name, value string) error {
	if f.envErr != nil {
		return f.envErr
	}

	f.envVars[name] = value

	return nil
}

func (f *fakeConfigurator) SetRegistryFlag(_ context.Context, keyPath, valueName string, value uint32) error {
	if f.registryErr != nil {
		return f.registryErr
	}

	f.regFlags[keyPath+`\`+valueName] = value

	return nil
}

func (f *fakeConfigurator) AddScanExclusion(_ context.Context, path string) error {
	f.exclusions = append(f.exclusions, path)
	return nil
}

func (f *fakeConfigurator) QueryServices(_ context.Context, _ string) ([]string, error) {
	return f.services, f.queryErr
}

func (f *fakeConfigurator) StopService(_ context.Context, name string) error {
	if f.stopErr != nil {
		return f.stopErr
	}

	f.stopped = append(f.stopped, name)

	return nil
}
