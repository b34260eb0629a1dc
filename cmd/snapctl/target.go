package main

import (
	"strings"

	zfs "github.com/vansante/snapctl"
)

// remoteTarget is a parsed USER@HOST:DATASET positional argument, as taken
// by push/pull.
type remoteTarget struct {
	user    string
	host    string
	dataset string
}

func parseRemoteTarget(arg string) (remoteTarget, error) {
	userHost, dataset, ok := strings.Cut(arg, ":")
	if !ok || dataset == "" {
		return remoteTarget{}, invalidArgsf("target %q must be of the form USER@HOST:DATASET", arg)
	}

	user, host, ok := strings.Cut(userHost, "@")
	if !ok || user == "" || host == "" {
		return remoteTarget{}, invalidArgsf("target %q must be of the form USER@HOST:DATASET", arg)
	}

	return remoteTarget{user: user, host: host, dataset: dataset}, nil
}

func (t remoteTarget) agent(port int) zfs.Agent {
	return zfs.NewRemoteAgent(t.host, t.user, port)
}

// datasetFlag reads the persistent -d/--dataset flag, failing with an
// invalid-args error when it's required but absent.
func datasetFlag(dataset string) (string, error) {
	if dataset == "" {
		return "", invalidArgsf("a dataset is required: pass -d/--dataset")
	}
	return dataset, nil
}
