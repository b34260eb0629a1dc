package zfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
)

// Agent is a thin, stateless facade over the filesystem's command interface.
// Every method call corresponds to exactly one external invocation. LocalAgent
// runs commands directly; RemoteAgent prefixes the same commands with a
// secure-shell invocation, so the same call sequence drives either a local or
// a remote dataset.
type Agent interface {
	// ListSnapshots lists snapshots under dataset (or every dataset if empty),
	// ordered by SortBy: descending when Reverse is set, ascending otherwise.
	// With no SortBy the filesystem's default order is kept.
	ListSnapshots(ctx context.Context, opts ListSnapshotsOptions) ([]Snapshot, error)
	// GetSnapshots fetches snapshots by longname in a single batched property read.
	GetSnapshots(ctx context.Context, longnames []string) ([]Snapshot, error)
	// GetDataset fetches dataset metadata (currently just its guid).
	GetDataset(ctx context.Context, name string) (DatasetRef, error)
	// GetPoolFromDataset resolves the pool guid for the pool a dataset lives under.
	GetPoolFromDataset(ctx context.Context, dataset string) (Pool, error)

	// CreateSnapshot creates a new snapshot, optionally recursively, with the given properties.
	CreateSnapshot(ctx context.Context, longname string, recursive bool, properties map[string]string) error
	// RenameSnapshot renames a snapshot in place (same dataset, new shortname).
	RenameSnapshot(ctx context.Context, longname, newShortname string) error
	// DestroySnapshots destroys one or more snapshots on a single dataset in one invocation.
	DestroySnapshots(ctx context.Context, dataset string, shortnames []string) error
	// SetTags writes the custom tag property as a comma-joined string.
	SetTags(ctx context.Context, longname string, tags TagSet) error

	// Hold places a named hold on one or more snapshots.
	Hold(ctx context.Context, longnames []string, tag string) error
	// Release removes a named hold from one or more snapshots.
	Release(ctx context.Context, longnames []string, tag string) error
	// GetHolds fetches every hold present on the given snapshots.
	GetHolds(ctx context.Context, longnames []string) ([]Hold, error)
	// HasHold is a convenience check built on GetHolds.
	HasHold(ctx context.Context, longname, tag string) (bool, error)

	// SendSnapshotAsync starts a zfs send, optionally incremental against base. It does
	// not wait for completion - supervision is the replication engine's job.
	SendSnapshotAsync(ctx context.Context, longname, baseLongname string) (SendHandle, error)
	// ReceiveSnapshotAsync starts a zfs receive reading from stdin.
	ReceiveSnapshotAsync(ctx context.Context, dataset string, stdin io.Reader, properties map[string]string) (ReceiveHandle, error)
}

// ListSnapshotsOptions configures ListSnapshots.
type ListSnapshotsOptions struct {
	Dataset   string
	Recursive bool
	SortBy    string // a zfs property name, or "" for filesystem default order
	Reverse   bool
}

// ProcessHandle is the common, non-blocking surface of a running send or receive
// subprocess. The agent starts these but never awaits them.
type ProcessHandle interface {
	// Poll returns the exit code and true if the process has already exited,
	// or (0, false) if it is still running.
	Poll() (code int, exited bool)
	// Terminate asks the process to stop.
	Terminate()
	// Wait blocks until the process exits and returns its exit code.
	Wait() int
}

// SendHandle represents a running `zfs send`; its Stdout is piped to a ReceiveHandle's stdin.
type SendHandle interface {
	ProcessHandle
	Stdout() io.Reader
}

// ReceiveHandle represents a running `zfs receive`.
type ReceiveHandle interface {
	ProcessHandle
}

// LocalAgent executes every command directly in the current process's environment.
type LocalAgent struct{}

// NewLocalAgent returns an Agent that runs zfs commands on the local host.
func NewLocalAgent() *LocalAgent {
	return &LocalAgent{}
}

func (a *LocalAgent) commandPrefix() []string {
	return nil
}

// RemoteAgent executes every command by prepending a secure-shell invocation.
type RemoteAgent struct {
	Host string
	User string
	Port int
}

// NewRemoteAgent returns an Agent that runs zfs commands on host, reached over ssh.
func NewRemoteAgent(host, user string, port int) *RemoteAgent {
	return &RemoteAgent{Host: host, User: user, Port: port}
}

func (a *RemoteAgent) commandPrefix() []string {
	cmd := []string{"ssh"}
	if a.User != "" {
		cmd = append(cmd, "-l", a.User)
	}
	if a.Port > 0 {
		cmd = append(cmd, "-p", fmt.Sprintf("%d", a.Port))
	}
	cmd = append(cmd, a.Host)
	return cmd
}

type commandPrefixer interface {
	commandPrefix() []string
}

// runAgentTabbed runs a zfs(1) invocation unless arg starts with "zpool", in
// which case that element is consumed as the binary name instead.
func runAgentTabbed(ctx context.Context, a commandPrefixer, arg ...string) ([][]string, error) {
	binary, arg := splitBinary(arg)
	return newAgentCommand(ctx, a, binary).RunTabbed(arg...)
}

func runAgentText(ctx context.Context, a commandPrefixer, arg ...string) ([][]string, error) {
	binary, arg := splitBinary(arg)
	return newAgentCommand(ctx, a, binary).Run(arg...)
}

func splitBinary(arg []string) (binary string, rest []string) {
	if len(arg) > 0 && arg[0] == "zpool" {
		return "zpool", arg[1:]
	}
	return Binary, arg
}

func newAgentCommand(ctx context.Context, a commandPrefixer, binary string) *command {
	prefix := a.commandPrefix()
	if len(prefix) == 0 {
		return &command{cmd: binary, ctx: ctx}
	}
	// prefix is e.g. ["ssh", "-l", "user", "-p", "22", "host"]; the remote
	// command line still needs the binary name prepended to its args.
	return &command{cmd: prefix[0], ctx: ctx, prefixArgs: append(append([]string{}, prefix[1:]...), binary)}
}

// ListSnapshots lists snapshots matching opts. Grounded on zfs.py's get_all_snapshots:
// `zfs list -Hp -t snapshot -o <props>`.
func (a *LocalAgent) ListSnapshots(ctx context.Context, opts ListSnapshotsOptions) ([]Snapshot, error) {
	return listSnapshots(ctx, a, opts)
}

func (a *RemoteAgent) ListSnapshots(ctx context.Context, opts ListSnapshotsOptions) ([]Snapshot, error) {
	return listSnapshots(ctx, a, opts)
}

func listSnapshots(ctx context.Context, a commandPrefixer, opts ListSnapshotsOptions) ([]Snapshot, error) {
	args := []string{"list", "-Hp", "-t", "snapshot", "-o", strings.Join(snapshotPropList, ",")}
	if opts.Recursive {
		args = append(args, "-r")
	}
	if opts.SortBy != "" {
		if opts.Reverse {
			args = append(args, "-S", opts.SortBy)
		} else {
			args = append(args, "-s", opts.SortBy)
		}
	}
	if opts.Dataset != "" {
		args = append(args, opts.Dataset)
	}

	lines, err := runAgentTabbed(ctx, a, args...)
	if err != nil {
		return nil, err
	}
	return parseSnapshotLines(lines)
}

func parseSnapshotLines(lines [][]string) ([]Snapshot, error) {
	snapshots := make([]Snapshot, 0, len(lines))
	for _, fields := range lines {
		if len(fields) == 1 && fields[0] == "" {
			continue
		}
		if len(fields) != len(snapshotPropList) {
			return nil, fmt.Errorf("zfs: unexpected snapshot listing line: %q", strings.Join(fields, "\t"))
		}
		snap, err := snapshotFromFields(fields)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func snapshotFromFields(fields []string) (Snapshot, error) {
	dataset, shortname, err := splitLongname(fields[0])
	if err != nil {
		return Snapshot{}, err
	}
	ts, err := parseUnixSeconds(fields[1])
	if err != nil {
		return Snapshot{}, fmt.Errorf("zfs: parsing creation time of %q: %w", fields[0], err)
	}
	guid, err := parseGUID(fields[2])
	if err != nil {
		return Snapshot{}, fmt.Errorf("zfs: parsing guid of %q: %w", fields[0], err)
	}
	holds, err := parseHoldsCount(fields[3])
	if err != nil {
		return Snapshot{}, fmt.Errorf("zfs: parsing userrefs of %q: %w", fields[0], err)
	}
	return Snapshot{
		Dataset:   dataset,
		Shortname: shortname,
		Timestamp: ts,
		GUID:      guid,
		Holds:     holds,
		Tags:      ParseTags(fields[4]),
	}, nil
}

func parseHoldsCount(val string) (int, error) {
	if val == ValueUnset || val == "" {
		return 0, nil
	}
	var n int
	_, err := fmt.Sscanf(val, "%d", &n)
	return n, err
}

// GetSnapshots fetches snapshots by longname in one batched property call.
// Grounded on zfs.py's get_snapshots/get_snapshot_properties.
func (a *LocalAgent) GetSnapshots(ctx context.Context, longnames []string) ([]Snapshot, error) {
	return getSnapshots(ctx, a, longnames)
}

func (a *RemoteAgent) GetSnapshots(ctx context.Context, longnames []string) ([]Snapshot, error) {
	return getSnapshots(ctx, a, longnames)
}

func getSnapshots(ctx context.Context, a commandPrefixer, longnames []string) ([]Snapshot, error) {
	if len(longnames) == 0 {
		return nil, nil
	}

	args := append([]string{"get", "-Hp", "-o", "value", strings.Join(snapshotPropList, ",")}, longnames...)
	lines, err := runAgentTabbed(ctx, a, args...)
	if err != nil {
		return nil, err
	}

	numProps := len(snapshotPropList)
	if len(lines) != len(longnames)*numProps {
		return nil, fmt.Errorf("zfs: expected %d property lines for %d snapshots, got %d", len(longnames)*numProps, len(longnames), len(lines))
	}

	snapshots := make([]Snapshot, len(longnames))
	for i, longname := range longnames {
		dataset, shortname, err := splitLongname(longname)
		if err != nil {
			return nil, err
		}
		// values[0] is the name property, in snapshotPropList order.
		values := lines[i*numProps : (i+1)*numProps]
		ts, err := parseUnixSeconds(values[1][0])
		if err != nil {
			return nil, fmt.Errorf("zfs: parsing creation time of %q: %w", longname, err)
		}
		guid, err := parseGUID(values[2][0])
		if err != nil {
			return nil, fmt.Errorf("zfs: parsing guid of %q: %w", longname, err)
		}
		holds, err := parseHoldsCount(values[3][0])
		if err != nil {
			return nil, fmt.Errorf("zfs: parsing userrefs of %q: %w", longname, err)
		}
		snapshots[i] = Snapshot{
			Dataset:   dataset,
			Shortname: shortname,
			Timestamp: ts,
			GUID:      guid,
			Holds:     holds,
			Tags:      ParseTags(values[4][0]),
		}
	}
	return snapshots, nil
}

// GetDataset fetches a dataset's guid.
func (a *LocalAgent) GetDataset(ctx context.Context, name string) (DatasetRef, error) {
	return getDataset(ctx, a, name)
}

func (a *RemoteAgent) GetDataset(ctx context.Context, name string) (DatasetRef, error) {
	return getDataset(ctx, a, name)
}

func getDataset(ctx context.Context, a commandPrefixer, name string) (DatasetRef, error) {
	lines, err := runAgentTabbed(ctx, a, "get", "-Hp", "-o", "value", PropertyGUID, name)
	if err != nil {
		return DatasetRef{}, err
	}
	if len(lines) != 1 || len(lines[0]) != 1 {
		return DatasetRef{}, fmt.Errorf("zfs: unexpected output getting dataset %q guid", name)
	}
	guid, err := parseGUID(lines[0][0])
	if err != nil {
		return DatasetRef{}, fmt.Errorf("zfs: parsing guid of %q: %w", name, err)
	}
	return DatasetRef{Name: name, GUID: guid}, nil
}

// GetPoolFromDataset resolves the pool guid for the pool dataset lives under.
func (a *LocalAgent) GetPoolFromDataset(ctx context.Context, dataset string) (Pool, error) {
	return getPoolFromDataset(ctx, a, dataset)
}

func (a *RemoteAgent) GetPoolFromDataset(ctx context.Context, dataset string) (Pool, error) {
	return getPoolFromDataset(ctx, a, dataset)
}

func getPoolFromDataset(ctx context.Context, a commandPrefixer, dataset string) (Pool, error) {
	name := PoolName(dataset)
	lines, err := runAgentTabbed(ctx, a, "zpool", "get", "-Hp", "-o", "value", "guid", name)
	if err != nil {
		return Pool{}, err
	}
	if len(lines) != 1 || len(lines[0]) != 1 {
		return Pool{}, fmt.Errorf("zfs: unexpected output getting pool %q guid", name)
	}
	guid, err := parseGUID(lines[0][0])
	if err != nil {
		return Pool{}, fmt.Errorf("zfs: parsing guid of pool %q: %w", name, err)
	}
	return Pool{Name: name, GUID: guid}, nil
}

// CreateSnapshot creates a snapshot, optionally recursively, setting the given properties atomically.
func (a *LocalAgent) CreateSnapshot(ctx context.Context, longname string, recursive bool, properties map[string]string) error {
	return createSnapshot(ctx, a, longname, recursive, properties)
}

func (a *RemoteAgent) CreateSnapshot(ctx context.Context, longname string, recursive bool, properties map[string]string) error {
	return createSnapshot(ctx, a, longname, recursive, properties)
}

func createSnapshot(ctx context.Context, a commandPrefixer, longname string, recursive bool, properties map[string]string) error {
	args := []string{"snapshot"}
	if recursive {
		args = append(args, "-r")
	}
	args = append(args, propsSlice(properties)...)
	args = append(args, longname)
	_, err := runAgentText(ctx, a, args...)
	return err
}

// RenameSnapshot renames a snapshot, keeping it under the same dataset.
func (a *LocalAgent) RenameSnapshot(ctx context.Context, longname, newShortname string) error {
	return renameSnapshot(ctx, a, longname, newShortname)
}

func (a *RemoteAgent) RenameSnapshot(ctx context.Context, longname, newShortname string) error {
	return renameSnapshot(ctx, a, longname, newShortname)
}

func renameSnapshot(ctx context.Context, a commandPrefixer, longname, newShortname string) error {
	_, err := runAgentText(ctx, a, "rename", longname, newShortname)
	return err
}

// DestroySnapshots destroys one or more shortnames under dataset in a single invocation
// (the filesystem interprets a comma-separated shortname list under one dataset).
func (a *LocalAgent) DestroySnapshots(ctx context.Context, dataset string, shortnames []string) error {
	return destroySnapshots(ctx, a, dataset, shortnames)
}

func (a *RemoteAgent) DestroySnapshots(ctx context.Context, dataset string, shortnames []string) error {
	return destroySnapshots(ctx, a, dataset, shortnames)
}

func destroySnapshots(ctx context.Context, a commandPrefixer, dataset string, shortnames []string) error {
	if len(shortnames) == 0 {
		return nil
	}
	target := fmt.Sprintf("%s@%s", dataset, strings.Join(shortnames, ","))
	_, err := runAgentText(ctx, a, "destroy", target)
	return err
}

// SetTags writes the custom tag property as a comma-joined string.
func (a *LocalAgent) SetTags(ctx context.Context, longname string, tags TagSet) error {
	return setTags(ctx, a, longname, tags)
}

func (a *RemoteAgent) SetTags(ctx context.Context, longname string, tags TagSet) error {
	return setTags(ctx, a, longname, tags)
}

func setTags(ctx context.Context, a commandPrefixer, longname string, tags TagSet) error {
	_, err := runAgentText(ctx, a, "set", fmt.Sprintf("%s=%s", PropertyCustomTags, tags.Encode()), longname)
	return err
}

// Hold places a named hold on one or more snapshots.
func (a *LocalAgent) Hold(ctx context.Context, longnames []string, tag string) error {
	return hold(ctx, a, longnames, tag)
}

func (a *RemoteAgent) Hold(ctx context.Context, longnames []string, tag string) error {
	return hold(ctx, a, longnames, tag)
}

func hold(ctx context.Context, a commandPrefixer, longnames []string, tag string) error {
	if len(longnames) == 0 {
		return nil
	}
	args := append([]string{"hold", tag}, longnames...)
	_, err := runAgentText(ctx, a, args...)
	return err
}

// Release removes a named hold from one or more snapshots.
func (a *LocalAgent) Release(ctx context.Context, longnames []string, tag string) error {
	return release(ctx, a, longnames, tag)
}

func (a *RemoteAgent) Release(ctx context.Context, longnames []string, tag string) error {
	return release(ctx, a, longnames, tag)
}

func release(ctx context.Context, a commandPrefixer, longnames []string, tag string) error {
	if len(longnames) == 0 {
		return nil
	}
	args := append([]string{"release", tag}, longnames...)
	_, err := runAgentText(ctx, a, args...)
	return err
}

// GetHolds fetches every hold present on the given snapshots.
func (a *LocalAgent) GetHolds(ctx context.Context, longnames []string) ([]Hold, error) {
	return getHolds(ctx, a, longnames)
}

func (a *RemoteAgent) GetHolds(ctx context.Context, longnames []string) ([]Hold, error) {
	return getHolds(ctx, a, longnames)
}

func getHolds(ctx context.Context, a commandPrefixer, longnames []string) ([]Hold, error) {
	if len(longnames) == 0 {
		return nil, nil
	}
	args := append([]string{"holds", "-H"}, longnames...)
	lines, err := runAgentTabbed(ctx, a, args...)
	if err != nil {
		return nil, err
	}
	holds := make([]Hold, 0, len(lines))
	for _, fields := range lines {
		if len(fields) < 2 {
			continue
		}
		holds = append(holds, Hold{SnapshotLongname: fields[0], Tag: fields[1]})
	}
	return holds, nil
}

// HasHold is a convenience check built on GetHolds.
func (a *LocalAgent) HasHold(ctx context.Context, longname, tag string) (bool, error) {
	return hasHold(ctx, a, longname, tag)
}

func (a *RemoteAgent) HasHold(ctx context.Context, longname, tag string) (bool, error) {
	return hasHold(ctx, a, longname, tag)
}

func hasHold(ctx context.Context, a commandPrefixer, longname, tag string) (bool, error) {
	holds, err := getHolds(ctx, a, []string{longname})
	if err != nil {
		return false, err
	}
	for _, h := range holds {
		if h.Tag == tag {
			return true, nil
		}
	}
	return false, nil
}

// SendSnapshotAsync starts `zfs send` (optionally incremental against base), returning
// immediately with a handle whose Stdout streams the send. Grounded on zfs.py's
// send_snapshot_async and the teacher's job.ZFSSend process-handle shape.
func (a *LocalAgent) SendSnapshotAsync(ctx context.Context, longname, baseLongname string) (SendHandle, error) {
	return sendSnapshotAsync(ctx, a, longname, baseLongname)
}

func (a *RemoteAgent) SendSnapshotAsync(ctx context.Context, longname, baseLongname string) (SendHandle, error) {
	return sendSnapshotAsync(ctx, a, longname, baseLongname)
}

func sendSnapshotAsync(ctx context.Context, a commandPrefixer, longname, baseLongname string) (SendHandle, error) {
	args := append(a.commandPrefix(), "zfs", "send")
	if baseLongname != "" {
		args = append(args, "-i", baseLongname)
	}
	args = append(args, longname)
	return startProcess(ctx, args, nil, true)
}

// ReceiveSnapshotAsync starts `zfs receive`, consuming stdin as the stream. Grounded on
// zfs.py's receive_snapshot_async.
func (a *LocalAgent) ReceiveSnapshotAsync(ctx context.Context, dataset string, stdin io.Reader, properties map[string]string) (ReceiveHandle, error) {
	return receiveSnapshotAsync(ctx, a, dataset, stdin, properties)
}

func (a *RemoteAgent) ReceiveSnapshotAsync(ctx context.Context, dataset string, stdin io.Reader, properties map[string]string) (ReceiveHandle, error) {
	return receiveSnapshotAsync(ctx, a, dataset, stdin, properties)
}

func receiveSnapshotAsync(ctx context.Context, a commandPrefixer, dataset string, stdin io.Reader, properties map[string]string) (ReceiveHandle, error) {
	args := append(a.commandPrefix(), "zfs", "receive")
	args = append(args, propsSlice(properties)...)
	args = append(args, dataset)
	handle, err := startProcess(ctx, args, stdin, false)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// process implements both SendHandle and ReceiveHandle: a started, unawaited subprocess.
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	done   chan struct{}
	code   int
}

func startProcess(ctx context.Context, args []string, stdin io.Reader, capturesStdout bool) (*process, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("zfs: empty command")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.SysProcAttr = procAttributes()
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p := &process{cmd: cmd, stderr: &stderr, done: make(chan struct{})}

	var stdoutPipe io.ReadCloser
	var err error
	if capturesStdout {
		stdoutPipe, err = cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("zfs: creating stdout pipe: %w", err)
		}
		p.stdout = stdoutPipe
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("zfs: starting %s: %w", args[0], err)
	}

	go func() {
		err := cmd.Wait()
		p.code = exitCode(err)
		close(p.done)
	}()

	return p, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func (p *process) Stdout() io.Reader {
	return p.stdout
}

func (p *process) Poll() (code int, exited bool) {
	select {
	case <-p.done:
		return p.code, true
	default:
		return 0, false
	}
}

func (p *process) Terminate() {
	if p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Kill()
}

func (p *process) Wait() int {
	<-p.done
	return p.code
}

// sortSnapshotsDescending sorts snapshots newest-first, breaking ties by
// (shortname, dataset) for deterministic output - matching the policy engine's tie-break rule.
func sortSnapshotsDescending(snaps []Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].Timestamp.Equal(snaps[j].Timestamp) {
			return snaps[i].Timestamp.After(snaps[j].Timestamp)
		}
		if snaps[i].Shortname != snaps[j].Shortname {
			return snaps[i].Shortname < snaps[j].Shortname
		}
		return snaps[i].Dataset < snaps[j].Dataset
	})
}
