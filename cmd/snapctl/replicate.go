package main

import (
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	zfs "github.com/vansante/snapctl"
	"github.com/vansante/snapctl/replicate"
)

var pushCmd = &cobra.Command{
	Use:   "push USER@HOST:DATASET",
	Short: "replicate the local dataset to a remote dataset over ssh",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplicate(cmd, args[0], true)
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull USER@HOST:DATASET",
	Short: "replicate a remote dataset over ssh into the local dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplicate(cmd, args[0], false)
	},
}

func init() {
	for _, c := range []*cobra.Command{pushCmd, pullCmd} {
		c.Flags().IntP("port", "p", 22, "ssh port")
		c.Flags().Bool("init", false, "permit an initial full transfer when the destination has no snapshots")
		c.Flags().Int64("bytes-per-second", 0, "rate-limit the transfer pipe, 0 for unlimited")
		c.Flags().Bool("compress", false, "zstd-compress the transfer pipe")
	}
}

func runReplicate(cmd *cobra.Command, targetArg string, push bool) error {
	localDataset, err := datasetFlag(viper.GetString("dataset"))
	if err != nil {
		return err
	}

	portFlag, _ := cmd.Flags().GetInt("port")
	target, err := parseRemoteTarget(targetArg)
	if err != nil {
		return err
	}

	opts := replicate.Options{
		Recursive: viper.GetBool("recursive"),
	}
	opts.Initialize, _ = cmd.Flags().GetBool("init")
	opts.BytesPerSecond, _ = cmd.Flags().GetInt64("bytes-per-second")
	if compress, _ := cmd.Flags().GetBool("compress"); compress {
		opts.CompressionLevel = zstd.SpeedDefault
	}

	local := zfs.NewLocalAgent()
	remote := target.agent(portFlag)

	var src, dst zfs.Agent
	var srcDataset, dstDataset string
	if push {
		src, dst = local, remote
		srcDataset, dstDataset = localDataset, target.dataset
	} else {
		src, dst = remote, local
		srcDataset, dstDataset = target.dataset, localDataset
	}

	if viper.GetBool("dry-run") {
		logger.WithField("source", srcDataset).WithField("destination", dstDataset).
			Info("dry-run: would replicate")
		return nil
	}

	results, err := replicate.Run(cmd.Context(), src, dst, srcDataset, dstDataset, opts)
	for _, r := range results {
		logger.WithField("source", r.SourceDataset).
			WithField("destination", r.DestinationDataset).
			WithField("transferred", r.Transferred).
			Info("replicated")
	}
	return err
}
