package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dbehnke/btbb-nexus/pkg/capture"
	"github.com/dbehnke/btbb-nexus/pkg/config"
	"github.com/dbehnke/btbb-nexus/pkg/logger"
	"github.com/dbehnke/btbb-nexus/pkg/metrics"
	"github.com/dbehnke/btbb-nexus/pkg/sniffer"
	"github.com/dbehnke/btbb-nexus/pkg/source"
	"github.com/spf13/cobra"
)

var (
	decodeUnwhitened bool
	decodeThreshold  int
	decodeTargets    []string
	decodePCAP       string
	decodeCBOR       string
	decodeQuiet      bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode <capture>",
	Short: "Decode a capture file and print every packet",
	Long: `Decode a capture of symbol frames, plain or zstd compressed, and print
each packet as it is decoded followed by a summary of the piconets heard.

Known piconets can be given as --target LAP:UAP, for example 9e8b33:47, so
only the clock has to be discovered.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeUnwhitened, "unwhitened", false, "Header and payload are not whitened")
	decodeCmd.Flags().IntVar(&decodeThreshold, "threshold", 0, "UAP discovery score threshold")
	decodeCmd.Flags().StringSliceVarP(&decodeTargets, "target", "t", nil, "Known piconet as LAP:UAP (hex)")
	decodeCmd.Flags().StringVar(&decodePCAP, "pcap", "", "Write decoded packets to a pcap file")
	decodeCmd.Flags().StringVar(&decodeCBOR, "cbor", "", "Append decoded packets to a CBOR log")
	decodeCmd.Flags().BoolVarP(&decodeQuiet, "quiet", "q", false, "Only print the summary")
	rootCmd.AddCommand(decodeCmd)
}

// parseTargets parses LAP:UAP pairs
func parseTargets(specs []string) ([]config.TargetConfig, error) {
	targets := make([]config.TargetConfig, 0, len(specs))
	for _, spec := range specs {
		lap, uap, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("target %q: want LAP:UAP", spec)
		}
		targets = append(targets, config.TargetConfig{LAP: lap, UAP: uap})
	}
	return targets, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	level := logLevel
	if level == "" {
		level = "warn"
	}
	log := logger.New(logger.Config{Level: level, Format: "text", Output: os.Stderr})

	targets, err := parseTargets(decodeTargets)
	if err != nil {
		return err
	}
	cfg := &config.Config{
		Capture: config.CaptureConfig{
			Whitened:           !decodeUnwhitened,
			HighChannel:        78,
			Workers:            1,
			QueueSize:          1024,
			DiscoveryThreshold: decodeThreshold,
			Targets:            targets,
		},
	}
	pipelineCfg, err := sniffer.ConfigFrom(cfg)
	if err != nil {
		return err
	}

	out := newPrinter(os.Stdout)
	var sinks sniffer.Sinks
	if !decodeQuiet {
		sinks.OnResult = out.Result
	}
	if decodePCAP != "" {
		pw, err := capture.CreatePCAP(decodePCAP)
		if err != nil {
			return err
		}
		defer func() { _ = pw.Close() }()
		sinks.PCAP = pw
	}
	if decodeCBOR != "" {
		cl, err := capture.CreateCBORLog(decodeCBOR)
		if err != nil {
			return err
		}
		defer func() { _ = cl.Close() }()
		sinks.CBOR = cl
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	svc := sniffer.New(pipelineCfg, sinks, collector, log)
	if err := svc.Run(ctx, source.NewFileSource(args[0], collector, log)); err != nil && ctx.Err() == nil {
		return err
	}

	out.Summary(svc.Piconets(), collector.GetFramesReceived(), collector.GetAccessCodes(), collector.GetDetectionsDropped())
	return nil
}
