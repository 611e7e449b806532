package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/dbehnke/btbb-nexus/pkg/btbb"
	"github.com/dbehnke/btbb-nexus/pkg/config"
	"github.com/dbehnke/btbb-nexus/pkg/source"
	"github.com/spf13/cobra"
)

var (
	synthOutput  string
	synthSend    string
	synthZstd    bool
	synthLAP     string
	synthUAP     string
	synthNAP     uint16
	synthType    string
	synthCount   int
	synthOffset  uint32
	synthCLKN    uint32
	synthChannel int
	synthLead    int
	synthFHS     bool
)

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Generate symbol frames for a synthetic piconet",
	Long: `Generate noise-free symbol frames carrying packets of one piconet, for
testing the decoder. Frames are written to a capture file with --output or
sent as UDP datagrams with --send.

Each packet is received at native clock --clkn plus two slots per packet and
whitened with the master clock --offset ahead of it. With --fhs the first
packet is an FHS carrying the full device address and clock.`,
	RunE: runSynth,
}

func init() {
	synthCmd.Flags().StringVarP(&synthOutput, "output", "o", "", "Capture file to write")
	synthCmd.Flags().StringVar(&synthSend, "send", "", "Send frames to host:port over UDP")
	synthCmd.Flags().BoolVar(&synthZstd, "zstd", false, "Compress the capture file")
	synthCmd.Flags().StringVar(&synthLAP, "lap", "9e8b33", "Lower address part (hex)")
	synthCmd.Flags().StringVar(&synthUAP, "uap", "47", "Upper address part (hex)")
	synthCmd.Flags().Uint16Var(&synthNAP, "nap", 0x0123, "Non-significant address part carried by the FHS")
	synthCmd.Flags().StringVar(&synthType, "type", "DM1", "Packet type")
	synthCmd.Flags().IntVarP(&synthCount, "count", "n", 8, "Number of packets")
	synthCmd.Flags().Uint32Var(&synthOffset, "offset", 0x15, "Master clock minus native clock")
	synthCmd.Flags().Uint32Var(&synthCLKN, "clkn", 100, "Native clock of the first packet")
	synthCmd.Flags().IntVar(&synthChannel, "channel", 39, "RF channel")
	synthCmd.Flags().IntVar(&synthLead, "lead", 16, "Noise symbols ahead of each packet")
	synthCmd.Flags().BoolVar(&synthFHS, "fhs", false, "Start with an FHS packet")
	rootCmd.AddCommand(synthCmd)
}

// parsePacketType accepts a packet type by any of its names
func parsePacketType(name string) (btbb.PacketType, error) {
	name = strings.ToUpper(name)
	for t := btbb.TypeNULL; t <= btbb.TypeDH5; t++ {
		for _, alias := range strings.Split(t.String(), "/") {
			if alias == name {
				return t, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown packet type %q", name)
}

// synthFrames builds the frames for the configured piconet
func synthFrames() ([]source.Frame, error) {
	lap, err := config.ParseLAP(synthLAP)
	if err != nil {
		return nil, err
	}
	uap, err := config.ParseUAP(synthUAP)
	if err != nil {
		return nil, err
	}
	typ, err := parsePacketType(synthType)
	if err != nil {
		return nil, err
	}

	frames := make([]source.Frame, 0, synthCount)
	for i := 0; i < synthCount; i++ {
		clkn := synthCLKN + uint32(2*i)
		b := btbb.Builder{
			LAP:    lap,
			UAP:    uap,
			Clock:  (clkn + synthOffset) & 0x3f,
			Type:   typ,
			LTAddr: 1,
			LLID:   btbb.LLIDStart,
			SEQN:   i%2 == 1,
			Body:   []byte(fmt.Sprintf("btbb-nexus %d", i)),
		}
		if synthFHS && i == 0 {
			b.Type = btbb.TypeFHS
			b.Body = btbb.FHSPayload(btbb.FHSInfo{
				LAP:   lap,
				UAP:   uap,
				NAP:   synthNAP,
				Clock: (clkn + synthOffset) & 0x3ffffff,
			}, 1)
		}
		if limit := b.Type.MaxPayloadLength() - b.Type.PayloadHeaderBytes() - 2; b.Type != btbb.TypeFHS && limit > 0 && len(b.Body) > limit {
			b.Body = b.Body[:limit]
		}

		symbols, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("packet %d: %w", i, err)
		}
		frames = append(frames, source.Frame{
			Channel: synthChannel,
			CLKN:    clkn,
			Symbols: append(make([]byte, synthLead), symbols...),
		})
	}
	return frames, nil
}

func runSynth(cmd *cobra.Command, args []string) error {
	if synthOutput == "" && synthSend == "" {
		return fmt.Errorf("one of --output or --send is required")
	}
	frames, err := synthFrames()
	if err != nil {
		return err
	}

	if synthOutput != "" {
		fw, err := source.CreateCapture(synthOutput, synthZstd)
		if err != nil {
			return err
		}
		for _, f := range frames {
			if err := fw.Write(f); err != nil {
				_ = fw.Close()
				return err
			}
		}
		if err := fw.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d frames to %s\n", len(frames), synthOutput)
	}

	if synthSend != "" {
		conn, err := net.Dial("udp", synthSend)
		if err != nil {
			return fmt.Errorf("failed to dial %s: %w", synthSend, err)
		}
		defer func() { _ = conn.Close() }()
		for _, f := range frames {
			data, err := f.MarshalBinary()
			if err != nil {
				return err
			}
			if _, err := conn.Write(data); err != nil {
				return fmt.Errorf("failed to send frame: %w", err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %d frames to %s\n", len(frames), synthSend)
	}
	return nil
}
