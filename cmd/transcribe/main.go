// Command transcribe streams a raw PCM16 file through a transcription
// session at real-time pace and prints live partials and completed turns.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexiqai/scribe-gateway/internal/audio"
	"github.com/lexiqai/scribe-gateway/internal/config"
	"github.com/lexiqai/scribe-gateway/internal/extraction"
	"github.com/lexiqai/scribe-gateway/internal/observability"
	"github.com/lexiqai/scribe-gateway/internal/session"
)

type options struct {
	language   string
	sampleRate int
	chunkMs    int
	telephony  bool
	fast       bool
	extract    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "transcribe <file.pcm>",
		Short: "Stream a raw 16-bit PCM file and print completed turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], opts, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.language, "language", "l", "en", "session language: en, ar or ar_en")
	flags.IntVarP(&opts.sampleRate, "sample-rate", "r", 16000, "sample rate of the input file")
	flags.IntVar(&opts.chunkMs, "chunk-ms", 20, "audio chunk duration in milliseconds")
	flags.BoolVar(&opts.telephony, "telephony", false, "convert to 8 kHz mu-law and stream as a phone call")
	flags.BoolVar(&opts.fast, "fast", false, "stream as fast as possible instead of real time")
	flags.BoolVar(&opts.extract, "extract", false, "run form extraction (requires OPENAI_API_KEY)")
	return cmd
}

func run(ctx context.Context, path string, opts options, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.LogLevel, true)
	logger := observability.GetLogger()

	pcm, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	transport := session.TransportBrowser
	payload := pcm
	size := chunkSize(opts.sampleRate, opts.chunkMs, 2)
	if opts.telephony {
		transport = session.TransportTwilio
		if payload, err = audio.ConvertPCMToPCMU(pcm, opts.sampleRate, 8000); err != nil {
			return fmt.Errorf("failed to convert to mu-law: %w", err)
		}
		size = chunkSize(8000, opts.chunkMs, 1)
	}

	var extractor extraction.Extractor = extraction.NopExtractor{}
	if opts.extract {
		if !cfg.ExtractionEnabled() {
			return fmt.Errorf("--extract requires OPENAI_API_KEY")
		}
		extractor = extraction.NewOpenAIExtractor(cfg, logger)
	}

	sess, err := session.New(session.Options{
		Config:    cfg,
		Language:  opts.language,
		Transport: transport,
		Sender:    newPrinter(out),
		Extractor: extractor,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx, session.StartOptions{SampleRate: opts.sampleRate}); err != nil {
		return err
	}

	streamErr := stream(ctx, sess, chunkAudio(payload, size), time.Duration(opts.chunkMs)*time.Millisecond, opts.fast)

	stopCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := sess.Stop(stopCtx); err != nil {
		return err
	}
	return streamErr
}

// stream sends chunks one per interval, or back to back when fast is set
func stream(ctx context.Context, sess *session.Session, chunks [][]byte, interval time.Duration, fast bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for _, chunk := range chunks {
		if err := sess.SendAudio(chunk); err != nil {
			return err
		}
		if fast {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// chunkSize returns the byte length of chunkMs of audio. It is computed in
// whole samples so a chunk never splits one.
func chunkSize(sampleRate, chunkMs, bytesPerSample int) int {
	samples := sampleRate * chunkMs / 1000
	if samples < 1 {
		samples = 1
	}
	return samples * bytesPerSample
}

// chunkAudio splits data into size-byte chunks. The last chunk may be
// shorter.
func chunkAudio(data []byte, size int) [][]byte {
	if size <= 0 {
		return [][]byte{data}
	}
	chunks := make([][]byte, 0, len(data)/size+1)
	for start := 0; start < len(data); start += size {
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}
