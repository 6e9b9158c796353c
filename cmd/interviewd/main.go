// interviewd runs one interview session headless: it admits the participant,
// joins the conferencing session, supervises the voice agent, and tears
// everything down on signal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hirekruit/interviewkit/pkg/interview/agent"
	"github.com/hirekruit/interviewkit/pkg/interview/bridge"
	"github.com/hirekruit/interviewkit/pkg/interview/completion"
	"github.com/hirekruit/interviewkit/pkg/interview/conference"
	"github.com/hirekruit/interviewkit/pkg/interview/config"
	"github.com/hirekruit/interviewkit/pkg/interview/identity"
	"github.com/hirekruit/interviewkit/pkg/interview/metrics"
	"github.com/hirekruit/interviewkit/pkg/interview/orchestrator"
	"github.com/hirekruit/interviewkit/pkg/interview/readiness"
	"github.com/hirekruit/interviewkit/pkg/interview/transcript"
)

type sessionFlags struct {
	role          string
	candidateRef  string
	category      string
	displayName   string
	referenceFile string
}

func parseSessionFlags(args []string) (sessionFlags, error) {
	var sf sessionFlags
	fs := flag.NewFlagSet("interviewd", flag.ContinueOnError)
	fs.StringVar(&sf.role, "role", "candidate", "participant role: candidate or hr")
	fs.StringVar(&sf.candidateRef, "candidate-ref", "", "candidate reference")
	fs.StringVar(&sf.category, "category", "", "interview round type")
	fs.StringVar(&sf.displayName, "name", "", "display name (HR only)")
	fs.StringVar(&sf.referenceFile, "reference-file", "", "path to the candidate resume text")
	if err := fs.Parse(args); err != nil {
		return sessionFlags{}, err
	}
	return sf, nil
}

func (sf sessionFlags) descriptor() (identity.Descriptor, error) {
	d := identity.Descriptor{
		Role:         identity.Role(sf.role),
		DisplayName:  sf.displayName,
		CandidateRef: sf.candidateRef,
		Category:     sf.category,
	}
	if err := d.Validate(); err != nil {
		return identity.Descriptor{}, err
	}
	return d, nil
}

type sessionDeps struct {
	loadConfig   func() (config.Config, error)
	readFile     func(string) ([]byte, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultSessionDeps() sessionDeps {
	return sessionDeps{
		loadConfig:   config.LoadFromEnv,
		readFile:     os.ReadFile,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) },
		signalStop:   signal.Stop,
	}
}

// pcmMedia is the headless media provider. It captures no camera and feeds a
// PCM microphone track; there is no device prompt so denial never occurs.
type pcmMedia struct{}

func (pcmMedia) Capture(ctx context.Context, profile conference.CaptureProfile) (conference.Capture, error) {
	track, err := bridge.NewPCMTrack(bridge.DefaultSampleRate, bridge.DefaultNumChannels)
	if err != nil {
		return conference.Capture{}, err
	}
	return conference.Capture{Audio: track}, nil
}

func (pcmMedia) IsPermissionDenied(err error) bool { return false }

// noOutputs is the headless playback registry. The voice bridge exhausts its
// schedule against it and absorbs the miss; remote participants still hear
// the agent through its own published track.
type noOutputs struct{}

func (noOutputs) Outputs() []bridge.Output { return nil }

func runSession(ctx context.Context, logger *slog.Logger, deps sessionDeps, sf sessionFlags) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}
	readFile := deps.readFile
	if readFile == nil {
		readFile = os.ReadFile
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	desc, err := sf.descriptor()
	if err != nil {
		return fmt.Errorf("session flags: %w", err)
	}

	referenceText := ""
	if sf.referenceFile != "" {
		raw, err := readFile(sf.referenceFile)
		if err != nil {
			return fmt.Errorf("read reference file: %w", err)
		}
		referenceText = string(raw)
	}

	log := transcript.NewLog()
	met := metrics.New("interviewkit")

	admissionClient, err := identity.NewClient(cfg.AdmissionBaseURL, identity.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build admission client: %w", err)
	}

	conf, err := conference.New(conference.Dependencies{
		Admission:  admissionClient,
		Connector:  &conference.LiveKitConnector{Logger: logger},
		Media:      pcmMedia{},
		Transcript: log,
		Logger:     logger,
	}, conference.Config{
		Profile: conference.CaptureProfile{
			Width:     cfg.CaptureWidth,
			Height:    cfg.CaptureHeight,
			FrameRate: cfg.CaptureFrameRate,
		},
	})
	if err != nil {
		return fmt.Errorf("build conferencing session: %w", err)
	}

	orchDeps := orchestrator.Dependencies{
		Conference: conf,
		Transcript: log,
		Metrics:    met,
		Logger:     logger,
	}
	if desc.Role == identity.RoleCandidate {
		checker, err := completion.NewClient(cfg.AdmissionBaseURL, nil, logger)
		if err != nil {
			return fmt.Errorf("build completion client: %w", err)
		}
		orchDeps.Completion = checker

		voiceBridge, err := bridge.New(bridge.Dependencies{
			Registry: noOutputs{},
			Session:  conf,
			Logger:   logger,
		}, bridge.Config{
			AgentLabel: cfg.BridgeLabel,
			TrackName:  cfg.BridgeTrackName,
		})
		if err != nil {
			return fmt.Errorf("build voice bridge: %w", err)
		}
		orchDeps.Bridge = voiceBridge
	}

	orch, err := orchestrator.New(orchDeps, orchestrator.Config{
		Role:           desc.Role,
		SettleDelay:    cfg.SettleDelay,
		Fallback:       cfg.Fallback,
		AutoStartDelay: cfg.AutoStartDelay,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	if desc.Role == identity.RoleCandidate {
		if cfg.AgentURL == "" {
			return errors.New("INTERVIEW_AGENT_URL must be set for candidate sessions")
		}
		transport, err := agent.NewWSTransport(agent.WSConfig{
			URL:        cfg.AgentURL,
			Credential: cfg.AgentCredential,
		}, logger)
		if err != nil {
			return fmt.Errorf("build agent transport: %w", err)
		}
		agentMgr, err := agent.New(agent.Dependencies{
			Transport:  transport,
			Transcript: log,
			Handlers:   orch.Handlers(),
			Logger:     logger,
		}, agent.Config{Model: cfg.AgentModel, Voice: cfg.AgentVoice})
		if err != nil {
			return fmt.Errorf("build agent session: %w", err)
		}
		orch.BindAgent(agentMgr)
	}

	var metricsSrv *http.Server
	metricsErrCh := make(chan error, 1)
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: met.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			err := metricsSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsErrCh <- err
				return
			}
			metricsErrCh <- nil
		}()
		logger.Info("metrics listener started", "addr", cfg.MetricsAddr)
	}

	logger.Info("starting interview session",
		"role", string(desc.Role),
		"candidate_ref", desc.CandidateRef,
		"category", desc.Category,
	)

	if err := orch.Start(ctx, orchestrator.Params{
		Descriptor:      desc,
		AgentCredential: cfg.AgentCredential,
		ReferenceText:   referenceText,
	}); err != nil {
		closeSession(orch, metricsSrv, metricsErrCh, cfg.ShutdownGracePeriod, logger)
		return fmt.Errorf("start session: %w", err)
	}

	// No presentation layer exists here, so the mount and playback unlock are
	// reported as soon as the session is up.
	orch.ReportRenderTarget()
	orch.ReportAudioContext()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
			break loop
		case err := <-metricsErrCh:
			if err != nil {
				runErr = fmt.Errorf("metrics listener: %w", err)
				break loop
			}
		case <-ticker.C:
			if orch.Phase() == readiness.PhaseError {
				runErr = fmt.Errorf("session failed: %s", orch.Err())
				break loop
			}
		}
	}

	closeSession(orch, metricsSrv, metricsErrCh, cfg.ShutdownGracePeriod, logger)
	if runErr != nil {
		return runErr
	}
	logger.Info("interview session stopped")
	return nil
}

func closeSession(orch *orchestrator.Orchestrator, metricsSrv *http.Server, metricsErrCh chan error, grace time.Duration, logger *slog.Logger) {
	closeCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := orch.Close(closeCtx); err != nil {
		logger.Warn("session close reported an error", "err", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(closeCtx); err != nil {
			logger.Warn("metrics listener shutdown failed", "err", err)
		}
		<-metricsErrCh
	}
}

func runMain(ctx context.Context, stderr io.Writer, args []string, deps sessionDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "interviewd: %v\n", err)
		return 1
	}

	sf, err := parseSessionFlags(args)
	if err != nil {
		return 2
	}

	if err := runSession(ctx, logger, deps, sf); err != nil {
		fmt.Fprintf(stderr, "interviewd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, os.Args[1:], defaultSessionDeps()))
}
