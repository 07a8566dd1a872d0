// meetprobe joins a meeting, holds the session until interrupted, and
// reports every lifecycle transition. It is the manual smoke test for
// the connection pipeline and the reconnect loop.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/meetkit/pkg/peer"
	"github.com/arzzra/meetkit/pkg/session"
	"github.com/arzzra/meetkit/pkg/signaling"
	"github.com/arzzra/meetkit/pkg/status"
)

func main() {
	var (
		signalingURL = flag.String("signaling", "", "Signaling websocket URL")
		turnURL      = flag.String("turn", "", "TURN credential endpoint (optional)")
		audioHost    = flag.String("audio-host", "", "Audio host URL")
		meetingID    = flag.String("meeting", "", "Meeting ID")
		attendeeID   = flag.String("attendee", "", "Attendee ID")
		joinToken    = flag.String("token", "", "Join token")
		timeout      = flag.Duration("connect-timeout", 15*time.Second, "Whole-pipeline connection timeout")
		debug        = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	if *signalingURL == "" || *meetingID == "" || *attendeeID == "" || *joinToken == "" {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	reg := prometheus.NewRegistry()
	cfg := session.DefaultConfig()
	cfg.MeetingID = *meetingID
	cfg.AttendeeID = *attendeeID
	cfg.JoinToken = *joinToken
	cfg.SignalingURL = *signalingURL
	cfg.TURNControlURL = *turnURL
	cfg.AudioHostURL = *audioHost
	cfg.ConnectionTimeout = *timeout
	cfg.ApplicationName = "meetprobe"
	cfg.PeerFactory = &peer.PionFactory{}
	cfg.Logger = logger
	cfg.Metrics = session.NewMetrics(reg)
	cfg.SignalingMetrics = signaling.NewMetrics(reg)

	ctrl := session.NewController(cfg)
	ctrl.AddObserver(&probeObserver{logger: logger})

	if err := ctrl.Start(context.Background()); err != nil {
		logger.Error("start failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		logger.Info("interrupted, leaving meeting")
		ctrl.Stop()
		<-ctrl.Done()
	case <-ctrl.Done():
	}
	ctrl.Terminate()
}

type probeObserver struct {
	logger *slog.Logger
}

func (o *probeObserver) SessionDidStartConnecting(reconnecting bool) {
	o.logger.Info("connecting", slog.Bool("reconnecting", reconnecting))
}

func (o *probeObserver) SessionDidStart() {
	o.logger.Info("session started")
}

func (o *probeObserver) SessionDidStopWithStatus(st status.SessionStatus) {
	o.logger.Info("session stopped", slog.String("status", st.String()))
}
