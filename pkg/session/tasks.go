package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/arzzra/meetkit/pkg/peer"
	"github.com/arzzra/meetkit/pkg/sdputil"
	"github.com/arzzra/meetkit/pkg/signaling"
	"github.com/arzzra/meetkit/pkg/status"
	"github.com/arzzra/meetkit/pkg/task"
	"github.com/arzzra/meetkit/pkg/turn"
)

// newReceiveTURNCredentialsTask fetches relay credentials unless they are
// already present or no control URL is configured, in which case the step
// completes as a no-op.
func newReceiveTURNCredentialsTask(sc *Context) task.Task {
	return task.New("ReceiveTURNCredentials", func(ctx context.Context) error {
		if sc.TURNCredentials() != nil {
			sc.cfg.logger().Debug("TURN credentials already present, skipping fetch")
			return nil
		}
		if sc.cfg.TURNControlURL == "" {
			sc.cfg.logger().Debug("no TURN control URL configured, skipping fetch")
			return nil
		}
		fetcher := &turn.Fetcher{
			ControlURL: sc.cfg.TURNControlURL,
			JoinToken:  sc.cfg.JoinToken,
			HTTPClient: sc.cfg.HTTPClient,
			Logger:     sc.cfg.logger(),
		}
		creds, err := fetcher.Fetch(ctx, sc.cfg.MeetingID)
		if err != nil {
			return err
		}
		sc.SetTURNCredentials(creds)
		return nil
	})
}

// newOpenSignalingConnectionTask establishes the framed signaling
// transport and stores the client on the context.
func newOpenSignalingConnectionTask(sc *Context) task.Task {
	return task.New("OpenSignalingConnection", func(ctx context.Context) error {
		client := signaling.NewClient(signaling.Config{
			URL:       sc.cfg.SignalingURL,
			JoinToken: sc.cfg.JoinToken,
			Logger:    sc.cfg.logger(),
			Metrics:   sc.cfg.SignalingMetrics,
		})
		if err := client.Connect(ctx); err != nil {
			return err
		}
		sc.SignalingClient = client
		return nil
	})
}

// newCreatePeerConnectionTask constructs the peer connection, or reuses
// the one already on the context. With TURN credentials present the
// transport is forced to relay-only.
func newCreatePeerConnectionTask(sc *Context) task.Task {
	return task.New("CreatePeerConnection", func(ctx context.Context) error {
		if sc.Peer != nil {
			sc.cfg.logger().Debug("reusing existing peer connection")
			return nil
		}
		cfg := peer.Config{BundlePolicy: webrtc.BundlePolicyBalanced}
		if creds := sc.TURNCredentials(); creds != nil {
			cfg.ICEServers = []webrtc.ICEServer{{
				URLs:       creds.URIs,
				Username:   creds.Username,
				Credential: creds.Password,
			}}
			cfg.TransportPolicy = webrtc.ICETransportPolicyRelay
		}
		pc, err := sc.cfg.PeerFactory.NewConnection(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to create peer connection")
		}
		if sink := sc.cfg.TrackSink; sink != nil {
			pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
				sink.BindRemoteTrack(track, receiver)
			})
		}
		pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
			if cand != nil {
				sc.AddICECandidate(cand.ToJSON().Candidate)
			}
		})
		sc.Peer = pc
		return nil
	})
}

// newCreateSDPTask requests an offer and guards against a
// synchronization-source change relative to the previous offer, which
// would break renegotiation.
func newCreateSDPTask(sc *Context) task.Task {
	return task.New("CreateSDP", func(ctx context.Context) error {
		var options *webrtc.OfferOptions
		offer, err := sc.Peer.CreateOffer(options)
		if err != nil {
			return errors.Wrap(err, "failed to create offer")
		}
		if sc.PreviousOffer != "" && !sdputil.CompatibleSSRC(sc.PreviousOffer, offer.SDP) {
			return status.NewError(status.IncompatibleSDP, "CreateSDP", nil)
		}
		sc.LocalOffer = offer.SDP
		return nil
	})
}

// applyDescription runs a description-apply operation in a goroutine so
// the task stays cancelable while the platform operation is pending.
func applyDescription(ctx context.Context, apply func() error) error {
	done := make(chan error, 1)
	go func() { done <- apply() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newSetLocalDescriptionTask applies the offer, first rewriting the
// codec-preference ordering when send preferences are configured.
func newSetLocalDescriptionTask(sc *Context) task.Task {
	return task.New("SetLocalDescription", func(ctx context.Context) error {
		body := sc.LocalOffer
		if prefs := sc.cfg.VideoSendCodecPreferences; len(prefs) > 0 && sc.usesVideo() {
			rewritten, err := sdputil.ReorderCodecPreferences(body, "video", prefs, sc.cfg.MeetingCodecIntersection)
			if err != nil {
				return err
			}
			body = rewritten
		}
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: body}
		if err := applyDescription(ctx, func() error { return sc.Peer.SetLocalDescription(desc) }); err != nil {
			return errors.Wrap(err, "failed to set local description")
		}
		sc.LocalOffer = body
		return nil
	})
}

// newSetRemoteDescriptionTask applies the answer received in the
// subscribe ack.
func newSetRemoteDescriptionTask(sc *Context) task.Task {
	return task.New("SetRemoteDescription", func(ctx context.Context) error {
		if sc.RemoteAnswer == "" {
			return errors.New("no remote answer on context")
		}
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sc.RemoteAnswer}
		if err := applyDescription(ctx, func() error { return sc.Peer.SetRemoteDescription(desc) }); err != nil {
			return errors.Wrap(err, "failed to set remote description")
		}
		return nil
	})
}

// newFinishGatheringICECandidatesTask waits until candidate gathering
// reaches a terminal state and the local description carries at least one
// usable candidate. With TURN credentials present, a single relay
// candidate satisfies the task early. On the platform known to hang
// gathering after a VPN reconnect, a bounded workaround timeout converts
// the hang into a dedicated status.
func newFinishGatheringICECandidatesTask(sc *Context) task.Task {
	return task.New("FinishGatheringICECandidates", func(ctx context.Context) error {
		pc := sc.Peer

		// Fast path: gathering already finished and the description
		// embeds candidates; no listeners are registered at all.
		if desc := pc.LocalDescription(); desc != nil &&
			pc.ICEGatheringState() == webrtc.ICEGatheringStateComplete &&
			sdputil.HasCandidates(desc.SDP) {
			return nil
		}

		complete := make(chan struct{}, 1)
		relay := make(chan struct{}, 1)
		wantRelay := sc.TURNCredentials() != nil

		pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
			if cand == nil {
				return
			}
			line := cand.ToJSON().Candidate
			sc.AddICECandidate(line)
			if wantRelay && sdputil.IsRelayCandidate(line) {
				select {
				case relay <- struct{}{}:
				default:
				}
			}
		})
		pc.OnICEGatheringStateChange(func(st webrtc.ICEGatheringState) {
			if st == webrtc.ICEGatheringStateComplete {
				select {
				case complete <- struct{}{}:
				default:
				}
			}
		})

		// The listeners may have missed transitions that happened before
		// registration.
		if pc.ICEGatheringState() == webrtc.ICEGatheringStateComplete {
			select {
			case complete <- struct{}{}:
			default:
			}
		}

		var workaround <-chan time.Time
		if sc.cfg.ICEGatheringVPNWorkaround {
			timeout := sc.cfg.ICEGatheringVPNWorkaroundTimeout
			if timeout == 0 {
				timeout = 5 * time.Second
			}
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			workaround = timer.C
		}

		for {
			select {
			case <-relay:
				return nil
			case <-complete:
				if sc.gatheredUsableCandidate() {
					return nil
				}
				return status.NewError(status.TaskFailed, "FinishGatheringICECandidates",
					errors.New("gathering completed without candidates"))
			case <-workaround:
				return status.NewError(status.ICEGatheringTimeoutWorkaround, "FinishGatheringICECandidates", nil)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func (sc *Context) gatheredUsableCandidate() bool {
	if len(sc.ICECandidates()) > 0 {
		return true
	}
	if desc := sc.Peer.LocalDescription(); desc != nil {
		return sdputil.HasCandidates(desc.SDP)
	}
	return false
}

// watchSignaling buffers client events for a task's receive loop and
// returns the unsubscribe func.
func watchSignaling(client *signaling.Client) (chan signaling.Event, func()) {
	events := make(chan signaling.Event, 32)
	sub := client.Subscribe(func(ev signaling.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	return events, func() { client.Unsubscribe(sub) }
}

// newJoinAndReceiveIndexTask sends the JOIN frame and waits, in order,
// for the join ack and the source index. A signaling error frame or a
// remote close before the index aborts the task with the mapped status.
func newJoinAndReceiveIndexTask(sc *Context) task.Task {
	return task.New("JoinAndReceiveIndex", func(ctx context.Context) error {
		client := sc.SignalingClient
		events, unsubscribe := watchSignaling(client)
		defer unsubscribe()

		adaption := signaling.AdaptionDefault
		if policy := sc.cfg.BandwidthPolicy; policy != nil {
			adaption = policy.WantsServerSideNetworkAdaption()
		}
		join := &signaling.JoinFrame{
			ClientID:                       uuid.NewString(),
			ClientVersion:                  sc.cfg.SDKVersion,
			AppName:                        sc.cfg.ApplicationName,
			NetworkAdaption:                adaption,
			DisableContentKeyframeRequests: sc.cfg.DisableContentKeyframeRequests,
		}
		if err := client.SendJoin(ctx, join); err != nil {
			return errors.Wrap(err, "failed to send join")
		}

		joinAcked := false
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-events:
				switch ev.Type {
				case signaling.EventClosed:
					return status.NewError(ev.Status, "JoinAndReceiveIndex", ev.Err)
				case signaling.EventFrameReceived:
					switch ev.Frame.Type {
					case signaling.FrameError:
						return status.NewError(status.FromSignalStatus(ev.Frame.Error.Status), "JoinAndReceiveIndex", nil)
					case signaling.FrameJoinAck:
						sc.applyJoinAck(ev.Frame.JoinAck)
						joinAcked = true
					case signaling.FrameIndex:
						if !joinAcked {
							return status.NewError(status.SignalingRequestFailed, "JoinAndReceiveIndex",
								errors.New("index received before join ack"))
						}
						sc.IndexSources = ev.Frame.Index.Sources
						return nil
					}
				}
			}
		}
	})
}

// applyJoinAck folds the negotiated join parameters into the context.
// TURN credentials from the ack only apply when none were fetched.
func (sc *Context) applyJoinAck(ack *signaling.JoinAckFrame) {
	if ack == nil {
		return
	}
	if sc.TURNCredentials() == nil && ack.TURNCredentials != nil {
		sc.SetTURNCredentials(&turn.Credentials{
			Username: ack.TURNCredentials.Username,
			Password: ack.TURNCredentials.Password,
			TTL:      time.Duration(ack.TURNCredentials.TTL) * time.Second,
			URIs:     ack.TURNCredentials.URIs,
		})
	}
	sc.VideoSubscriptionLimit = ack.VideoSubscriptionLimit
	if sc.VideoSubscriptionLimit == 0 {
		sc.VideoSubscriptionLimit = DefaultVideoSubscriptionLimit
	}
	sc.WantsCompressedSDP = ack.WantsCompressedSDP
	sc.NetworkAdaption = ack.NetworkAdaption
	sc.cfg.logger().Debug("join acknowledged",
		slog.Int("videoSubscriptionLimit", int(sc.VideoSubscriptionLimit)),
		slog.Bool("wantsCompressedSdp", sc.WantsCompressedSDP))
}

// newSubscribeAndReceiveAckTask sends the SUBSCRIBE with the local offer
// (including gathered candidates) and waits for the answer.
func newSubscribeAndReceiveAckTask(sc *Context) task.Task {
	return task.New("SubscribeAndReceiveSubscribeAck", func(ctx context.Context) error {
		client := sc.SignalingClient
		events, unsubscribe := watchSignaling(client)
		defer unsubscribe()

		offer := sc.LocalOffer
		if desc := sc.Peer.LocalDescription(); desc != nil {
			offer = desc.SDP
		}
		receive := make([]uint32, 0, len(sc.IndexSources))
		for _, src := range sc.IndexSources {
			if uint32(len(receive)) >= sc.VideoSubscriptionLimit {
				break
			}
			receive = append(receive, src.StreamID)
		}
		sub := &signaling.SubscribeFrame{
			AttendeeID:       sc.cfg.AttendeeID,
			SDPOffer:         offer,
			AudioHost:        sc.cfg.AudioHostURL,
			ReceiveStreamIDs: receive,
		}
		if err := client.SendSubscribe(ctx, sub); err != nil {
			return errors.Wrap(err, "failed to send subscribe")
		}

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-events:
				switch ev.Type {
				case signaling.EventClosed:
					return status.NewError(ev.Status, "SubscribeAndReceiveSubscribeAck", ev.Err)
				case signaling.EventFrameReceived:
					switch ev.Frame.Type {
					case signaling.FrameError:
						return status.NewError(status.FromSignalStatus(ev.Frame.Error.Status), "SubscribeAndReceiveSubscribeAck", nil)
					case signaling.FrameSubscribeAck:
						sc.RemoteAnswer = ev.Frame.SubscribeAck.SDPAnswer
						return nil
					}
				}
			}
		}
	})
}

// newWaitForAttendeePresenceTask waits until the local attendee's own
// presence event round-trips on the realtime channel, proving the
// signaling path works end to end. Timing out is a fatal
// NoAttendeePresent condition.
func newWaitForAttendeePresenceTask(sc *Context) task.Task {
	return task.New("WaitForAttendeePresence", func(ctx context.Context) error {
		present := make(chan struct{})
		var once sync.Once
		sub := sc.presence.Subscribe(func(sub *PresenceSubscription, ev PresenceEvent) {
			if ev.AttendeeID != sc.cfg.AttendeeID || !ev.Present {
				return
			}
			// Unsubscribing here, inside the handler, is part of the
			// channel contract.
			sc.presence.Unsubscribe(sub)
			once.Do(func() { close(present) })
		})
		defer sc.presence.Unsubscribe(sub)

		timeout := sc.cfg.AttendeePresenceTimeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-present:
			return nil
		case <-timer.C:
			return status.NewError(status.NoAttendeePresent, "WaitForAttendeePresence", nil)
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// newCleanupTask tears down the attempt's connections best-effort: leave
// signaling, close the transport, close the peer connection. It never
// fails; teardown problems are logged and swallowed so the session always
// makes progress toward a terminal state.
func newCleanupTask(sc *Context, leave bool) task.Task {
	return task.New("CleanRestartOrStopConnection", func(ctx context.Context) error {
		if client := sc.SignalingClient; client != nil {
			if leave {
				client.SendLeave()
			}
			client.Close(ctx)
			sc.SignalingClient = nil
		}
		if pc := sc.Peer; pc != nil {
			if err := pc.Close(); err != nil {
				sc.cfg.logger().Debug("peer connection close failed", slog.String("error", err.Error()))
			}
			sc.Peer = nil
		}
		sc.LocalOffer = ""
		sc.RemoteAnswer = ""
		sc.IndexSources = nil
		return nil
	})
}
