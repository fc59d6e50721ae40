package peer

import (
	"fmt"

	"tutorcall/internal/model"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/webrtc/v4"
)

// Sender is the outgoing side of a track; screen share swaps what it carries
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// PeerConnection is the part of *webrtc.PeerConnection the driver uses
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	SignalingState() webrtc.SignalingState
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (Sender, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

// Factory opens a peer connection for one remote participant
type Factory func(cfg webrtc.Configuration) (PeerConnection, error)

type pionConn struct {
	*webrtc.PeerConnection
}

func (c pionConn) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	sender, err := c.PeerConnection.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go drainRTCP(sender)
	return sender, nil
}

// drainRTCP reads incoming RTCP so interceptors (NACK) keep working
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// NewAPI builds a pion API with the default codecs (VP8, Opus), NACK
// generation/response and periodic keyframe requests on received video
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responder)

	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generator)

	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	i.Add(pli)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
	), nil
}

// PionFactory opens real peer connections from api
func PionFactory(api *webrtc.API) Factory {
	return func(cfg webrtc.Configuration) (PeerConnection, error) {
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}
		return pionConn{pc}, nil
	}
}

// Configuration turns the STUN servers handed out at join into a pion config
func Configuration(servers []model.ICEServer) webrtc.Configuration {
	var ice []webrtc.ICEServer
	for _, s := range servers {
		ice = append(ice, webrtc.ICEServer{URLs: s.URLs})
	}
	return webrtc.Configuration{
		ICEServers:   ice,
		BundlePolicy: webrtc.BundlePolicyMaxBundle,
	}
}
