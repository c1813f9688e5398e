package webrtc

import (
	"sync"
	"time"

	"rillnet/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// pollMissedTrackInterval is how often a VoiceChannelSession scans for
// remote tracks whose on-track callback never fired — pion occasionally
// drops the callback race on renegotiation under load, and a periodic
// sweep is cheaper than trying to make the callback itself airtight.
const pollMissedTrackInterval = 2 * time.Second

// VoiceChannelSession is the per-channel container of peer connections and
// track routers. Exactly one exists per channel with at least one
// connected user; it is torn down the moment it becomes empty.
type VoiceChannelSession struct {
	channelID domain.ChannelID

	mu              sync.RWMutex
	peerConnections map[domain.UserID]*webrtc.PeerConnection
	trackRouters    map[domain.UserID]map[domain.TrackType]*TrackRouter
	screenSubs      map[domain.UserID]map[domain.UserID]struct{} // owner -> subscribers

	stopPoll chan struct{}
	logger   *zap.SugaredLogger

	// onMissedTrack is invoked by the poll loop for a remote track that has
	// no corresponding router yet. The manager sets this once, right after
	// construction, to the same handling path its on-track callback uses.
	onMissedTrack func(userID domain.UserID, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

func newVoiceChannelSession(channelID domain.ChannelID, logger *zap.SugaredLogger) *VoiceChannelSession {
	s := &VoiceChannelSession{
		channelID:       channelID,
		peerConnections: make(map[domain.UserID]*webrtc.PeerConnection),
		trackRouters:    make(map[domain.UserID]map[domain.TrackType]*TrackRouter),
		screenSubs:      make(map[domain.UserID]map[domain.UserID]struct{}),
		stopPoll:        make(chan struct{}),
		logger:          logger,
	}
	go s.pollMissedTracks()
	return s
}

func (s *VoiceChannelSession) ChannelID() domain.ChannelID { return s.channelID }

func (s *VoiceChannelSession) setPeerConnection(userID domain.UserID, pc *webrtc.PeerConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerConnections[userID] = pc
}

func (s *VoiceChannelSession) GetPeerConnection(userID domain.UserID) (*webrtc.PeerConnection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pc, ok := s.peerConnections[userID]
	return pc, ok
}

// GetPublishers returns every user with at least one active track router.
func (s *VoiceChannelSession) GetPublishers() []domain.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	publishers := make([]domain.UserID, 0, len(s.trackRouters))
	for userID, byType := range s.trackRouters {
		if len(byType) > 0 {
			publishers = append(publishers, userID)
		}
	}
	return publishers
}

// GetUsers returns every user with an open peer connection in this session.
func (s *VoiceChannelSession) GetUsers() []domain.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.UserID, 0, len(s.peerConnections))
	for userID := range s.peerConnections {
		users = append(users, userID)
	}
	return users
}

func (s *VoiceChannelSession) GetUserRouters(userID domain.UserID) []*TrackRouter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byType, ok := s.trackRouters[userID]
	if !ok {
		return nil
	}
	routers := make([]*TrackRouter, 0, len(byType))
	for _, r := range byType {
		routers = append(routers, r)
	}
	return routers
}

func (s *VoiceChannelSession) GetUserRouterByType(userID domain.UserID, trackType domain.TrackType) (*TrackRouter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byType, ok := s.trackRouters[userID]
	if !ok {
		return nil, false
	}
	r, ok := byType[trackType]
	return r, ok
}

// AddTrackRouter registers a new router for this publisher/track type,
// replacing any prior router for the same pair (the caller is responsible
// for stopping the replaced router, never returned here since add is
// always called with a freshly observed on-track event).
func (s *VoiceChannelSession) AddTrackRouter(userID domain.UserID, router *TrackRouter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType, ok := s.trackRouters[userID]
	if !ok {
		byType = make(map[domain.TrackType]*TrackRouter)
		s.trackRouters[userID] = byType
	}
	byType[router.TrackType()] = router
}

// RemoveUserRouters removes and returns every router published by userID,
// so the caller can Stop() them outside the session lock.
func (s *VoiceChannelSession) RemoveUserRouters(userID domain.UserID) []*TrackRouter {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType, ok := s.trackRouters[userID]
	if !ok {
		return nil
	}
	removed := make([]*TrackRouter, 0, len(byType))
	for _, r := range byType {
		removed = append(removed, r)
	}
	delete(s.trackRouters, userID)
	return removed
}

// RemoveUser tears down userID's peer connection entry, its published
// routers (returned for the caller to stop), every subscriber presence in
// other users' routers, and its screen-subscription bookkeeping — in that
// order.
func (s *VoiceChannelSession) RemoveUser(userID domain.UserID) (pc *webrtc.PeerConnection, removedRouters []*TrackRouter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc = s.peerConnections[userID]
	delete(s.peerConnections, userID)

	if byType, ok := s.trackRouters[userID]; ok {
		for _, r := range byType {
			removedRouters = append(removedRouters, r)
		}
		delete(s.trackRouters, userID)
	}

	for _, byType := range s.trackRouters {
		for _, r := range byType {
			r.RemoveSubscriber(userID)
		}
	}

	s.removeUserScreenSubscriptionsLocked(userID)

	return pc, removedRouters
}

func (s *VoiceChannelSession) SubscribeToScreen(owner, subscriber domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, ok := s.screenSubs[owner]
	if !ok {
		subs = make(map[domain.UserID]struct{})
		s.screenSubs[owner] = subs
	}
	subs[subscriber] = struct{}{}
}

func (s *VoiceChannelSession) UnsubscribeFromScreen(owner, subscriber domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs, ok := s.screenSubs[owner]; ok {
		delete(subs, subscriber)
	}
}

func (s *VoiceChannelSession) IsSubscribedToScreen(owner, subscriber domain.UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs, ok := s.screenSubs[owner]
	if !ok {
		return false
	}
	_, ok = subs[subscriber]
	return ok
}

func (s *VoiceChannelSession) GetScreenSubscribers(owner domain.UserID) []domain.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs, ok := s.screenSubs[owner]
	if !ok {
		return nil
	}
	result := make([]domain.UserID, 0, len(subs))
	for userID := range subs {
		result = append(result, userID)
	}
	return result
}

// removeUserScreenSubscriptionsLocked drops userID both as an owner (along
// with every subscriber entry under it) and as a subscriber of any other
// owner's screen share. Must be called with s.mu held.
func (s *VoiceChannelSession) removeUserScreenSubscriptionsLocked(userID domain.UserID) {
	delete(s.screenSubs, userID)
	for _, subs := range s.screenSubs {
		delete(subs, userID)
	}
}

// IsEmpty reports whether this session has no remaining peer connections
// and should be torn down by its owning manager.
func (s *VoiceChannelSession) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peerConnections) == 0
}

// Close stops every track router and the missed-track poll loop. It does
// not close peer connections; the manager does that once per removed user
// as they leave, and any stragglers are closed by the caller tearing down
// the session.
func (s *VoiceChannelSession) Close() {
	close(s.stopPoll)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, byType := range s.trackRouters {
		for _, r := range byType {
			r.Stop()
		}
	}
}

// pollMissedTracks periodically scans each open peer connection's
// receivers for a remote track that never produced an on-track callback,
// constructing the router late rather than leaving that publication
// invisible to every subscriber.
func (s *VoiceChannelSession) pollMissedTracks() {
	ticker := time.NewTicker(pollMissedTrackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopPoll:
			return
		case <-ticker.C:
			s.scanForMissedTracks()
		}
	}
}

func (s *VoiceChannelSession) scanForMissedTracks() {
	s.mu.RLock()
	type pcEntry struct {
		userID domain.UserID
		pc     *webrtc.PeerConnection
	}
	entries := make([]pcEntry, 0, len(s.peerConnections))
	for userID, pc := range s.peerConnections {
		entries = append(entries, pcEntry{userID, pc})
	}
	s.mu.RUnlock()

	for _, entry := range entries {
		for _, receiver := range entry.pc.GetReceivers() {
			track := receiver.Track()
			if track == nil {
				continue
			}
			_, trackType, err := domain.ParseStreamID(track.StreamID())
			if err != nil {
				trackType = domain.TrackTypeWebcam
			}
			if _, ok := s.GetUserRouterByType(entry.userID, trackType); ok {
				continue
			}
			s.logger.Debugw("missed-track poll found unrouted remote track",
				"channel", s.channelID,
				"user", entry.userID,
			)
			if s.onMissedTrack != nil {
				s.onMissedTrack(entry.userID, track, receiver)
			}
		}
	}
}
