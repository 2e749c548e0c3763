package socket

import (
	"context"
	"errors"
	"time"

	"vibin_video/helpers"

	socketio "github.com/googollee/go-socket.io"
	"go.uber.org/zap"
)

const namespace = "/"

// MembershipChecker decides whether a participant may watch a session.
type MembershipChecker interface {
	IsMember(ctx context.Context, participantID, sessionID string) error
}

type watchRequest struct {
	SessionID string `json:"sessionId"`
}

type nudge struct {
	SessionID string `json:"sessionId"`
	ID        int64  `json:"id"`
}

// NudgeServer tells watching clients that a signal is waiting so they poll right away.
// The signal itself is still fetched over HTTP.
type NudgeServer struct {
	server  *socketio.Server
	members MembershipChecker
	logger  *zap.Logger
}

// NewNudgeServer initializes the Socket.IO server and its event handlers
func NewNudgeServer(members MembershipChecker, logger *zap.Logger) *NudgeServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ns := &NudgeServer{server: socketio.NewServer(nil), members: members, logger: logger}

	ns.server.OnConnect(namespace, func(c socketio.Conn) error {
		participantID := c.RemoteHeader().Get(helpers.ParticipantHeader)
		if participantID == "" {
			return errors.New("unauthorized")
		}
		c.SetContext(participantID)
		logger.Debug("✅ socket connected", zap.String("socket", c.ID()), zap.String("participant", participantID))
		return nil
	})

	ns.server.OnEvent(namespace, "watch", func(c socketio.Conn, req watchRequest) string {
		participantID, _ := c.Context().(string)
		room, err := ns.watchRoom(participantID, req.SessionID)
		if err != nil {
			logger.Info("❌ watch rejected", zap.String("participant", participantID), zap.String("session", req.SessionID), zap.Error(err))
			return err.Error()
		}
		c.Join(room)
		return "ok"
	})

	ns.server.OnError(namespace, func(c socketio.Conn, err error) {
		logger.Debug("socket error", zap.Error(err))
	})

	ns.server.OnDisconnect(namespace, func(c socketio.Conn, reason string) {
		logger.Debug("socket disconnected", zap.String("socket", c.ID()), zap.String("reason", reason))
	})

	return ns
}

func (ns *NudgeServer) watchRoom(participantID, sessionID string) (string, error) {
	if participantID == "" {
		return "", errors.New("unauthorized")
	}
	if sessionID == "" {
		return "", errors.New("sessionId is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ns.members.IsMember(ctx, participantID, sessionID); err != nil {
		return "", err
	}
	return room(sessionID, participantID), nil
}

func room(sessionID, participantID string) string {
	return sessionID + "#" + participantID
}

// SignalAppended nudges the recipient's room.
func (ns *NudgeServer) SignalAppended(sessionID, toParticipantID string, signalID int64) {
	ns.server.BroadcastToRoom(namespace, room(sessionID, toParticipantID), "signal", nudge{SessionID: sessionID, ID: signalID})
}

// Handler serves the Socket.IO transport
func (ns *NudgeServer) Handler() *socketio.Server {
	return ns.server
}

// Serve runs the engine loop until Close
func (ns *NudgeServer) Serve() {
	if err := ns.server.Serve(); err != nil {
		ns.logger.Error("❌ socket server stopped", zap.Error(err))
	}
}

func (ns *NudgeServer) Close() error {
	return ns.server.Close()
}
