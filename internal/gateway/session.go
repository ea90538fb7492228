package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/jobbid/internal/domain"
	"github.com/SirClappington/jobbid/internal/hub"
)

// Client frame types.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameBidSubmit   = "bid.submit"
	frameBidAccept   = "bid.accept"
)

// Server frame types besides the event types.
const (
	frameAck    = "ack"
	frameError  = "error"
	frameResync = "resync"
)

type clientFrame struct {
	Type   string  `json:"type"`
	Ref    string  `json:"ref,omitempty"`
	JobID  string  `json:"jobId,omitempty"`
	BidID  string  `json:"bidId,omitempty"`
	Amount float64 `json:"amount,omitempty"`
}

// serverFrame is one JSON message written to the client:
//
//   - "ack": a request succeeded (Ref echoed; Job or Bid populated)
//   - "error": a request failed (Ref, Kind, Message)
//   - "bid.created", "bid.accepted": a change to a subscribed job
//     (JobID, Seq, Bid)
//   - "resync": events were dropped; refetch subscribed jobs
type serverFrame struct {
	Type    string      `json:"type"`
	Ref     string      `json:"ref,omitempty"`
	JobID   string      `json:"jobId,omitempty"`
	Seq     int64       `json:"seq,omitempty"`
	Job     *domain.Job `json:"job,omitempty"`
	Bid     *domain.Bid `json:"bid,omitempty"`
	Kind    domain.Kind `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`
}

func eventFrame(ev domain.Event) serverFrame {
	bid := ev.Bid
	return serverFrame{Type: string(ev.Type), JobID: ev.JobID, Seq: ev.Seq, Bid: &bid}
}

func errorFrame(ref string, err error) serverFrame {
	f := serverFrame{Type: frameError, Ref: ref, Kind: domain.KindOf(err), Message: "internal error"}
	var de *domain.Error
	if errors.As(err, &de) {
		f.Message = de.Message
	}
	return f
}

type session struct {
	gw        *Gateway
	principal domain.Principal
	ws        *websocket.Conn
	conn      *hub.Conn
	replies   chan serverFrame
	writerOut chan struct{}
	log       *zap.Logger
}

// readLoop handles client frames until the connection fails, then
// releases everything the session holds.
func (s *session) readLoop() {
	defer func() {
		s.gw.hub.Disconnect(s.conn)
		<-s.writerOut
		s.ws.Close()
		s.log.Debug("session closed")
	}()

	s.ws.SetReadLimit(s.gw.opts.ReadLimit)
	s.ws.SetReadDeadline(time.Now().Add(s.gw.opts.PongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(s.gw.opts.PongWait))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		s.ws.SetReadDeadline(time.Now().Add(s.gw.opts.PongWait))

		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.reply(errorFrame("", domain.Errorf(domain.KindValidation, "malformed frame")))
			continue
		}
		if !s.reply(s.handle(f)) {
			return
		}
	}
}

// reply queues f for the writer. It returns false once the writer is gone.
func (s *session) reply(f serverFrame) bool {
	select {
	case s.replies <- f:
		return true
	case <-s.writerOut:
		return false
	}
}

func (s *session) handle(f clientFrame) serverFrame {
	ctx, cancel := context.WithTimeout(context.Background(), s.gw.opts.RequestTimeout)
	defer cancel()

	switch f.Type {
	case frameSubscribe:
		if f.JobID == "" {
			return errorFrame(f.Ref, domain.Errorf(domain.KindValidation, "jobId is required"))
		}
		// Register before the snapshot so nothing written after the
		// snapshot is missed; the client drops events with seq <= the
		// snapshot's version.
		if !s.gw.hub.Subscribe(s.conn, f.JobID) {
			return errorFrame(f.Ref, domain.Errorf(domain.KindBusy, "connection is closing, reconnect to subscribe"))
		}
		job, err := s.gw.engine.GetJob(ctx, f.JobID)
		if err != nil {
			s.gw.hub.Unsubscribe(s.conn, f.JobID)
			return errorFrame(f.Ref, err)
		}
		return serverFrame{Type: frameAck, Ref: f.Ref, JobID: job.ID, Job: job}

	case frameUnsubscribe:
		s.gw.hub.Unsubscribe(s.conn, f.JobID)
		return serverFrame{Type: frameAck, Ref: f.Ref, JobID: f.JobID}

	case frameBidSubmit:
		bid, err := s.gw.engine.SubmitBid(ctx, s.principal, f.JobID, f.Amount)
		if err != nil {
			return errorFrame(f.Ref, err)
		}
		return serverFrame{Type: frameAck, Ref: f.Ref, JobID: f.JobID, Bid: bid}

	case frameBidAccept:
		job, err := s.gw.engine.AcceptBid(ctx, s.principal, f.JobID, f.BidID)
		if err != nil {
			return errorFrame(f.Ref, err)
		}
		return serverFrame{Type: frameAck, Ref: f.Ref, JobID: job.ID, Job: job}
	}
	return errorFrame(f.Ref, domain.Errorf(domain.KindValidation, "unknown frame type %q", f.Type))
}

// writeLoop is the only writer on the websocket.
func (s *session) writeLoop() {
	ticker := time.NewTicker(s.gw.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		close(s.writerOut)
		s.ws.Close()
	}()

	for {
		var err error
		select {
		case f := <-s.replies:
			err = s.write(f)
		case ev := <-s.conn.Events():
			err = s.write(eventFrame(ev))
		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(s.gw.opts.WriteWait))
			err = s.ws.WriteMessage(websocket.PingMessage, nil)
		case <-s.conn.Done():
			s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.gw.opts.WriteWait))
			return
		}
		if err == nil && s.conn.TakeResync() {
			err = s.write(serverFrame{Type: frameResync})
		}
		if err != nil {
			s.log.Debug("write failed", zap.Error(err))
			return
		}
	}
}

func (s *session) write(f serverFrame) error {
	s.ws.SetWriteDeadline(time.Now().Add(s.gw.opts.WriteWait))
	return s.ws.WriteJSON(f)
}
